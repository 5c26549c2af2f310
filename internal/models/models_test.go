package models

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "alice", DisplayName(strPtr("alice@example.com")))
	assert.Equal(t, "bob", DisplayName(strPtr("bob")))
	assert.Equal(t, DefaultSenderName, DisplayName(nil))
	assert.Equal(t, DefaultSenderName, DisplayName(strPtr("")))
	assert.Equal(t, DefaultSenderName, DisplayName(strPtr("@example.com")))
}

func TestAvatar(t *testing.T) {
	assert.Equal(t, PlaceholderAvatar, Avatar(nil))
	assert.Equal(t, PlaceholderAvatar, Avatar(strPtr("")))
	assert.Equal(t, "https://img/1.png", Avatar(strPtr("https://img/1.png")))
}

func TestGroupIsArchived(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	t.Run("no expiry is always active", func(t *testing.T) {
		g := Group{}
		assert.False(t, g.IsArchived(now))
	})

	t.Run("expiry equal to now is archived", func(t *testing.T) {
		g := Group{ExpiresAt: &now}
		assert.True(t, g.IsArchived(now))
	})

	t.Run("one unit before expiry is active", func(t *testing.T) {
		g := Group{ExpiresAt: &now}
		assert.False(t, g.IsArchived(now.Add(-time.Nanosecond)))
	})

	t.Run("summary follows the same rule", func(t *testing.T) {
		past := now.Add(-time.Hour)
		assert.True(t, (&GroupSummary{ExpiresAt: &past}).IsArchived(now))
		assert.False(t, (&GroupSummary{}).IsArchived(now))
	})
}

func TestTraitVectorSynonyms(t *testing.T) {
	var short, long TraitVector
	require.NoError(t, json.Unmarshal([]byte(`{"O":0.1,"C":0.2,"E":0.3,"A":0.4,"N":0.5}`), &short))
	require.NoError(t, json.Unmarshal([]byte(`{"openness":0.1,"conscientiousness":0.2,"extraversion":0.3,"agreeableness":0.4,"neuroticism":0.5}`), &long))

	assert.Equal(t, long, short)
	assert.Equal(t, 0.1, short[Openness])
	assert.Equal(t, 0.5, short[Neuroticism])
}

func TestTraitVectorLegacyWrapperAndUnknownKeys(t *testing.T) {
	var v TraitVector
	require.NoError(t, json.Unmarshal([]byte(`{"personality_results":{"O":0.9,"humor":1,"Agreeableness":0.3}}`), &v))
	assert.Len(t, v, 2)
	assert.Equal(t, 0.9, v[Openness])
	assert.Equal(t, 0.3, v[Agreeableness])
}

func TestTraitVectorMarshalUsesLongNames(t *testing.T) {
	data, err := json.Marshal(TraitVector{Extraversion: 0.7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"extraversion":0.7}`, string(data))
}

func TestTraitVectorValidate(t *testing.T) {
	assert.NoError(t, TraitVector{Openness: 0, Neuroticism: 1}.Validate())
	err := TraitVector{Openness: 1.2}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestParseTrait(t *testing.T) {
	tr, ok := ParseTrait(" e ")
	assert.True(t, ok)
	assert.Equal(t, Extraversion, tr)

	_, ok = ParseTrait("humor")
	assert.False(t, ok)
}

func TestDisplayImageURL(t *testing.T) {
	dataURL := "data:image/png;base64,iVBORw0KGgo="

	assert.Equal(t, "", DisplayImageURL(nil))
	assert.Equal(t, dataURL, DisplayImageURL(strPtr(dataURL)))
	assert.Equal(t, "https://cdn.example.com/a.png", DisplayImageURL(strPtr("https://cdn.example.com/a.png")))
	assert.Equal(t, dataURL, DisplayImageURL(strPtr(`\x`+hex.EncodeToString([]byte(dataURL)))))
	assert.Equal(t, "", DisplayImageURL(strPtr(`\xzz`)))
	assert.Equal(t, "", DisplayImageURL(strPtr("garbage")))
}
