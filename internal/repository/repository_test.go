package repository

import (
	"testing"

	"mindsync-backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestParseUserIDs(t *testing.T) {
	a := uuid.MustParse("6f1c2a4e-8d3b-4c1e-9a7f-2b5d8e0c1f34")
	b := uuid.MustParse("0b9e7d6c-5a4f-4e3d-8c2b-1a0f9e8d7c6b")

	tests := []struct {
		name string
		in   []string
		want []uuid.UUID
	}{
		{name: "nil", in: nil, want: []uuid.UUID{}},
		{name: "valid ids keep order", in: []string{a.String(), b.String()}, want: []uuid.UUID{a, b}},
		{name: "invalid ids are skipped", in: []string{"", "user-1", b.String()}, want: []uuid.UUID{b}},
		{name: "duplicates collapse", in: []string{a.String(), a.String(), "6F1C2A4E-8D3B-4C1E-9A7F-2B5D8E0C1F34"}, want: []uuid.UUID{a}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseUserIDs(tt.in))
		})
	}
}

func TestClaimResult(t *testing.T) {
	assert.NoError(t, claimResult(true, true))
	assert.ErrorIs(t, claimResult(false, false), models.ErrGroupNotFound)
	assert.ErrorIs(t, claimResult(false, true), models.ErrAlreadyWelcomed)
}
