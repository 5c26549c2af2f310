package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseText(t *testing.T) {
	t.Run("joins text parts", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello "), genai.Text("everyone! ")}},
			}},
		}
		text, err := responseText(resp)
		require.NoError(t, err)
		assert.Equal(t, "Hello everyone!", text)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := responseText(&genai.GenerateContentResponse{})
		assert.ErrorIs(t, err, errEmptyResponse)
	})

	t.Run("blank text", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text("  ")}}}},
		}
		_, err := responseText(resp)
		assert.ErrorIs(t, err, errEmptyResponse)
	})
}

func TestStatic(t *testing.T) {
	text, err := Static{}.GenerateWelcomeMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FallbackWelcome, text)

	text, err = Static{Text: "hi"}.GenerateWelcomeMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}
