// Package gemini generates group welcome texts.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const welcomePrompt = `Generate a friendly and engaging welcome message for a new group chat.
The message should:
- Be warm and welcoming
- Encourage members to introduce themselves
- Keep it concise (2-3 sentences)
- Be professional but friendly
- End with a question to spark conversation`

// FallbackWelcome is used when no API key is configured
const FallbackWelcome = "Welcome to your new group! Take a moment to introduce yourselves and share what brought you here. What's one thing you're curious to learn about each other?"

var errEmptyResponse = errors.New("gemini returned no content")

// Client wraps the Gemini API
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewClient creates a new Gemini client for the given model
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	m := client.GenerativeModel(model)
	m.SetTemperature(0.8)

	return &Client{client: client, model: m}, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
}

// GenerateWelcomeMessage asks the model for a short group greeting
func (c *Client) GenerateWelcomeMessage(ctx context.Context) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(welcomePrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate welcome message: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

// Static always returns the same greeting
type Static struct {
	Text string
}

// GenerateWelcomeMessage returns the configured text, or FallbackWelcome
func (s Static) GenerateWelcomeMessage(context.Context) (string, error) {
	if s.Text == "" {
		return FallbackWelcome, nil
	}
	return s.Text, nil
}
