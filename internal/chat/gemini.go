package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// Compile-time interface check.
var _ domain.ChatProvider = (*GeminiClient)(nil)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiClient answers through the Google Generative AI API.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    *logger.Logger
}

// NewGeminiClient creates a Gemini chat provider.
func NewGeminiClient(ctx context.Context, apiKey, model string, log *logger.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("chat: gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{client: client, model: model, log: log}, nil
}

// Reply flattens the history into a prompt and asks for a completion.
func (c *GeminiClient) Reply(ctx context.Context, history []domain.ChatMessage) (string, error) {
	var prompt strings.Builder
	prompt.WriteString(systemPrompt)
	prompt.WriteString("\n\n")
	for _, m := range history {
		fmt.Fprintf(&prompt, "%s: %s\n", m.Role, m.Text)
	}
	prompt.WriteString(domain.RoleAssistant + ":")

	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return "", fmt.Errorf("chat: gemini generate: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("chat: gemini returned no candidates")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}

	reply := strings.TrimSpace(out.String())
	if reply == "" {
		return "", fmt.Errorf("chat: gemini returned empty text")
	}
	c.log.Debug("chat: gemini reply (%d chars)", len(reply))
	return reply, nil
}

// Close releases the underlying API client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}
