package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// Compile-time interface check.
var _ domain.ChatProvider = (*OpenAIClient)(nil)

// systemPrompt frames every conversation.
const systemPrompt = "You are a helpful home assistant. Answer briefly: " +
	"your replies are read out loud, so keep them to a few spoken sentences " +
	"with no markdown or lists."

// ── Wire types ───────────────────────────────────────────────────

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type payload struct {
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Model       string        `json:"model,omitempty"`
}

type apiResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ── Client ───────────────────────────────────────────────────────

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAIClient)

// WithModel overrides the default model name.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) { c.model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) OpenAIOption {
	return func(c *OpenAIClient) { c.temperature = t }
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *OpenAIClient) { c.maxTokens = n }
}

// WithHTTPTimeout sets the HTTP client timeout.
func WithHTTPTimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAIClient) { c.http.Timeout = d }
}

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	topP        float64
	maxTokens   int
	http        *http.Client
	log         *logger.Logger
}

// NewOpenAIClient creates a chat client.
//   - endpoint: full URL to the chat/completions resource
//   - apiKey:   the subscription / API key
func NewOpenAIClient(endpoint, apiKey string, log *logger.Logger, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		endpoint:    endpoint,
		apiKey:      apiKey,
		temperature: 0.7,
		topP:        0.95,
		maxTokens:   300,
		http:        &http.Client{Timeout: 30 * time.Second},
		log:         log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reply sends the history and returns the assistant's answer.
func (c *OpenAIClient) Reply(ctx context.Context, history []domain.ChatMessage) (string, error) {
	messages := make([]wireMessage, 0, len(history)+1)
	messages = append(messages, wireMessage{Role: domain.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, wireMessage{Role: m.Role, Content: m.Text})
	}

	body := payload{
		Messages:    messages,
		Temperature: c.temperature,
		TopP:        c.topP,
		MaxTokens:   c.maxTokens,
		Model:       c.model,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("chat: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug("chat: POST %s (%d bytes)", c.endpoint, len(jsonData))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("chat: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat: API %s\n%s", resp.Status, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("chat: unmarshal response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat: empty response (no choices)")
	}

	reply := result.Choices[0].Message.Content
	c.log.Debug("chat: reply (%d chars)", len(reply))
	return reply, nil
}
