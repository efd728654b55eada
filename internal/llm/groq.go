package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const groqChatURL = "https://api.groq.com/openai/v1/chat/completions"

// GroqClient talks to the hosted Groq chat-completions API, which follows
// the OpenAI wire format.
type GroqClient struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewGroq creates a client. url may be empty to use the public endpoint.
func NewGroq(url, apiKey, model string, timeout time.Duration) (*GroqClient, error) {
	if apiKey == "" || model == "" {
		return nil, fmt.Errorf("%w: API key and model are required", ErrInvalidConfig)
	}
	if url == "" {
		url = groqChatURL
	}
	return &GroqClient{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: newHTTPClient(timeout),
	}, nil
}

type groqChatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type groqChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat implements Client.
func (c *GroqClient) Chat(ctx context.Context, msgs []Message, opts Options) (string, error) {
	req := groqChatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode {
		req.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	data, err := postJSON(ctx, c.client, c.url, headers, req, attemptsFor(opts))
	if err != nil {
		return "", err
	}

	var resp groqChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
