package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaClient talks to a local Ollama runtime's /api/chat endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a client for the runtime at baseURL.
func NewOllama(baseURL, model string, timeout time.Duration) (*OllamaClient, error) {
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("%w: base URL and model are required", ErrInvalidConfig)
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  newHTTPClient(timeout),
	}, nil
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Chat implements Client.
func (c *OllamaClient) Chat(ctx context.Context, msgs []Message, opts Options) (string, error) {
	req := ollamaChatRequest{
		Model:    c.model,
		Messages: msgs,
		Options:  map[string]any{"temperature": opts.Temperature},
	}
	if opts.JSONMode {
		req.Format = "json"
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}

	data, err := postJSON(ctx, c.client, c.baseURL+"/api/chat", nil, req, attemptsFor(opts))
	if err != nil {
		return "", err
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
