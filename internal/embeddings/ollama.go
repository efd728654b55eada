package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OllamaEmbedder generates embeddings through a local Ollama runtime. The
// /api/embeddings endpoint takes one prompt per call, so document batches
// run sequentially.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllama creates an embedder for the runtime at baseURL.
func NewOllama(baseURL, model string) (*OllamaEmbedder, error) {
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("%w: base URL and model are required", ErrInvalidConfig)
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: ollamaTimeout},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedQuery implements Embedder.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	data, err := postWithRetry(ctx, e.client, e.baseURL+"/api/embeddings", nil, ollamaEmbedRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}

	var resp ollamaEmbedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, ErrEmbeddingFailed
	}
	return resp.Embedding, nil
}

// EmbedDocuments implements Embedder.
func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}
