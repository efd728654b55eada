package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HFEmbedder generates embeddings through the hosted HuggingFace
// feature-extraction pipeline.
type HFEmbedder struct {
	url    string
	token  string
	client *http.Client
}

var _ Embedder = (*HFEmbedder)(nil)

// NewHuggingFace creates an embedder for the pipeline at url.
func NewHuggingFace(url, token string) (*HFEmbedder, error) {
	if url == "" || token == "" {
		return nil, fmt.Errorf("%w: URL and API token are required", ErrInvalidConfig)
	}
	return &HFEmbedder{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: hfTimeout},
	}, nil
}

type hfEmbedRequest struct {
	Inputs []string `json:"inputs"`
}

// EmbedDocuments implements Embedder.
func (e *HFEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyInput
		}
	}

	headers := map[string]string{"Authorization": "Bearer " + e.token}
	data, err := postWithRetry(ctx, e.client, e.url, headers, hfEmbedRequest{Inputs: texts})
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	if err := json.Unmarshal(data, &vectors); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if len(v) == 0 {
			return nil, ErrEmbeddingFailed
		}
	}
	return vectors, nil
}

// EmbedQuery implements Embedder.
func (e *HFEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
