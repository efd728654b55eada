// Package embeddings generates dense vectors for conversations and queries.
//
// Two providers are supported: a local Ollama runtime and the hosted
// HuggingFace feature-extraction API. Both return 768-dimension vectors with
// the default models.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
)

// Sentinel errors for embedding operations.
var (
	// ErrEmptyInput is returned when there is no text to embed.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates missing client configuration.
	ErrInvalidConfig = errors.New("invalid embedder configuration")

	// ErrEmbeddingFailed indicates the provider returned no usable vector.
	ErrEmbeddingFailed = errors.New("failed to generate embedding")
)

const (
	maxAttempts = 3

	// Deadlines per provider: the local runtime answers fast, the hosted
	// API can cold-start models.
	ollamaTimeout = 60 * time.Second
	hfTimeout     = 120 * time.Second
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

func postWithRetry(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			serr := fmt.Errorf("embedding provider returned status %d", resp.StatusCode)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, serr
			}
			return nil, backoff.Permanent(serr)
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxAttempts))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRetryableUpstream, err, "embedding request failed")
	}
	return data, nil
}
