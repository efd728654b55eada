// Package llm provides the chat-completion clients shared by the
// summarizer, the prompt generator, and the relevance gate.
//
// Two implementations exist: OllamaClient for a local runtime and GroqClient
// for the hosted OpenAI-compatible API. Transient failures (network errors,
// 429, 5xx) are retried with exponential backoff and jitter; after the
// attempt budget the error is classified RETRYABLE_UPSTREAM.
package llm

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

// Sentinel errors for chat clients.
var (
	// ErrEmptyResponse is returned when the model answers with no content.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrInvalidConfig indicates missing client configuration.
	ErrInvalidConfig = errors.New("invalid client configuration")
)

const maxAttempts = 3

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call.
type Options struct {
	// Temperature controls sampling randomness.
	Temperature float64

	// MaxTokens bounds the completion length. Zero means provider default.
	MaxTokens int

	// JSONMode asks the model to emit a single JSON object.
	JSONMode bool

	// NoRetry makes the call single-shot: transient failures surface
	// immediately instead of being retried.
	NoRetry bool
}

// attemptsFor returns the retry budget for one completion call.
func attemptsFor(opts Options) uint {
	if opts.NoRetry {
		return 1
	}
	return maxAttempts
}

// Client produces one completion for a conversation.
type Client interface {
	Chat(ctx context.Context, msgs []Message, opts Options) (string, error)
}

// statusError marks an HTTP failure so retry logic can distinguish client
// errors from transient ones.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.code, e.body)
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// postJSON runs one POST with up to attempts tries and decodes nothing;
// callers decode the returned body. Permanent failures (4xx other than 429)
// stop retrying immediately.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, attempts uint) ([]byte, error) {
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

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			serr := &statusError{code: resp.StatusCode, body: truncate(string(data), 200)}
			if retryable(resp.StatusCode) {
				return nil, serr
			}
			return nil, backoff.Permanent(serr)
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(attempts))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRetryableUpstream, err, "model request failed")
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
