package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
)

func TestOllamaChat(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "  token bucket  "},
		})
	}))
	defer srv.Close()

	c, err := NewOllama(srv.URL, "qwen2.5", time.Minute)
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{
		Temperature: 0.3,
		MaxTokens:   500,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "token bucket", out)
	assert.Equal(t, "qwen2.5", gotReq.Model)
	assert.Equal(t, "json", gotReq.Format)
	assert.False(t, gotReq.Stream)
	assert.EqualValues(t, 500, gotReq.Options["num_predict"])
}

func TestGroqChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		var req groqChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"summary": "x"}`}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewGroq(srv.URL, "key-123", "llama-3.3-70b-versatile", time.Minute)
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{JSONMode: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "x"}`, out)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "ok"},
		})
	}))
	defer srv.Close()

	c, err := NewOllama(srv.URL, "qwen2.5", time.Minute)
	require.NoError(t, err)

	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 3, calls.Load())
}

func TestExhaustedRetriesClassified(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewOllama(srv.URL, "qwen2.5", time.Minute)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindRetryableUpstream, apperr.KindOf(err))
	assert.EqualValues(t, maxAttempts, calls.Load())
}

func TestNoRetrySingleShot(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewOllama(srv.URL, "qwen2.5", time.Minute)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{NoRetry: true})
	require.Error(t, err)
	assert.Equal(t, apperr.KindRetryableUpstream, apperr.KindOf(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewGroq(srv.URL, "bad-key", "model", time.Minute)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": ""}})
	}))
	defer srv.Close()

	c, err := NewOllama(srv.URL, "qwen2.5", time.Minute)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewOllama("", "m", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewGroq("", "", "m", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
