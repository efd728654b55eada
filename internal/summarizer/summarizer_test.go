package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cortexd/internal/llm"
)

type fakeClient struct {
	response string
	err      error
	gotMsgs  []llm.Message
	gotOpts  llm.Options
}

func (f *fakeClient) Chat(_ context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	f.gotMsgs = msgs
	f.gotOpts = opts
	return f.response, f.err
}

func TestSummarize(t *testing.T) {
	client := &fakeClient{response: `{"summary": "They debugged a race condition.", "topics": ["go", "concurrency", "debugging"]}`}
	s := New(client, nil)

	result, err := s.Summarize(context.Background(), []Message{
		{Role: "user", Content: "my goroutines deadlock"},
		{Role: "assistant", Content: "check your channel directions"},
	})
	require.NoError(t, err)
	assert.Equal(t, "They debugged a race condition.", result.Summary)
	assert.Equal(t, []string{"go", "concurrency", "debugging"}, result.Topics)

	require.Len(t, client.gotMsgs, 2)
	assert.Equal(t, "system", client.gotMsgs[0].Role)
	assert.Contains(t, client.gotMsgs[1].Content, "USER: my goroutines deadlock")
	assert.Contains(t, client.gotMsgs[1].Content, "ASSISTANT: check your channel directions")
	assert.True(t, client.gotOpts.JSONMode)
	assert.InDelta(t, 0.3, client.gotOpts.Temperature, 1e-9)
	assert.Equal(t, 500, client.gotOpts.MaxTokens)
}

func TestSummarizeTopicHandling(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{
			name:     "topics capped at five",
			response: `{"summary": "s", "topics": ["a", "b", "c", "d", "e", "f", "g"]}`,
			want:     []string{"a", "b", "c", "d", "e"},
		},
		{
			name:     "single string topic",
			response: `{"summary": "s", "topics": "docker"}`,
			want:     []string{"docker"},
		},
		{
			name:     "empty topics fall back",
			response: `{"summary": "s", "topics": []}`,
			want:     []string{"General Discussion"},
		},
		{
			name:     "blank topics dropped",
			response: `{"summary": "s", "topics": ["  ", "real"]}`,
			want:     []string{"real"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeClient{response: tt.response}, nil)
			result, err := s.Summarize(context.Background(), []Message{{Role: "user", Content: "x"}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Topics)
		})
	}
}

func TestSummarizeErrors(t *testing.T) {
	s := New(&fakeClient{}, nil)
	_, err := s.Summarize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyConversation)

	s = New(&fakeClient{err: errors.New("provider down")}, nil)
	_, err = s.Summarize(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.ErrorContains(t, err, "provider down")

	s = New(&fakeClient{response: "not json"}, nil)
	_, err = s.Summarize(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.ErrorContains(t, err, "failed to parse")

	s = New(&fakeClient{response: `{"topics": ["a"]}`}, nil)
	_, err = s.Summarize(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.ErrorContains(t, err, "missing summary")
}

func TestFormatConversationTruncates(t *testing.T) {
	long := strings.Repeat("x", 1200)
	text := formatConversation([]Message{{Role: "user", Content: long}})
	assert.Len(t, text, len("USER: ")+maxMessageChars+3)
	assert.True(t, strings.HasSuffix(text, "..."))
}

func TestFallbackResult(t *testing.T) {
	r := FallbackResult(7)
	assert.Equal(t, "Conversation with 7 messages", r.Summary)
	assert.Empty(t, r.Topics)
}
