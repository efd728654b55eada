// Package summarizer derives a short summary and topic tags for a
// conversation through the configured chat provider.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/llm"
)

// ErrEmptyConversation is returned when there are no messages to summarize.
var ErrEmptyConversation = errors.New("cannot summarize empty conversation")

const (
	// Per-message truncation when formatting the transcript for the model.
	maxMessageChars = 1000

	maxTopics = 5

	systemPrompt = `You are a helpful assistant that analyzes AI chat conversations.
Your task is to:
1. Generate a concise 2-3 sentence summary of the conversation
2. Extract 3-5 main topics or themes discussed

Return your response as JSON with this exact structure:
{
  "summary": "2-3 sentence summary here",
  "topics": ["topic1", "topic2", "topic3"]
}

Keep topics short (1-3 words each) and specific.
Return ONLY valid JSON, no other text.`
)

// Message is one conversation turn to summarize.
type Message struct {
	Role    string
	Content string
}

// Result carries the model's summary and topics.
type Result struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// Service generates summaries through an llm.Client.
type Service struct {
	client llm.Client
	logger *zap.Logger
}

// New creates a summarizer on top of client.
func New(client llm.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, logger: logger}
}

// Summarize produces a 2-3 sentence summary and up to five topics. Topics
// fall back to "General Discussion" when the model returns none.
func (s *Service) Summarize(ctx context.Context, messages []Message) (*Result, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyConversation
	}

	userPrompt := fmt.Sprintf(
		"Analyze this conversation and provide a summary and topics:\n\n%s\n\nReturn ONLY valid JSON with %q and %q fields.",
		formatConversation(messages), "summary", "topics")

	content, err := s.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}, llm.Options{Temperature: 0.3, MaxTokens: 500, JSONMode: true})
	if err != nil {
		return nil, err
	}

	result, err := parseResponse(content)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("conversation summarized",
		zap.Int("messages", len(messages)),
		zap.Strings("topics", result.Topics))
	return result, nil
}

// formatConversation renders the transcript as "ROLE: content" blocks with
// long messages truncated.
func formatConversation(messages []Message) string {
	blocks := make([]string, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if len(content) > maxMessageChars {
			content = content[:maxMessageChars] + "..."
		}
		blocks = append(blocks, strings.ToUpper(m.Role)+": "+content)
	}
	return strings.Join(blocks, "\n\n")
}

func parseResponse(content string) (*Result, error) {
	var raw struct {
		Summary string          `json:"summary"`
		Topics  json.RawMessage `json:"topics"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}
	if raw.Summary == "" {
		return nil, fmt.Errorf("summary response missing summary field")
	}

	result := &Result{Summary: strings.TrimSpace(raw.Summary)}

	// Topics should be a string array, but models occasionally emit a
	// single string.
	var topics []string
	if len(raw.Topics) > 0 {
		if err := json.Unmarshal(raw.Topics, &topics); err != nil {
			var single string
			if err := json.Unmarshal(raw.Topics, &single); err == nil && single != "" {
				topics = []string{single}
			}
		}
	}

	cleaned := make([]string, 0, maxTopics)
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
		if len(cleaned) == maxTopics {
			break
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{"General Discussion"}
	}
	result.Topics = cleaned
	return result, nil
}

// FallbackResult is the summary recorded when the provider is unavailable:
// ingestion still succeeds, just without enrichment.
func FallbackResult(messageCount int) *Result {
	return &Result{
		Summary: fmt.Sprintf("Conversation with %d messages", messageCount),
		Topics:  []string{},
	}
}
