// Package promptgen synthesizes a reusable system prompt from selected
// conversations, so their context can seed a fresh LLM session.
package promptgen

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/llm"
)

// ErrNoConversations is returned when Generate receives nothing to work with.
var ErrNoConversations = errors.New("no conversations to generate from")

const systemPrompt = `You are an expert prompt engineer. The user will give you summaries of their previous AI conversations. Your job is to write a single, clear system prompt that a user can paste at the start of a **new** ChatGPT session so the assistant has all the relevant background.

Guidelines:
- Speak in second person ("You are an assistant that…").
- Weave the key facts, decisions, and preferences from the summaries into the prompt naturally.
- Keep it between 150-400 words — concise but thorough.
- Do NOT include JSON, code fences, or markdown headers.
- Output ONLY the system prompt text, nothing else.`

// ConversationContext is the material contributed by one conversation.
type ConversationContext struct {
	Title   string
	Topics  []string
	Summary string
}

// Service generates prompts through an llm.Client.
type Service struct {
	client llm.Client
	logger *zap.Logger
}

// New creates a prompt generator on top of client.
func New(client llm.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, logger: logger}
}

// Generate synthesizes one system prompt from the given conversations.
func (s *Service) Generate(ctx context.Context, convs []ConversationContext) (string, error) {
	if len(convs) == 0 {
		return "", ErrNoConversations
	}

	blocks := make([]string, 0, len(convs))
	for _, c := range convs {
		topics := "general"
		if len(c.Topics) > 0 {
			topics = strings.Join(c.Topics, ", ")
		}
		summary := c.Summary
		if summary == "" {
			summary = "No summary available"
		}
		blocks = append(blocks, "Title: "+c.Title+"\nTopics: "+topics+"\nSummary: "+summary)
	}

	userPrompt := "Here are summaries of conversations the user wants to carry forward:\n\n" +
		strings.Join(blocks, "\n\n---\n\n") +
		"\n\nWrite the system prompt now."

	content, err := s.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}, llm.Options{Temperature: 0.5, MaxTokens: 800})
	if err != nil {
		return "", err
	}

	s.logger.Debug("prompt generated", zap.Int("conversations", len(convs)))
	return content, nil
}
