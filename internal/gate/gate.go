// Package gate filters low-confidence search results before they reach
// clients. The gate asks a small LLM whether each memory is actually
// relevant to the query and blocks results whose confidence lands under the
// threshold.
//
// The gate fails open: any provider error, parse failure, or disabled
// configuration lets the result through.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/llm"
)

const promptTemplate = `Is this memory relevant to the user's query? Be strict - only approve truly relevant memories.

Query: %s
Memory Title: %s
Memory Summary: %s
Memory Topics: %s

Return JSON (no other text):
{"is_relevant": true/false, "confidence": 0.0-1.0, "reason": "brief explanation"}`

// Memory is the candidate under review.
type Memory struct {
	Title   string
	Summary string
	Topics  []string
}

// Decision is the gate's verdict for one memory.
type Decision struct {
	Relevant   bool
	Confidence float64
	Reason     string
}

// Guard checks search results against a relevance model.
type Guard struct {
	client    llm.Client
	threshold float64
	logger    *zap.Logger
}

// New creates a guard. A nil client disables gating (every check passes).
// The threshold is clamped to [0, 1].
func New(client llm.Client, threshold float64, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return &Guard{client: client, threshold: threshold, logger: logger}
}

// Enabled reports whether the guard will actually consult the model.
func (g *Guard) Enabled() bool { return g.client != nil }

// Check evaluates one memory against the query.
func (g *Guard) Check(ctx context.Context, query string, mem Memory) Decision {
	if g.client == nil {
		return Decision{Relevant: true, Confidence: 1.0, Reason: "Guard disabled"}
	}

	topics := "None"
	if len(mem.Topics) > 0 {
		topics = strings.Join(mem.Topics, ", ")
	}
	summary := mem.Summary
	if summary == "" {
		summary = "No summary available"
	}
	prompt := fmt.Sprintf(promptTemplate, query, mem.Title, summary, topics)

	content, err := g.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are a relevance guard. Only respond with valid JSON. Be strict."},
		{Role: "user", Content: prompt},
	}, llm.Options{JSONMode: true, NoRetry: true})
	if err != nil {
		g.logger.Warn("relevance check failed, allowing result", zap.Error(err))
		return Decision{Relevant: true, Confidence: 0.5, Reason: "Guard error: " + err.Error()}
	}

	var verdict struct {
		IsRelevant *bool   `json:"is_relevant"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &verdict); err != nil {
		g.logger.Warn("unparseable relevance verdict, allowing result",
			zap.String("content", truncate(content, 100)))
		return Decision{Relevant: true, Confidence: 0.5, Reason: "Parse error"}
	}

	relevant := verdict.IsRelevant == nil || *verdict.IsRelevant
	reason := verdict.Reason
	if reason == "" {
		reason = "No reason provided"
	}
	if verdict.Confidence < g.threshold {
		relevant = false
		reason = fmt.Sprintf("Below threshold (%.2f < %.2f): %s", verdict.Confidence, g.threshold, reason)
	}
	return Decision{Relevant: relevant, Confidence: verdict.Confidence, Reason: reason}
}

// stripFences unwraps a JSON object from markdown code fences, which some
// models emit despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
	} else {
		return s
	}
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
