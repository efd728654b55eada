// Package mcp exposes the memory system to LLM clients over the Model
// Context Protocol: two tools, search_memory and fetch_chat, served both
// through a JSON-RPC HTTP handler and a stdio transport.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/retrieval"
	"github.com/fyrsmithlabs/cortexd/internal/store"
)

// ServerName identifies this server to MCP clients.
const ServerName = "cortex-memory"

const toolPreviewLen = 300

// Tools executes the MCP tools against the in-process services.
type Tools struct {
	search *retrieval.Service
	store  *store.Store
	logger *zap.Logger
}

// NewTools wires the tool executors.
func NewTools(search *retrieval.Service, st *store.Store, logger *zap.Logger) *Tools {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tools{search: search, store: st, logger: logger}
}

// SearchMemory runs a semantic search and renders the results as markdown
// text for the calling model. Failures come back as text too: tool errors
// are conversation content, not protocol errors.
func (t *Tools) SearchMemory(ctx context.Context, query string, limit int) string {
	if limit <= 0 {
		limit = retrieval.DefaultLimit
	}

	resp, err := t.search.Search(ctx, query, retrieval.Options{Limit: limit})
	if err != nil {
		t.logger.Error("search_memory failed", zap.Error(err))
		return fmt.Sprintf("Error searching memory: %s", apperr.Message(err))
	}

	if len(resp.Results) == 0 {
		text := fmt.Sprintf("No conversations found matching '%s'. Try using different keywords or broader terms.", query)
		if resp.FilteredByGate > 0 {
			text += fmt.Sprintf("\n(%d result(s) filtered out by relevance gate)", resp.FilteredByGate)
		}
		return text
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant conversation(s) for '%s' (searched in %.0fms)\n", len(resp.Results), query, resp.SearchTimeMS)
	if resp.FilteredByGate > 0 {
		fmt.Fprintf(&b, "(%d result(s) filtered out by relevance gate)\n", resp.FilteredByGate)
	}
	b.WriteString("\n")

	blocks := make([]string, 0, len(resp.Results))
	for i, r := range resp.Results {
		var rb strings.Builder
		fmt.Fprintf(&rb, "**Result %d** (Relevance: %.2f)\n", i+1, r.Score)
		fmt.Fprintf(&rb, "- Conversation ID: %s\n", r.ConversationID)
		fmt.Fprintf(&rb, "- Title: %s\n", orDefault(r.Title, "Untitled"))
		fmt.Fprintf(&rb, "- Summary: %s\n", orDefault(r.Summary, "No summary available"))
		if len(r.Topics) > 0 {
			fmt.Fprintf(&rb, "- Topics: %s\n", strings.Join(r.Topics, ", "))
		}
		if r.ClusterName != "" {
			fmt.Fprintf(&rb, "- Cluster: %s\n", r.ClusterName)
		}
		if r.MessagePreview != "" {
			preview := r.MessagePreview
			if len(preview) > toolPreviewLen {
				preview = preview[:toolPreviewLen] + "..."
			}
			fmt.Fprintf(&rb, "- Preview: %s\n", preview)
		}
		if r.MessageCount > 0 {
			fmt.Fprintf(&rb, "- Messages: %d\n", r.MessageCount)
		}
		blocks = append(blocks, rb.String())
	}
	b.WriteString(strings.Join(blocks, "\n"))
	return b.String()
}

// FetchChat renders one conversation with its full transcript.
func (t *Tools) FetchChat(ctx context.Context, conversationID string) string {
	if conversationID == "" {
		return "Error: conversation_id parameter is required"
	}

	conv, err := t.store.GetConversation(ctx, conversationID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return fmt.Sprintf("Conversation not found: %s", conversationID)
		}
		t.logger.Error("fetch_chat failed", zap.Error(err))
		return fmt.Sprintf("Error fetching chat: %s", apperr.Message(err))
	}

	var b strings.Builder
	b.WriteString("**Conversation Details**\n\n")
	fmt.Fprintf(&b, "- ID: %s\n", conv.ID)
	fmt.Fprintf(&b, "- Title: %s\n", orDefault(conv.Title, "Untitled"))
	if conv.Summary != "" {
		fmt.Fprintf(&b, "- Summary: %s\n", conv.Summary)
	}
	if len(conv.Topics) > 0 {
		fmt.Fprintf(&b, "- Topics: %s\n", strings.Join(conv.Topics, ", "))
	}
	if conv.ClusterName != "" {
		fmt.Fprintf(&b, "- Cluster: %s\n", conv.ClusterName)
	}
	fmt.Fprintf(&b, "- Message Count: %d\n", conv.MessageCount)
	fmt.Fprintf(&b, "- Created: %s\n", conv.CreatedAt.Format(time.RFC3339))

	if len(conv.Messages) == 0 {
		b.WriteString("\nNo messages found in this conversation.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\n**Conversation Transcript** (%d messages):\n\n", len(conv.Messages))
	for _, m := range conv.Messages {
		fmt.Fprintf(&b, "**%s**:\n%s\n\n", strings.ToUpper(m.Role), m.Content)
	}
	return b.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
