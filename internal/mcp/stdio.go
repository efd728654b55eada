package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

type searchMemoryInput struct {
	Query string `json:"query" jsonschema:"Search query for finding relevant conversations"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results to return (default 5)"`
}

type fetchChatInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"UUID of the conversation to fetch"`
}

// StdioServer speaks MCP over stdin/stdout for desktop clients.
type StdioServer struct {
	mcp    *mcp.Server
	logger *zap.Logger
}

// NewStdioServer registers the memory tools on an SDK server.
func NewStdioServer(tools *Tools, version string, logger *zap.Logger) *StdioServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	server := mcp.NewServer(
		&mcp.Implementation{Name: ServerName, Version: version},
		nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_memory",
		Description: "Search past AI chat conversations using semantic search. Returns conversation metadata including title, summary, topics, and message previews.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchMemoryInput) (*mcp.CallToolResult, any, error) {
		text := tools.SearchMemory(ctx, args.Query, args.Limit)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_chat",
		Description: "Retrieve full content and messages from a specific conversation by ID. Returns complete conversation history with all messages in chronological order.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args fetchChatInput) (*mcp.CallToolResult, any, error) {
		text := tools.FetchChat(ctx, args.ConversationID)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil, nil
	})

	return &StdioServer{mcp: server, logger: logger}
}

// Run serves until the client disconnects or the context is canceled.
func (s *StdioServer) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server run failed: %w", err)
	}
	return nil
}
