package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes used by the handler.
const (
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// Request is an incoming JSON-RPC 2.0 message. The id is kept raw so string
// and numeric ids round-trip untouched.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outgoing JSON-RPC 2.0 message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolDef is one entry in the tools/list response.
type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func toolDefs() []toolDef {
	return []toolDef{
		{
			Name:        "search_memory",
			Description: "Search past AI chat conversations using semantic search. Returns conversation metadata including title, summary, topics, and message previews. Use this to find relevant past conversations.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search query for finding relevant conversations",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results to return (default 5)",
						"default":     5,
					},
				},
				"required":             []string{"query"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "fetch_chat",
			Description: "Retrieve full content and messages from a specific conversation by ID. Returns complete conversation history with all messages in chronological order.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"conversation_id": map[string]any{
						"type":        "string",
						"description": "UUID of the conversation to fetch",
					},
				},
				"required":             []string{"conversation_id"},
				"additionalProperties": false,
			},
		},
	}
}

// Handler dispatches JSON-RPC requests to the tool executors. It backs both
// the /mcp POST endpoint and the SSE POST endpoint.
type Handler struct {
	tools   *Tools
	version string
	logger  *zap.Logger
}

// NewHandler creates a dispatcher. The version string is reported to clients
// during initialize.
func NewHandler(tools *Tools, version string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tools: tools, version: version, logger: logger}
}

// Handle processes one request and always produces a response; protocol
// failures surface as JSON-RPC error objects, never as Go errors.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	h.logger.Debug("mcp request", zap.String("method", req.Method))

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": h.version,
			},
		}

	case "tools/list":
		resp.Result = map[string]any{"tools": toolDefs()}

	case "tools/call":
		text, err := h.callTool(ctx, req.Params)
		if err != nil {
			resp.Error = &RPCError{Code: codeInternalError, Message: err.Error()}
			break
		}
		resp.Result = map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		}

	case "ping":
		resp.Result = map[string]any{}

	default:
		resp.Error = &RPCError{
			Code:    codeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}
	return resp
}

func (h *Handler) callTool(ctx context.Context, params json.RawMessage) (string, error) {
	var call struct {
		Name      string `json:"name"`
		Arguments struct {
			Query          string `json:"query"`
			Limit          int    `json:"limit"`
			ConversationID string `json:"conversation_id"`
		} `json:"arguments"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &call); err != nil {
			return "", fmt.Errorf("invalid tool call params: %w", err)
		}
	}

	switch call.Name {
	case "search_memory":
		return h.tools.SearchMemory(ctx, call.Arguments.Query, call.Arguments.Limit), nil
	case "fetch_chat":
		return h.tools.FetchChat(ctx, call.Arguments.ConversationID), nil
	default:
		return fmt.Sprintf("Unknown tool: %s", call.Name), nil
	}
}
