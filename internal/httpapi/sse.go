package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/mcp"
)

const sseKeepaliveInterval = 30 * time.Second

// handleMCPPost serves MCP JSON-RPC over plain HTTP POST.
func (s *Server) handleMCPPost(c echo.Context) error {
	var req mcp.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusInternalServerError, mcp.Response{
			JSONRPC: "2.0",
			Error:   &mcp.RPCError{Code: -32603, Message: fmt.Sprintf("Parse error: %v", err)},
		})
	}
	return c.JSON(http.StatusOK, s.deps.MCP.Handle(c.Request().Context(), req))
}

func sseHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// handleSSE keeps an event stream open for MCP clients that expect SSE.
// The stream announces itself, then sends keepalive comments until the
// client goes away.
func (s *Server) handleSSE(c echo.Context) error {
	sseHeaders(c)
	c.Response().WriteHeader(http.StatusOK)

	connected, _ := json.Marshal(map[string]string{"type": "connected", "server": mcp.ServerName})
	fmt.Fprintf(c.Response(), "data: %s\n\n", connected)
	c.Response().Flush()

	ticker := time.NewTicker(sseKeepaliveInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("sse client disconnected")
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Response(), ": keepalive\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}

// handleSSEPost answers one JSON-RPC request as a single SSE event.
func (s *Server) handleSSEPost(c echo.Context) error {
	var req mcp.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusInternalServerError, mcp.Response{
			JSONRPC: "2.0",
			Error:   &mcp.RPCError{Code: -32603, Message: fmt.Sprintf("Parse error: %v", err)},
		})
	}

	resp := s.deps.MCP.Handle(c.Request().Context(), req)
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal mcp response", zap.Error(err))
		return c.NoContent(http.StatusInternalServerError)
	}

	sseHeaders(c)
	c.Response().WriteHeader(http.StatusOK)
	fmt.Fprintf(c.Response(), "data: %s\n\n", payload)
	c.Response().Flush()
	return nil
}
