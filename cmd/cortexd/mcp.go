package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cortexd/internal/mcp"
)

// mcpCmd serves the memory tools over stdio for MCP desktop clients.
// Logs go to stderr so stdout stays clean for the protocol.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Serve the search_memory and fetch_chat tools over the Model Context
Protocol's stdio transport.

Examples:
  # Register with an MCP client
  cortexd mcp`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return mcp.NewStdioServer(a.tools, version, a.logger).Run(ctx)
}
