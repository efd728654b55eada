// Cortexd is a memory daemon for AI chat history: it ingests exported chat
// HTML, enriches it with summaries and embeddings, and serves semantic
// search, 3-D visualization, and MCP tools over HTTP.
//
// Usage:
//
//	# Start the HTTP server with defaults
//	cortexd
//
//	# Configure via environment
//	PORT=9000 GROQ_API_KEY=... cortexd
//
//	# Speak MCP over stdio for desktop clients
//	cortexd mcp
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cortexd",
	Short: "Memory daemon for AI chat history",
	Long: `cortexd ingests exported AI chat conversations, summarizes and embeds
them, and serves semantic search, 3-D visualization, and MCP tools.

Running cortexd with no arguments starts the HTTP server.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("cortexd\nVersion:    %s\nCommit:     %s\nBuild Date: %s\n", version, gitCommit, buildDate)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func main() {
	// A .env file is optional; the process environment wins either way.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
