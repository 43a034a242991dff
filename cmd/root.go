// Package cmd provides the CLI commands for the support agent.
//
// Commands:
//   - serve: HTTP API server exposing the chat endpoint
//   - ingest: rebuild the knowledge base index from source documents
//   - version: build and configuration information
//
// All long-running commands handle SIGINT/SIGTERM via context
// cancellation for graceful shutdown.
package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/horizonbay/support-agent/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "support-agent",
	Short: "Virtual member support agent for Horizon Bay Credit Union",
	Long: `support-agent answers member questions from an indexed knowledge base,
records contact details, and escalates account issues to the support team.

Run "support-agent ingest" once to build the knowledge index, then
"support-agent serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute is the main entry point for the support-agent CLI.
func Execute() error {
	// Credentials live in .env during local development. Missing file is fine.
	_ = godotenv.Load()

	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG enables debug level,
// LOG_JSON switches to JSON output for log aggregation.
func newLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("LOG_JSON") != "" {
		cfg.JSON = true
	}
	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}
