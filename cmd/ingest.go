package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/horizonbay/support-agent/internal/app"
	"github.com/horizonbay/support-agent/internal/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the knowledge base index from source documents",
	Long: `ingest loads every document under the configured docs directory,
splits it into overlapping chunks, embeds each chunk, and replaces the
knowledge base index in one atomic swap. Safe to re-run at any time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest()
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	indexer, err := a.NewIndexer()
	if err != nil {
		return fmt.Errorf("creating indexer: %w", err)
	}

	chunks, err := indexer.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	if err := indexer.Verify(ctx); err != nil {
		return fmt.Errorf("verifying index: %w", err)
	}

	fmt.Printf("Indexed %d chunks from %s into collection %q\n",
		chunks, cfg.DocsDir, cfg.Collection)
	return nil
}
