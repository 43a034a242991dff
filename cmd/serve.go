package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/horizonbay/support-agent/internal/api"
	"github.com/horizonbay/support-agent/internal/app"
	"github.com/horizonbay/support-agent/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// parseRateBurst reads SUPPORT_AGENT_RATE_BURST from the environment.
// Returns 0 (use default) if unset or invalid.
func parseRateBurst() int {
	v := os.Getenv("SUPPORT_AGENT_RATE_BURST")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// trustProxy reports whether client IPs should be taken from
// X-Real-IP/X-Forwarded-For. Only enable behind a trusted reverse proxy.
func trustProxy() bool {
	return os.Getenv("SUPPORT_AGENT_TRUST_PROXY") == "true"
}

type indexVerifier interface {
	Verify(ctx context.Context) error
}

// ensureIndexReady refuses to serve against an empty knowledge base. Every
// answer would degrade to not-found, so startup fails with a pointer to the
// ingest command instead.
func ensureIndexReady(ctx context.Context, v indexVerifier) error {
	if err := v.Verify(ctx); err != nil {
		return fmt.Errorf("knowledge base not ready: %w (run \"support-agent ingest\" first)", err)
	}
	return nil
}

// runServe initializes the application and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()
	logger.Info("starting support agent", "version", AppVersion)

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
	if err := ensureIndexReady(ctx, indexer); err != nil {
		return err
	}

	srv, err := api.NewServer(api.ServerConfig{
		Logger:     logger,
		Agent:      a.Agent,
		DB:         a.DBPool,
		TrustProxy: trustProxy(),
		RateBurst:  parseRateBurst(),
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	logger.Info("HTTP server ready",
		"addr", cfg.HTTPAddr,
		"chat", "POST /api/chat",
		"health", "/health, /ready",
	)

	return srv.ListenAndServe(ctx, cfg.HTTPAddr, logger)
}
