// Package app assembles the application: database pool, migrations, Genkit
// provider plugins, knowledge store, session and escalation plumbing, tool
// registration and the chat agent.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/horizonbay/support-agent/internal/chat"
	"github.com/horizonbay/support-agent/internal/config"
	"github.com/horizonbay/support-agent/internal/escalate"
	"github.com/horizonbay/support-agent/internal/knowledge"
	"github.com/horizonbay/support-agent/internal/notify"
	"github.com/horizonbay/support-agent/internal/session"
	"github.com/horizonbay/support-agent/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit    *genkit.Genkit
	Embedder  ai.Embedder
	DBPool    *pgxpool.Pool
	Knowledge *knowledge.Store
	Store     *store.Store
	Binder    *session.Binder
	Notifier  notify.Notifier
	Tracker   *escalate.Tracker
	Tools     []ai.Tool
	Agent     *chat.Agent
	Flow      *chat.Flow

	dbCleanup func()
}

// Close releases all resources held by the application.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	return nil
}
