package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/horizonbay/support-agent/db"
	"github.com/horizonbay/support-agent/internal/chat"
	"github.com/horizonbay/support-agent/internal/config"
	"github.com/horizonbay/support-agent/internal/escalate"
	"github.com/horizonbay/support-agent/internal/ingest"
	"github.com/horizonbay/support-agent/internal/knowledge"
	"github.com/horizonbay/support-agent/internal/notify"
	"github.com/horizonbay/support-agent/internal/session"
	"github.com/horizonbay/support-agent/internal/store"
	"github.com/horizonbay/support-agent/internal/tools"
)

// Setup creates and initializes the application. Returns an App with embedded
// cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Knowledge = knowledge.New(knowledge.NewQueries(pool), embedder, cfg.Collection, logger,
		knowledge.WithDefaultTopK(cfg.TopK))
	a.Store = store.New(pool, logger)
	a.Binder = session.NewBinder(a.Store, logger)
	a.Notifier = provideNotifier(cfg, logger)
	a.Tracker = escalate.NewTracker(a.Store, a.Notifier, logger)

	support, err := tools.NewSupport(tools.Config{
		Searcher:  a.Knowledge,
		Contacts:  a.Store,
		Escalator: a.Tracker,
		Gaps:      a.Store,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating support tools: %w", err)
	}
	registered, err := tools.Register(g, support)
	if err != nil {
		return nil, fmt.Errorf("registering support tools: %w", err)
	}
	a.Tools = registered

	agent, err := chat.New(chat.Config{
		Genkit:             g,
		Binder:             a.Binder,
		Messages:           a.Store,
		Searcher:           a.Knowledge,
		Logger:             logger,
		Tools:              registered,
		ModelName:          cfg.FullModelName(),
		MaxTurns:           cfg.MaxTurns,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat agent: %w", err)
	}
	a.Agent = agent
	a.Flow = chat.NewFlow(g, agent)

	return a, nil
}

// NewIndexer builds the document ingestion pipeline over the knowledge store.
func (a *App) NewIndexer() (*ingest.Indexer, error) {
	chunker, err := ingest.NewChunker(a.Config.ChunkSize, a.Config.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}
	loader := ingest.NewLoader(a.Config.DocsDir, a.Logger)
	return ingest.NewIndexer(loader, chunker, a.Knowledge, a.Logger), nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin and
// the dotprompt directory.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	promptDir := cfg.PromptDir
	if promptDir == "" {
		promptDir = "prompts"
	}

	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx,
			genkit.WithPlugins(ollamaPlugin),
			genkit.WithPromptDir(promptDir),
		)
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx,
			genkit.WithPlugins(&openai.OpenAI{}),
			genkit.WithPromptDir(promptDir),
		)
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{}),
			genkit.WithPromptDir(promptDir),
		)
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit.
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideNotifier builds the escalation channel. Without Pushover credentials
// escalations are recorded but alerts are silently dropped.
func provideNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if !cfg.NotifierEnabled() {
		logger.Warn("pushover credentials not set, escalation alerts disabled")
		return notify.Nop{}
	}
	return notify.NewPushover(cfg.PushoverToken, cfg.PushoverUser, logger)
}
