// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, SUPPORT_AGENT_ prefix)
//  2. Config file (./config.yaml or ~/.support-agent/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, embedder
//   - Ingest: document directory, chunk size/overlap, collection name
//   - Storage: PostgreSQL connection (see storage.go)
//   - Notify: Pushover credentials for escalation alerts
//
// Security: credentials are read from the environment and never logged.
// Validation: range checks in validation.go with sentinel errors so callers
// can use errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidChunking indicates the chunk size/overlap pair is invalid.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-K")

	// ErrInvalidMaxTurns indicates the reasoning loop ceiling is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingPushoverCredentials indicates Pushover token/user are not set
	// while escalation notifications are enabled.
	ErrMissingPushoverCredentials = errors.New("missing Pushover credentials")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Defaults mirroring the production deployment.
const (
	// DefaultChunkSize is the chunk length in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the shared character count between neighbours.
	DefaultChunkOverlap = 200

	// DefaultCollection is the logical name of the knowledge index.
	DefaultCollection = "member_support_docs"

	// DefaultTopK is the default number of retrieval results.
	DefaultTopK = 4

	// MaxTopK bounds caller-supplied top-K values.
	MaxTopK = 10

	// DefaultMaxTurns bounds the reasoning/act loop per request.
	DefaultMaxTurns = 5

	// DefaultMaxHistoryMessages bounds conversation history per prompt.
	DefaultMaxHistoryMessages = 20

	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// Outputs are truncated to knowledge.VectorDimension by the schema.
	DefaultGeminiEmbedderModel = "text-embedding-004"
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider"`       // "gemini" (default), "ollama", "openai"
	ModelName     string `mapstructure:"model_name"`     // provider-qualified in prompts, e.g. "googleai/gemini-2.5-flash"
	EmbedderModel string `mapstructure:"embedder_model"` // embedding model identifier
	OllamaHost    string `mapstructure:"ollama_host"`    // ollama server address
	PromptDir     string `mapstructure:"prompt_dir"`     // dotprompt directory

	// Orchestration
	MaxTurns           int `mapstructure:"max_turns"`            // reasoning loop ceiling
	MaxHistoryMessages int `mapstructure:"max_history_messages"` // history window per prompt

	// Ingestion and retrieval
	DocsDir      string `mapstructure:"docs_dir"`      // source document directory
	ChunkSize    int    `mapstructure:"chunk_size"`    // characters per chunk
	ChunkOverlap int    `mapstructure:"chunk_overlap"` // shared characters between neighbours
	Collection   string `mapstructure:"collection"`    // index collection name
	TopK         int    `mapstructure:"top_k"`         // default retrieval result count

	// PostgreSQL
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Pushover escalation channel
	PushoverToken string `mapstructure:"pushover_token"`
	PushoverUser  string `mapstructure:"pushover_user"`

	// HTTP server
	HTTPAddr string `mapstructure:"http_addr"`
}

// Load reads configuration from file (optional) and environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.support-agent")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine, defaults plus environment cover it.
	}

	v.SetEnvPrefix("SUPPORT_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Credentials come from conventional env vars when not set explicitly.
	cfg.applyEnvCredentials()

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvCredentials fills credentials from their conventional environment
// variables when the prefixed keys did not provide them.
func (c *Config) applyEnvCredentials() {
	if c.PushoverToken == "" {
		c.PushoverToken = os.Getenv("PUSHOVER_TOKEN")
	}
	if c.PushoverUser == "" {
		c.PushoverUser = os.Getenv("PUSHOVER_USER")
	}
	if c.PostgresPassword == "" {
		c.PostgresPassword = os.Getenv("POSTGRES_PASSWORD")
	}
}

// setDefaults registers default values for all configuration keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "")
	v.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("prompt_dir", "prompts")

	v.SetDefault("max_turns", DefaultMaxTurns)
	v.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	v.SetDefault("docs_dir", "data/knowledge_base")
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("collection", DefaultCollection)
	v.SetDefault("top_k", DefaultTopK)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "support_agent")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "support_agent")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("http_addr", "127.0.0.1:8000")
}
