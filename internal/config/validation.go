package config

import (
	"fmt"
	"slices"
)

// Valid AI providers.
var validProviders = []string{ProviderGemini, ProviderOllama, ProviderOpenAI}

// Modern SSL modes only. The deprecated allow/prefer modes are excluded.
var validSSLModes = []string{"disable", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidProvider, c.Provider, validProviders)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Chunking: overlap must stay strictly below the chunk size or the
	// chunker cannot make forward progress.
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got overlap=%d size=%d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidTopK, MaxTopK, c.TopK)
	}

	if c.MaxTurns < 1 || c.MaxTurns > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresSSLMode == "" || !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// NotifierEnabled reports whether escalation notifications can be delivered.
// Both Pushover credentials must be present.
func (c *Config) NotifierEnabled() bool {
	return c.PushoverToken != "" && c.PushoverUser != ""
}

// FullModelName returns the provider-qualified model identifier used by the
// prompt layer, e.g. "googleai/gemini-2.5-flash". An explicit model_name that
// already contains a provider prefix is returned unchanged.
func (c *Config) FullModelName() string {
	name := c.ModelName
	if name == "" {
		name = defaultModelFor(c.Provider)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name
		}
	}
	return providerPrefix(c.Provider) + "/" + name
}

func defaultModelFor(provider string) string {
	switch provider {
	case ProviderOllama:
		return "llama3.2"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "gemini-2.5-flash"
	}
}

func providerPrefix(provider string) string {
	switch provider {
	case ProviderOllama:
		return "ollama"
	case ProviderOpenAI:
		return "openai"
	default:
		return "googleai"
	}
}
