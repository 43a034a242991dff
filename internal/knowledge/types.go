package knowledge

import "time"

// Document represents a knowledge base chunk.
type Document struct {
	ID       string            // Unique identifier
	Content  string            // Chunk text content
	Metadata map[string]string // Optional metadata (source, chunk index, etc.)
	CreateAt time.Time         // Creation timestamp
}

// Result represents a single search result with similarity score.
type Result struct {
	Document   Document
	Similarity float32 // Cosine similarity score (0-1)
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

// searchConfig holds internal search configuration.
type searchConfig struct {
	topK    int
	filter  map[string]string
	timeout time.Duration
}

// WithTopK sets the maximum number of results to return.
// Values outside [1, MaxTopK] are clamped.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		switch {
		case k < 1:
			c.topK = 1
		case k > MaxTopK:
			c.topK = MaxTopK
		default:
			c.topK = k
		}
	}
}

// WithFilter adds a metadata filter to restrict search results.
// Multiple calls add additional filters (AND logic).
// Example: WithFilter("source", "loans.md")
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithTimeout overrides the search timeout.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// buildSearchConfig applies search options and returns the final configuration.
func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    DefaultTopK,
		timeout: defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
