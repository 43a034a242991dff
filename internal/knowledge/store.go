// Package knowledge manages the member support knowledge base: a
// vector-indexed collection of document chunks backed by PostgreSQL with
// pgvector. It handles embedding generation, top-K cosine similarity search
// and atomic collection rebuilds.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

const (
	// VectorDimension is the embedding width of the documents table schema.
	// Both text-embedding-004 and nomic-embed-text produce 768 dimensions.
	VectorDimension = 768

	// DefaultTopK is the default number of search results.
	DefaultTopK = 4

	// MaxTopK bounds caller-supplied top-K values.
	MaxTopK = 10

	// maxQueryChars truncates oversized queries before embedding. Embedding
	// models cap input length; member questions never come close to this.
	maxQueryChars = 8000

	// defaultSearchTimeout bounds a single vector search.
	defaultSearchTimeout = 10 * time.Second
)

// Querier defines the database operations the Store needs.
// The interface is defined by the consumer so tests can substitute a mock.
type Querier interface {
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error)
	CountDocuments(ctx context.Context, collection string) (int64, error)
	DeleteDocument(ctx context.Context, id string) error
	ReplaceDocuments(ctx context.Context, collection string, docs []UpsertDocumentParams) error
}

// Store manages knowledge documents with vector search.
// All documents belong to a single named collection.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries     Querier
	embedder    ai.Embedder
	collection  string
	logger      *slog.Logger
	defaultTopK int
}

// Option configures a Store at construction.
type Option func(*Store)

// WithDefaultTopK sets the store-wide result count used when a search does
// not specify one. Values outside [1, MaxTopK] are clamped.
func WithDefaultTopK(k int) Option {
	return func(s *Store) {
		switch {
		case k < 1:
			s.defaultTopK = 1
		case k > MaxTopK:
			s.defaultTopK = MaxTopK
		default:
			s.defaultTopK = k
		}
	}
}

// New creates a Store for the given collection.
func New(querier Querier, embedder ai.Embedder, collection string, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		queries:     querier,
		embedder:    embedder,
		collection:  collection,
		logger:      logger,
		defaultTopK: DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the collection name this store operates on.
func (s *Store) Collection() string {
	return s.collection
}

// Add embeds a document's content and upserts it into the collection.
func (s *Store) Add(ctx context.Context, doc Document) error {
	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	err = s.queries.UpsertDocument(ctx, UpsertDocumentParams{
		ID:         doc.ID,
		Collection: s.collection,
		Content:    doc.Content,
		Embedding:  embedding,
		Metadata:   metadataJSON,
		CreatedAt:  pgtype.Timestamptz{Time: doc.CreateAt, Valid: !doc.CreateAt.IsZero()},
	})
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("added document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search returns the documents most similar to the query, ordered by
// similarity descending with document ID as tie-break. Oversized queries are
// truncated before embedding. A timeout bounds the whole operation.
//
// Example:
//
//	results, err := store.Search(ctx, "wire transfer limits",
//	    knowledge.WithTopK(4))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	// The store default seeds the config; per-call options override it.
	cfg := buildSearchConfig(append([]SearchOption{WithTopK(s.defaultTopK)}, opts...))

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	if len(query) > maxQueryChars {
		query = query[:maxQueryChars]
	}

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// filterJSON is always produced by json.Marshal, and the JSONB @>
	// containment runs as a bind parameter. User input never reaches SQL text.
	var filterJSON []byte
	if len(cfg.filter) > 0 {
		filterJSON, err = json.Marshal(cfg.filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
	}

	rows, err := s.queries.SearchDocuments(queryCtx, SearchDocumentsParams{
		Collection:     s.collection,
		QueryEmbedding: embedding,
		FilterMetadata: filterJSON,
		ResultLimit:    int32(cfg.topK),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return s.rowsToResults(rows), nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	count, err := s.queries.CountDocuments(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	if count > math.MaxInt {
		return 0, fmt.Errorf("document count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// Delete removes a document from the collection.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if err := s.queries.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// Replace embeds all documents and atomically swaps the collection contents.
// Every embedding is generated before any database change happens, so an
// embedding failure leaves the existing collection untouched.
func (s *Store) Replace(ctx context.Context, docs []Document) error {
	params := make([]UpsertDocumentParams, 0, len(docs))
	for _, doc := range docs {
		embedding, err := s.embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embedding document %q: %w", doc.ID, err)
		}
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
		}
		params = append(params, UpsertDocumentParams{
			ID:         doc.ID,
			Collection: s.collection,
			Content:    doc.Content,
			Embedding:  embedding,
			Metadata:   metadataJSON,
			CreatedAt:  pgtype.Timestamptz{Time: doc.CreateAt, Valid: !doc.CreateAt.IsZero()},
		})
	}

	if err := s.queries.ReplaceDocuments(ctx, s.collection, params); err != nil {
		return fmt.Errorf("replacing collection %q: %w", s.collection, err)
	}

	s.logger.Info("collection replaced", "collection", s.collection, "documents", len(docs))
	return nil
}

// embed generates an embedding for a single piece of text and validates its
// dimension against the table schema.
func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	values := resp.Embeddings[0].Embedding
	if len(values) != VectorDimension {
		return nil, fmt.Errorf("embedder returned %d dimensions, schema requires %d",
			len(values), VectorDimension)
	}

	vec := pgvector.NewVector(values)
	return &vec, nil
}

// rowsToResults converts query rows to business model Results.
func (s *Store) rowsToResults(rows []SearchDocumentsRow) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			s.logger.Warn("failed to parse metadata", "document_id", row.ID, "error", err)
			metadata = make(map[string]string)
		}

		var createAt time.Time
		if row.CreatedAt.Valid {
			createAt = row.CreatedAt.Time
		}

		results = append(results, Result{
			Document: Document{
				ID:       row.ID,
				Content:  row.Content,
				Metadata: metadata,
				CreateAt: createAt,
			},
			Similarity: row.Similarity,
		})
	}
	return results
}
