package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/horizonbay/support-agent/internal/knowledge"
)

// Index is the slice of the knowledge store the indexer needs.
type Index interface {
	Replace(ctx context.Context, docs []knowledge.Document) error
	Count(ctx context.Context) (int, error)
}

// Indexer rebuilds the knowledge base index from source documents.
type Indexer struct {
	loader  *Loader
	chunker *Chunker
	index   Index
	logger  *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(loader *Loader, chunker *Chunker, index Index, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		loader:  loader,
		chunker: chunker,
		index:   index,
		logger:  logger,
	}
}

// Rebuild loads all source documents, chunks them and replaces the index
// contents in one atomic swap. Chunk IDs are derived from the source path and
// chunk position, so rebuilding the same sources yields the same IDs.
//
// When the sources produce no chunks the existing index is left untouched:
// wiping the knowledge base because a docs directory was empty or misconfigured
// would silently degrade every answer.
func (ix *Indexer) Rebuild(ctx context.Context) (int, error) {
	docs, err := ix.loader.Load()
	if err != nil {
		return 0, fmt.Errorf("loading documents: %w", err)
	}

	var chunks []knowledge.Document
	for _, doc := range docs {
		for i, chunk := range ix.chunker.Chunk(doc.Content) {
			chunks = append(chunks, knowledge.Document{
				ID:      doc.Source + "#" + strconv.Itoa(i),
				Content: chunk,
				Metadata: map[string]string{
					"source": doc.Source,
					"chunk":  strconv.Itoa(i),
				},
			})
		}
	}

	if len(chunks) == 0 {
		ix.logger.Warn("no chunks produced, leaving existing index untouched",
			"documents", len(docs))
		return 0, nil
	}

	if err := ix.index.Replace(ctx, chunks); err != nil {
		return 0, fmt.Errorf("rebuilding index: %w", err)
	}

	ix.logger.Info("index rebuilt", "documents", len(docs), "chunks", len(chunks))
	return len(chunks), nil
}

// Verify checks that the index holds at least one document. Run after
// Rebuild or at startup to catch an empty knowledge base early.
func (ix *Indexer) Verify(ctx context.Context) error {
	count, err := ix.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	if count < 1 {
		return fmt.Errorf("knowledge base is empty")
	}
	return nil
}
