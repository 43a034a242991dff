package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// DB is the subset of pgxpool.Pool the query layer needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UpsertDocumentParams holds the parameters for UpsertDocument.
type UpsertDocumentParams struct {
	ID         string
	Collection string
	Content    string
	Embedding  *pgvector.Vector
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
}

// SearchDocumentsParams holds the parameters for SearchDocuments.
// FilterMetadata is a JSONB containment filter; nil means no filter.
type SearchDocumentsParams struct {
	Collection     string
	QueryEmbedding *pgvector.Vector
	FilterMetadata []byte
	ResultLimit    int32
}

// SearchDocumentsRow is a single row returned by SearchDocuments.
type SearchDocumentsRow struct {
	ID         string
	Content    string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	Similarity float32
}

// Queries provides hand-written parameterized SQL over pgx.
// All values travel as bind parameters, never as interpolated SQL.
type Queries struct {
	db DB
}

// NewQueries creates a Queries backed by the given database handle.
func NewQueries(db DB) *Queries {
	return &Queries{db: db}
}

const upsertDocumentSQL = `
INSERT INTO documents (id, collection, content, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
ON CONFLICT (id) DO UPDATE SET
    collection = EXCLUDED.collection,
    content    = EXCLUDED.content,
    embedding  = EXCLUDED.embedding,
    metadata   = EXCLUDED.metadata`

// UpsertDocument inserts or updates a single document.
func (q *Queries) UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error {
	var createdAt any
	if arg.CreatedAt.Valid {
		createdAt = arg.CreatedAt
	}
	_, err := q.db.Exec(ctx, upsertDocumentSQL,
		arg.ID, arg.Collection, arg.Content, arg.Embedding, arg.Metadata, createdAt)
	return err
}

// searchDocumentsSQL orders by cosine distance ascending, which is similarity
// descending. The id tie-break keeps result order deterministic when
// distances are equal.
const searchDocumentsSQL = `
SELECT id, content, metadata, created_at, 1 - (embedding <=> $2) AS similarity
FROM documents
WHERE collection = $1
  AND ($3::jsonb IS NULL OR metadata @> $3)
ORDER BY embedding <=> $2, id
LIMIT $4`

// SearchDocuments performs a cosine similarity search within a collection.
func (q *Queries) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	rows, err := q.db.Query(ctx, searchDocumentsSQL,
		arg.Collection, arg.QueryEmbedding, arg.FilterMetadata, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchDocumentsRow
	for rows.Next() {
		var r SearchDocumentsRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountDocuments returns the number of documents in a collection.
func (q *Queries) CountDocuments(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM documents WHERE collection = $1`, collection).Scan(&count)
	return count, err
}

// DeleteDocument deletes a document by ID.
func (q *Queries) DeleteDocument(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

// ReplaceDocuments atomically replaces the contents of a collection.
// The delete and all inserts run in one transaction, so readers see either
// the old collection or the new one, never a partial mix. Any failure rolls
// the whole replacement back.
func (q *Queries) ReplaceDocuments(ctx context.Context, collection string, docs []UpsertDocumentParams) error {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("clearing collection %q: %w", collection, err)
	}

	batch := &pgx.Batch{}
	for _, doc := range docs {
		var createdAt any
		if doc.CreatedAt.Valid {
			createdAt = doc.CreatedAt
		}
		batch.Queue(upsertDocumentSQL,
			doc.ID, collection, doc.Content, doc.Embedding, doc.Metadata, createdAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting %d documents: %w", len(docs), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing replacement: %w", err)
	}
	return nil
}
