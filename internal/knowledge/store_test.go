package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/horizonbay/support-agent/internal/testutil"
)

// fakeQuerier implements Querier with canned results and call recording.
type fakeQuerier struct {
	upserts      []UpsertDocumentParams
	searchArgs   []SearchDocumentsParams
	searchRows   []SearchDocumentsRow
	replaced     [][]UpsertDocumentParams
	count        int64
	deleted      []string
	failUpsert   error
	failSearch   error
	failReplace  error
	replaceCalls int
}

func (f *fakeQuerier) UpsertDocument(_ context.Context, arg UpsertDocumentParams) error {
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.upserts = append(f.upserts, arg)
	return nil
}

func (f *fakeQuerier) SearchDocuments(_ context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	f.searchArgs = append(f.searchArgs, arg)
	if f.failSearch != nil {
		return nil, f.failSearch
	}
	return f.searchRows, nil
}

func (f *fakeQuerier) CountDocuments(_ context.Context, _ string) (int64, error) {
	return f.count, nil
}

func (f *fakeQuerier) DeleteDocument(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeQuerier) ReplaceDocuments(_ context.Context, _ string, docs []UpsertDocumentParams) error {
	f.replaceCalls++
	if f.failReplace != nil {
		return f.failReplace
	}
	f.replaced = append(f.replaced, docs)
	return nil
}

// newTestStore wires a Store to a fake querier and a deterministic embedder.
func newTestStore(t *testing.T, querier Querier, dim int) *Store {
	t.Helper()
	g := genkit.Init(context.Background())
	embedder := testutil.NewMockEmbedder(dim).RegisterEmbedder(g)
	return New(querier, embedder, "member_support_docs", testutil.DiscardLogger())
}

func TestStoreAdd(t *testing.T) {
	fake := &fakeQuerier{}
	store := newTestStore(t, fake, VectorDimension)

	doc := Document{
		ID:       "faq.md#3",
		Content:  "Wire transfers up to $10,000 per day.",
		Metadata: map[string]string{"source": "faq.md"},
	}
	if err := store.Add(context.Background(), doc); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if len(fake.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(fake.upserts))
	}
	got := fake.upserts[0]
	if got.ID != doc.ID || got.Collection != "member_support_docs" {
		t.Errorf("upsert id/collection = %q/%q", got.ID, got.Collection)
	}
	var metadata map[string]string
	if err := json.Unmarshal(got.Metadata, &metadata); err != nil {
		t.Fatalf("metadata not valid JSON: %v", err)
	}
	if metadata["source"] != "faq.md" {
		t.Errorf("metadata source = %q, want faq.md", metadata["source"])
	}
	if got.Embedding == nil || len(got.Embedding.Slice()) != VectorDimension {
		t.Error("embedding missing or wrong dimension")
	}
}

func TestStoreAddRejectsWrongDimension(t *testing.T) {
	fake := &fakeQuerier{}
	store := newTestStore(t, fake, 16)

	err := store.Add(context.Background(), Document{ID: "d1", Content: "text"})
	if err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Errorf("Add() = %v, want dimension mismatch error", err)
	}
	if len(fake.upserts) != 0 {
		t.Error("document reached the database despite embedding mismatch")
	}
}

func TestStoreSearch(t *testing.T) {
	fake := &fakeQuerier{
		searchRows: []SearchDocumentsRow{
			{ID: "a", Content: "first", Metadata: []byte(`{"source":"faq.md"}`), Similarity: 0.92},
			{ID: "b", Content: "second", Metadata: []byte(`{}`), Similarity: 0.71},
		},
	}
	store := newTestStore(t, fake, VectorDimension)

	results, err := store.Search(context.Background(), "transfer limits", WithTopK(2))
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Document.ID != "a" || results[0].Similarity != 0.92 {
		t.Errorf("first result = %+v", results[0])
	}
	if results[0].Document.Metadata["source"] != "faq.md" {
		t.Errorf("metadata not mapped: %v", results[0].Document.Metadata)
	}

	if len(fake.searchArgs) != 1 {
		t.Fatalf("search calls = %d, want 1", len(fake.searchArgs))
	}
	arg := fake.searchArgs[0]
	if arg.ResultLimit != 2 {
		t.Errorf("ResultLimit = %d, want 2", arg.ResultLimit)
	}
	if arg.FilterMetadata != nil {
		t.Errorf("FilterMetadata = %s, want nil", arg.FilterMetadata)
	}
}

func TestStoreSearchDefaultTopK(t *testing.T) {
	fake := &fakeQuerier{}
	g := genkit.Init(context.Background())
	embedder := testutil.NewMockEmbedder(VectorDimension).RegisterEmbedder(g)
	store := New(fake, embedder, "member_support_docs", testutil.DiscardLogger(),
		WithDefaultTopK(7))

	if _, err := store.Search(context.Background(), "q"); err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if got := fake.searchArgs[0].ResultLimit; got != 7 {
		t.Errorf("ResultLimit = %d, want the configured default 7", got)
	}

	// A per-call option overrides the store default.
	if _, err := store.Search(context.Background(), "q", WithTopK(2)); err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if got := fake.searchArgs[1].ResultLimit; got != 2 {
		t.Errorf("ResultLimit = %d, want 2", got)
	}
}

func TestStoreSearchClampsTopK(t *testing.T) {
	fake := &fakeQuerier{}
	store := newTestStore(t, fake, VectorDimension)

	if _, err := store.Search(context.Background(), "q", WithTopK(500)); err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if got := fake.searchArgs[0].ResultLimit; got != MaxTopK {
		t.Errorf("ResultLimit = %d, want %d", got, MaxTopK)
	}

	if _, err := store.Search(context.Background(), "q", WithTopK(0)); err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if got := fake.searchArgs[1].ResultLimit; got != 1 {
		t.Errorf("ResultLimit = %d, want 1", got)
	}
}

func TestStoreSearchWithFilter(t *testing.T) {
	fake := &fakeQuerier{}
	store := newTestStore(t, fake, VectorDimension)

	if _, err := store.Search(context.Background(), "q", WithFilter("source", "loans.md")); err != nil {
		t.Fatalf("Search() error: %v", err)
	}

	var filter map[string]string
	if err := json.Unmarshal(fake.searchArgs[0].FilterMetadata, &filter); err != nil {
		t.Fatalf("filter not valid JSON: %v", err)
	}
	if filter["source"] != "loans.md" {
		t.Errorf("filter = %v", filter)
	}
}

func TestStoreSearchError(t *testing.T) {
	fake := &fakeQuerier{failSearch: errors.New("connection refused")}
	store := newTestStore(t, fake, VectorDimension)

	if _, err := store.Search(context.Background(), "q"); err == nil {
		t.Error("Search() succeeded despite query failure")
	}
}

func TestStoreReplace(t *testing.T) {
	fake := &fakeQuerier{}
	store := newTestStore(t, fake, VectorDimension)

	docs := []Document{
		{ID: "c1", Content: "chunk one"},
		{ID: "c2", Content: "chunk two"},
	}
	if err := store.Replace(context.Background(), docs); err != nil {
		t.Fatalf("Replace() error: %v", err)
	}

	if len(fake.replaced) != 1 || len(fake.replaced[0]) != 2 {
		t.Fatalf("replaced = %+v, want one call with 2 docs", fake.replaced)
	}
	for i, p := range fake.replaced[0] {
		if p.Collection != "member_support_docs" {
			t.Errorf("doc %d collection = %q", i, p.Collection)
		}
		if p.Embedding == nil {
			t.Errorf("doc %d has no embedding", i)
		}
	}
}

func TestStoreReplaceEmbedFailureLeavesDataUntouched(t *testing.T) {
	fake := &fakeQuerier{}
	// Wrong dimension makes every embed call fail validation.
	store := newTestStore(t, fake, 16)

	err := store.Replace(context.Background(), []Document{{ID: "c1", Content: "chunk"}})
	if err == nil {
		t.Fatal("Replace() succeeded despite embedding failure")
	}
	if fake.replaceCalls != 0 {
		t.Error("replacement reached the database despite embedding failure")
	}
}

func TestStoreCount(t *testing.T) {
	fake := &fakeQuerier{count: 42}
	store := newTestStore(t, fake, VectorDimension)

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 42 {
		t.Errorf("Count() = %d, want 42", count)
	}
}

func TestStoreDelete(t *testing.T) {
	fake := &fakeQuerier{}
	store := newTestStore(t, fake, VectorDimension)

	if err := store.Delete(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "doc-1" {
		t.Errorf("deleted = %v", fake.deleted)
	}
}

func TestRowsToResultsBadMetadata(t *testing.T) {
	fake := &fakeQuerier{
		searchRows: []SearchDocumentsRow{
			{ID: "a", Content: "text", Metadata: []byte(`not-json`), CreatedAt: pgtype.Timestamptz{}},
		},
	}
	store := newTestStore(t, fake, VectorDimension)

	results, err := store.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if results[0].Document.Metadata == nil {
		t.Error("metadata should fall back to empty map on parse failure")
	}
}
