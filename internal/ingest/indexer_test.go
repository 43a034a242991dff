package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/horizonbay/support-agent/internal/knowledge"
	"github.com/horizonbay/support-agent/internal/testutil"
)

// fakeIndex implements Index with call recording.
type fakeIndex struct {
	replaced    [][]knowledge.Document
	count       int
	failReplace error
}

func (f *fakeIndex) Replace(_ context.Context, docs []knowledge.Document) error {
	if f.failReplace != nil {
		return f.failReplace
	}
	f.replaced = append(f.replaced, docs)
	return nil
}

func (f *fakeIndex) Count(_ context.Context) (int, error) {
	return f.count, nil
}

// writeDocs populates a temp docs directory and returns its path.
func writeDocs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestIndexer(t *testing.T, dir string, index Index) *Indexer {
	t.Helper()
	chunker, err := NewChunker(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	logger := testutil.DiscardLogger()
	return NewIndexer(NewLoader(dir, logger), chunker, index, logger)
}

func TestRebuild(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"faq.md":        "Wire transfers are limited to ten thousand dollars per business day for standard accounts.",
		"loans/auto.txt": "Auto loan rates start at 5.4 percent APR for qualified members with direct deposit.",
	})
	index := &fakeIndex{}

	count, err := newTestIndexer(t, dir, index).Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}
	if count == 0 {
		t.Fatal("Rebuild() produced no chunks")
	}
	if len(index.replaced) != 1 {
		t.Fatalf("Replace calls = %d, want 1", len(index.replaced))
	}

	seen := make(map[string]bool)
	for _, doc := range index.replaced[0] {
		if seen[doc.ID] {
			t.Errorf("duplicate chunk ID %q", doc.ID)
		}
		seen[doc.ID] = true
		if doc.Metadata["source"] == "" || doc.Metadata["chunk"] == "" {
			t.Errorf("chunk %q missing metadata: %v", doc.ID, doc.Metadata)
		}
	}
}

func TestRebuildEmptyDirIsNoOp(t *testing.T) {
	index := &fakeIndex{}

	count, err := newTestIndexer(t, t.TempDir(), index).Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}
	if count != 0 {
		t.Errorf("Rebuild() = %d chunks from empty dir", count)
	}
	if len(index.replaced) != 0 {
		t.Error("Replace was called for an empty source set")
	}
}

func TestRebuildSkipsUnsupportedFiles(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"notes.md":   "Members can order replacement cards through the mobile app at no charge.",
		"binary.bin": "\x00\x01\x02",
	})
	index := &fakeIndex{}

	if _, err := newTestIndexer(t, dir, index).Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}
	for _, doc := range index.replaced[0] {
		if doc.Metadata["source"] == "binary.bin" {
			t.Error("unsupported file was indexed")
		}
	}
}

func TestRebuildReplaceFailure(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"faq.md": "Branch hours are nine to five on weekdays and nine to noon on Saturdays.",
	})
	index := &fakeIndex{failReplace: errors.New("embedding provider unavailable")}

	if _, err := newTestIndexer(t, dir, index).Rebuild(context.Background()); err == nil {
		t.Error("Rebuild() succeeded despite replace failure")
	}
}

func TestRebuildDeterministicIDs(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"faq.md": "Overdraft protection transfers funds from savings automatically when checking runs short.",
	})

	first := &fakeIndex{}
	if _, err := newTestIndexer(t, dir, first).Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	second := &fakeIndex{}
	if _, err := newTestIndexer(t, dir, second).Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	a, b := first.replaced[0], second.replaced[0]
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d ID differs: %q vs %q", i, a[i].ID, b[i].ID)
		}
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()

	if err := newTestIndexer(t, dir, &fakeIndex{count: 3}).Verify(context.Background()); err != nil {
		t.Errorf("Verify() error with populated index: %v", err)
	}
	if err := newTestIndexer(t, dir, &fakeIndex{count: 0}).Verify(context.Background()); err == nil {
		t.Error("Verify() passed with empty index")
	}
}
