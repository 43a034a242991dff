package ingest

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// SourceDocument is a loaded source file before chunking.
type SourceDocument struct {
	// Source is the path relative to the documents directory, used as the
	// stable document identity across rebuilds.
	Source  string
	Content string
}

// Loader reads knowledge base source files from a directory tree.
// Supported formats: .txt, .md (plain text) and .pdf (extracted text).
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, logger: logger}
}

// Load walks the directory tree and returns all readable documents sorted by
// source path. A file that fails to load is logged and skipped so one corrupt
// file cannot block the rest of the knowledge base.
func (l *Loader) Load() ([]SourceDocument, error) {
	var docs []SourceDocument

	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, ok := l.loadFile(path)
		if !ok {
			return nil
		}

		rel, relErr := filepath.Rel(l.dir, path)
		if relErr != nil {
			rel = path
		}
		docs = append(docs, SourceDocument{
			Source:  filepath.ToSlash(rel),
			Content: content,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", l.dir, err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Source < docs[j].Source })
	return docs, nil
}

// loadFile reads a single file, returning false for unsupported or unreadable
// files.
func (l *Loader) loadFile(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return "", false
		}
		return string(data), true
	case ".pdf":
		text, err := extractPDFText(path)
		if err != nil {
			l.logger.Warn("skipping unreadable PDF", "path", path, "error", err)
			return "", false
		}
		return text, true
	default:
		l.logger.Debug("skipping unsupported file", "path", path)
		return "", false
	}
}

// extractPDFText extracts the plain text content of a PDF file.
func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}
