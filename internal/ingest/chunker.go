// Package ingest loads source documents, splits them into overlapping chunks
// and rebuilds the knowledge base index.
package ingest

import (
	"fmt"
	"strings"
)

// Chunker splits text into fixed-size character chunks with overlap.
// Overlap carries trailing context from one chunk into the next so
// sentences cut at a boundary stay retrievable.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. The overlap must stay strictly below the
// chunk size or the split cannot make forward progress.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got overlap=%d size=%d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits text into chunks of at most size characters, each sharing
// overlap characters with its predecessor. Sizes are measured in runes so
// multi-byte text never splits mid-character. Interior chunks are kept even
// when blank so consecutive chunks always share exactly overlap characters;
// only blank chunks at the tail are trimmed. The result is deterministic
// for a given input.
func (c *Chunker) Chunk(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	for len(chunks) > 0 && strings.TrimSpace(chunks[len(chunks)-1]) == "" {
		chunks = chunks[:len(chunks)-1]
	}
	if len(chunks) == 0 {
		return nil
	}
	return chunks
}
