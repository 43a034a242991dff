package ingest

import (
	"strings"
	"testing"
)

func TestNewChunkerValidation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"valid", 1000, 200, false},
		{"zero overlap", 100, 0, false},
		{"zero size", 0, 0, true},
		{"overlap equals size", 100, 100, true},
		{"overlap above size", 100, 150, true},
		{"negative overlap", 100, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.size, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewChunker(%d, %d) error = %v, wantErr %v", tt.size, tt.overlap, err, tt.wantErr)
			}
		})
	}
}

func TestChunkEmptyText(t *testing.T) {
	c, _ := NewChunker(10, 2)
	if got := c.Chunk(""); got != nil {
		t.Errorf("Chunk(\"\") = %v, want nil", got)
	}
}

func TestChunkShorterThanSize(t *testing.T) {
	c, _ := NewChunker(100, 20)
	got := c.Chunk("short text")
	if len(got) != 1 || got[0] != "short text" {
		t.Errorf("Chunk() = %v, want single full chunk", got)
	}
}

func TestChunkSizeAndOverlap(t *testing.T) {
	c, _ := NewChunker(10, 3)
	text := "abcdefghijklmnopqrstuvwxyz"

	chunks := c.Chunk(text)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}

	for i, chunk := range chunks {
		if len(chunk) > 10 {
			t.Errorf("chunk %d length = %d, want <= 10", i, len(chunk))
		}
	}
	// Neighbouring chunks share the trailing 3 characters.
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])-3:]
		if !strings.HasPrefix(chunks[i], prevTail) {
			t.Errorf("chunk %d does not start with previous tail %q: %q", i, prevTail, chunks[i])
		}
	}
	// Concatenating chunks minus overlap reconstructs the input.
	var sb strings.Builder
	sb.WriteString(chunks[0])
	for i := 1; i < len(chunks); i++ {
		sb.WriteString(chunks[i][3:])
	}
	if sb.String() != text {
		t.Errorf("reassembled = %q, want %q", sb.String(), text)
	}
}

func TestChunkDeterministic(t *testing.T) {
	c, _ := NewChunker(50, 10)
	text := strings.Repeat("Horizon Bay Credit Union member services. ", 20)

	first := c.Chunk(text)
	second := c.Chunk(text)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestChunkMultibyteRunes(t *testing.T) {
	c, _ := NewChunker(4, 1)
	text := "héllo wörld données"

	for i, chunk := range c.Chunk(text) {
		if !strings.ContainsRune(chunk, '�') {
			continue
		}
		t.Errorf("chunk %d contains replacement character: %q", i, chunk)
	}
}

func TestChunkKeepsInteriorWhitespace(t *testing.T) {
	c, _ := NewChunker(5, 2)
	// The whitespace run in the middle spans a whole chunk window.
	text := "abcde      fghij"

	chunks := c.Chunk(text)
	if len(chunks) != 5 {
		t.Fatalf("chunks = %q, want 5", chunks)
	}
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])-2:]
		if !strings.HasPrefix(chunks[i], prevTail) {
			t.Errorf("chunk %d does not start with previous tail %q: %q", i, prevTail, chunks[i])
		}
	}

	var sb strings.Builder
	sb.WriteString(chunks[0])
	for i := 1; i < len(chunks); i++ {
		sb.WriteString(chunks[i][2:])
	}
	if sb.String() != text {
		t.Errorf("reassembled = %q, want %q", sb.String(), text)
	}
}

func TestChunkTrimsTrailingWhitespace(t *testing.T) {
	c, _ := NewChunker(5, 0)
	text := "abcde          "

	chunks := c.Chunk(text)
	if len(chunks) != 1 || chunks[0] != "abcde" {
		t.Errorf("chunks = %q, want just the text chunk", chunks)
	}

	if got := c.Chunk("     "); got != nil {
		t.Errorf("all-blank input produced chunks: %q", got)
	}
}
