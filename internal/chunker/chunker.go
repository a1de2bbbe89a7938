// Package chunker splits source text into fixed-size overlapping windows.
package chunker

import (
	"fmt"

	"github.com/google/uuid"

	"docrag/internal/domain"
)

const (
	// DefaultSize is the default number of characters per chunk.
	DefaultSize = 5000
	// DefaultOverlap is the default number of characters shared by consecutive chunks.
	DefaultOverlap = 1000
)

// Chunker produces windows of at most size characters whose starts advance
// by size-overlap. Characters are counted as runes so multi-byte text is
// never split inside a code point.
type Chunker struct {
	size    int
	overlap int
}

// New validates 0 <= overlap < size and returns a Chunker.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrInvalidConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Default returns a Chunker with DefaultSize and DefaultOverlap.
func Default() *Chunker {
	return &Chunker{size: DefaultSize, overlap: DefaultOverlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split walks doc.Text and returns its chunks in order. Empty text yields no
// chunks. The final chunk covers the remainder and is never padded.
func (c *Chunker) Split(doc domain.SourceDocument) []domain.Chunk {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	step := c.size - c.overlap
	chunks := make([]domain.Chunk, 0, n/step+1)
	for start, idx := 0, 0; ; start, idx = start+step, idx+1 {
		end := start + c.size
		last := end >= n
		if last {
			end = n
		}
		chunks = append(chunks, domain.Chunk{
			ID:     uuid.NewString(),
			Origin: doc.Origin,
			Text:   string(runes[start:end]),
			Index:  idx,
			Start:  start,
		})
		if last {
			break
		}
	}
	return chunks
}
