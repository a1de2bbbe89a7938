// Package embedding guards embedders against vector stores provisioned for a
// different dimensionality.
package embedding

import (
	"context"
	"fmt"

	"docrag/internal/domain"
)

// probeText is embedded once at construction to learn the model's output length.
const probeText = "dimension probe"

// Checked wraps an Embedder and rejects every vector whose length differs
// from the partition dimension. Vectors are never truncated or padded.
type Checked struct {
	inner     domain.Embedder
	dimension int
}

var _ domain.Embedder = (*Checked)(nil)

// NewChecked embeds a probe and fails with domain.ErrDimensionMismatch when
// the model output does not match dimension. It runs before any upsert can
// be attempted.
func NewChecked(ctx context.Context, inner domain.Embedder, dimension int) (*Checked, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: partition dimension must be positive, got %d", domain.ErrInvalidConfig, dimension)
	}
	if d := inner.Dimension(); d > 0 && d != dimension {
		return nil, mismatch(inner.Name(), d, dimension)
	}
	v, err := inner.EmbedQuery(ctx, probeText)
	if err != nil {
		return nil, fmt.Errorf("probe %s embedder: %w", inner.Name(), err)
	}
	if len(v) != dimension {
		return nil, mismatch(inner.Name(), len(v), dimension)
	}
	return &Checked{inner: inner, dimension: dimension}, nil
}

func mismatch(name string, got, want int) error {
	return fmt.Errorf("%w: %s produces %d-dimensional vectors, partition expects %d", domain.ErrDimensionMismatch, name, got, want)
}

func (c *Checked) Name() string   { return c.inner.Name() }
func (c *Checked) Dimension() int { return c.dimension }

func (c *Checked) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := c.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts", domain.ErrEmbeddingUnavailable, c.inner.Name(), len(vectors), len(texts))
	}
	for _, v := range vectors {
		if len(v) != c.dimension {
			return nil, mismatch(c.inner.Name(), len(v), c.dimension)
		}
	}
	return vectors, nil
}

func (c *Checked) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	v, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) != c.dimension {
		return nil, mismatch(c.inner.Name(), len(v), c.dimension)
	}
	return v, nil
}
