package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

type fixedEmbedder struct {
	dim      int
	reported int
	err      error
	calls    int
}

func (f *fixedEmbedder) Name() string   { return "fixed" }
func (f *fixedEmbedder) Dimension() int { return f.reported }

func (f *fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		v, err := f.EmbedQuery(context.Background(), texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fixedEmbedder) EmbedQuery(context.Context, string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float64, f.dim), nil
}

func TestNewChecked_DimensionMismatch(t *testing.T) {
	inner := &fixedEmbedder{dim: 1536}
	c, err := NewChecked(context.Background(), inner, 1024)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "1536")
	assert.Contains(t, err.Error(), "1024")
}

func TestNewChecked_ReportedDimensionMismatchSkipsProbe(t *testing.T) {
	inner := &fixedEmbedder{dim: 1536, reported: 1536}
	_, err := NewChecked(context.Background(), inner, 1024)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Zero(t, inner.calls)
}

func TestNewChecked_Match(t *testing.T) {
	inner := &fixedEmbedder{dim: 8}
	c, err := NewChecked(context.Background(), inner, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, c.Dimension())
	assert.Equal(t, "fixed", c.Name())

	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestNewChecked_ProbeFailure(t *testing.T) {
	inner := &fixedEmbedder{dim: 8, err: domain.ErrEmbeddingUnavailable}
	_, err := NewChecked(context.Background(), inner, 8)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestNewChecked_InvalidDimension(t *testing.T) {
	_, err := NewChecked(context.Background(), &fixedEmbedder{dim: 8}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestChecked_LaterMismatchIsRejected(t *testing.T) {
	inner := &fixedEmbedder{dim: 8}
	c, err := NewChecked(context.Background(), inner, 8)
	require.NoError(t, err)

	inner.dim = 4
	_, err = c.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	_, err = c.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestChecked_PropagatesErrors(t *testing.T) {
	inner := &fixedEmbedder{dim: 8}
	c, err := NewChecked(context.Background(), inner, 8)
	require.NoError(t, err)

	inner.err = errors.New("boom")
	_, err = c.EmbedQuery(context.Background(), "q")
	assert.EqualError(t, err, "boom")
}
