package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestEmbedder_FixedDimensionAndNormalised(t *testing.T) {
	e := New(64)
	assert.Equal(t, 64, e.Dimension())
	assert.Equal(t, "hashing", e.Name())

	v, err := e.EmbedQuery(context.Background(), "Physics is the study of matter")
	require.NoError(t, err)
	require.Len(t, v, 64)
	assert.InDelta(t, 1.0, math.Sqrt(dot(v, v)), 1e-9)
}

func TestEmbedder_Deterministic(t *testing.T) {
	a, err := New(32).EmbedQuery(context.Background(), "same text")
	require.NoError(t, err)
	b, err := New(32).EmbedQuery(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedder_StopwordsOnlyGivesZeroVector(t *testing.T) {
	v, err := New(16).EmbedQuery(context.Background(), "the and of")
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 16), v)
}

func TestEmbedder_SharedTermsScoreHigher(t *testing.T) {
	e := New(DefaultDimension)
	docs, err := e.EmbedDocuments(context.Background(), []string{
		"My name is Ana. I study physics.",
		"Bananas are yellow and grow in bunches.",
	})
	require.NoError(t, err)
	q, err := e.EmbedQuery(context.Background(), "What is my name?")
	require.NoError(t, err)
	assert.Greater(t, dot(q, docs[0]), dot(q, docs[1]))
}

func TestEmbedder_DefaultDimension(t *testing.T) {
	assert.Equal(t, DefaultDimension, New(0).Dimension())
}

func TestEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(8).EmbedDocuments(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
