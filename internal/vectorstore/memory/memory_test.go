package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
	"docrag/internal/vectorstore/storetest"
)

func TestStorage_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectorstore.Storage { return NewStorage() })
}

func TestStorage_Count(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "ns", []domain.Chunk{{ID: "1"}, {ID: "2"}}, [][]float64{{1}, {1}}))
	assert.Equal(t, 2, s.Count("ns"))
	assert.Zero(t, s.Count("other"))
	require.NoError(t, s.DeletePartition(ctx, "ns"))
	assert.Zero(t, s.Count("ns"))
}

func TestStorage_CopiesVectors(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	v := []float64{1, 0}
	require.NoError(t, s.Upsert(ctx, "ns", []domain.Chunk{{ID: "1"}}, [][]float64{v}))
	v[0], v[1] = 0, 1
	res, err := s.Query(ctx, "ns", []float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.InDelta(t, 1.0, res[0].Score, 1e-12)
}
