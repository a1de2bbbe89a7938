// Package storetest holds the behaviour every vectorstore.Storage adapter
// must show, run by each adapter's own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

func chunk(origin string, idx int, text string) domain.Chunk {
	return domain.Chunk{ID: uuid.NewString(), Origin: origin, Index: idx, Text: text}
}

// Run exercises isolation, ordering, top-k bounds and idempotent deletes.
func Run(t *testing.T, newStore func(t *testing.T) vectorstore.Storage) {
	ctx := context.Background()

	t.Run("isolation", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, "session-a", []domain.Chunk{chunk("a.txt", 0, "alpha")}, [][]float64{{1, 0, 0}}))
		require.NoError(t, s.Upsert(ctx, "session-b", []domain.Chunk{chunk("bb.txt", 0, "beta")}, [][]float64{{1, 0, 0}}))

		res, err := s.Query(ctx, "session-a", []float64{1, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "alpha", res[0].Chunk.Text)
		assert.Equal(t, "a.txt", res[0].Chunk.Origin)

		res, err = s.Query(ctx, "session-c", []float64{1, 0, 0}, 10)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("ordering and ties", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, "ns", []domain.Chunk{
			chunk("d.txt", 0, "tie-first"),
			chunk("d.txt", 1, "worst"),
		}, [][]float64{{1, 1, 0}, {0, 0, 1}}))
		require.NoError(t, s.Upsert(ctx, "ns", []domain.Chunk{
			chunk("e.txt", 0, "best"),
			chunk("e.txt", 1, "tie-second"),
		}, [][]float64{{1, 0, 0}, {2, 2, 0}}))

		res, err := s.Query(ctx, "ns", []float64{1, 0.2, 0}, 3)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, "best", res[0].Chunk.Text)
		assert.Equal(t, "tie-first", res[1].Chunk.Text)
		assert.Equal(t, "tie-second", res[2].Chunk.Text)
		assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
		assert.InDelta(t, res[1].Score, res[2].Score, 1e-9)
	})

	t.Run("additive upsert", func(t *testing.T) {
		s := newStore(t)
		c := chunk("f.txt", 0, "same")
		require.NoError(t, s.Upsert(ctx, "ns", []domain.Chunk{c}, [][]float64{{1, 0}}))
		c2 := chunk("ff.txt", 0, "same")
		require.NoError(t, s.Upsert(ctx, "ns", []domain.Chunk{c2}, [][]float64{{1, 0}}))
		res, err := s.Query(ctx, "ns", []float64{1, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, res, 2)
	})

	t.Run("same chunk in two namespaces", func(t *testing.T) {
		s := newStore(t)
		c := domain.Chunk{ID: "chunk-1", Origin: "shared.txt", Text: "shared"}
		require.NoError(t, s.Upsert(ctx, "session-a", []domain.Chunk{c}, [][]float64{{1, 0}}))
		require.NoError(t, s.Upsert(ctx, "session-b", []domain.Chunk{c}, [][]float64{{1, 0}}))

		for _, ns := range []string{"session-a", "session-b"} {
			res, err := s.Query(ctx, ns, []float64{1, 0}, 10)
			require.NoError(t, err)
			require.Len(t, res, 1, ns)
			assert.Equal(t, "chunk-1", res[0].Chunk.ID)
		}

		require.NoError(t, s.DeletePartition(ctx, "session-b"))
		res, err := s.Query(ctx, "session-a", []float64{1, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, res, 1)
	})

	t.Run("top-k bound", func(t *testing.T) {
		s := newStore(t)
		var chunks []domain.Chunk
		var vecs [][]float64
		for i := 0; i < 7; i++ {
			chunks = append(chunks, chunk("g.txt", i, fmt.Sprintf("c%d", i)))
			vecs = append(vecs, []float64{1, float64(i)})
		}
		require.NoError(t, s.Upsert(ctx, "ns", chunks, vecs))
		res, err := s.Query(ctx, "ns", []float64{1, 0}, 0)
		require.NoError(t, err)
		assert.Len(t, res, vectorstore.DefaultTopK)
		res, err = s.Query(ctx, "ns", []float64{1, 0}, 2)
		require.NoError(t, err)
		assert.Len(t, res, 2)
	})

	t.Run("delete partition", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, "keep", []domain.Chunk{chunk("k.txt", 0, "kept")}, [][]float64{{1}}))
		require.NoError(t, s.Upsert(ctx, "drop", []domain.Chunk{chunk("dd.txt", 0, "dropped")}, [][]float64{{1}}))

		require.NoError(t, s.DeletePartition(ctx, "drop"))
		require.NoError(t, s.DeletePartition(ctx, "drop"))
		require.NoError(t, s.DeletePartition(ctx, "never-existed"))

		res, err := s.Query(ctx, "drop", []float64{1}, 5)
		require.NoError(t, err)
		assert.Empty(t, res)
		res, err = s.Query(ctx, "keep", []float64{1}, 5)
		require.NoError(t, err)
		assert.Len(t, res, 1)
	})

	t.Run("length mismatch", func(t *testing.T) {
		s := newStore(t)
		err := s.Upsert(ctx, "ns", []domain.Chunk{chunk("h.txt", 0, "x")}, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
