// Package vectorstore defines the partitioned vector storage port and the
// similarity helpers shared by its adapters.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"docrag/internal/domain"
)

// DefaultTopK is the number of results returned when topK is not positive.
const DefaultTopK = 5

// Storage persists chunk vectors under a namespace and searches within it.
// No call ever reads or writes outside the namespace it is given.
type Storage interface {
	// Upsert adds the vectors. It is additive and does not deduplicate.
	Upsert(ctx context.Context, namespace string, chunks []domain.Chunk, vectors [][]float64) error
	// Query returns at most topK results ordered by descending cosine
	// similarity, ties broken by insertion order.
	Query(ctx context.Context, namespace string, vector []float64, topK int) ([]domain.SearchResult, error)
	// DeletePartition removes every vector in namespace. Deleting an empty
	// or unknown namespace succeeds.
	DeletePartition(ctx context.Context, namespace string) error
}

// DimensionChecker is implemented by stores that can report the
// dimensionality they were provisioned with.
type DimensionChecker interface {
	Dimension(ctx context.Context) (int, error)
}

// Namespace returns the partition key for a session.
func Namespace(sessionID string) string {
	return "session-" + sessionID
}

// CheckDimension compares the store's provisioned dimension with the
// configured one. Stores that cannot report a dimension pass.
func CheckDimension(ctx context.Context, s Storage, want int) error {
	dc, ok := s.(DimensionChecker)
	if !ok {
		return nil
	}
	got, err := dc.Dimension(ctx)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: vector store is provisioned for %d dimensions, configuration says %d", domain.ErrDimensionMismatch, got, want)
	}
	return nil
}

// ValidateUpsert checks the arguments every adapter must reject.
func ValidateUpsert(namespace string, chunks []domain.Chunk, vectors [][]float64) error {
	if namespace == "" {
		return fmt.Errorf("%w: empty namespace", domain.ErrInvalidInput)
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", domain.ErrInvalidInput, len(chunks), len(vectors))
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Candidate is a stored vector considered by a brute-force search.
type Candidate struct {
	Chunk  domain.Chunk
	Vector []float64
}

// Rank scores candidates against query and keeps the topK best. Candidates
// must be given in insertion order; equal scores keep that order.
func Rank(candidates []Candidate, query []float64, topK int) []domain.SearchResult {
	if topK <= 0 {
		topK = DefaultTopK
	}
	results := make([]domain.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = domain.SearchResult{Chunk: c.Chunk, Score: Cosine(c.Vector, query)}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// ByScoreThenInsertion re-sorts results from a remote store whose own tie
// order is unspecified. insertedAt maps chunk IDs to insertion timestamps.
func ByScoreThenInsertion(results []domain.SearchResult, insertedAt map[string]int64) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if insertedAt[a.Chunk.ID] != insertedAt[b.Chunk.ID] {
			return insertedAt[a.Chunk.ID] < insertedAt[b.Chunk.ID]
		}
		return a.Chunk.Index < b.Chunk.Index
	})
}
