// Package memory is a process-local vector store using brute-force cosine similarity.
package memory

import (
	"context"
	"slices"
	"sync"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

// Storage keeps one ordered slice of entries per namespace.
type Storage struct {
	mu         sync.RWMutex
	partitions map[string][]vectorstore.Candidate
}

var _ vectorstore.Storage = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{partitions: make(map[string][]vectorstore.Candidate)}
}

func (s *Storage) Upsert(_ context.Context, namespace string, chunks []domain.Chunk, vectors [][]float64) error {
	if err := vectorstore.ValidateUpsert(namespace, chunks, vectors); err != nil {
		return err
	}
	entries := make([]vectorstore.Candidate, len(chunks))
	for i := range chunks {
		entries[i] = vectorstore.Candidate{Chunk: chunks[i], Vector: slices.Clone(vectors[i])}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[namespace] = append(s.partitions[namespace], entries...)
	return nil
}

func (s *Storage) Query(_ context.Context, namespace string, vector []float64, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return vectorstore.Rank(s.partitions[namespace], vector, topK), nil
}

func (s *Storage) DeletePartition(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, namespace)
	return nil
}

// Count returns the number of vectors stored under namespace.
func (s *Storage) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[namespace])
}
