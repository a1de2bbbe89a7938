// Package pinecone talks to a Pinecone index over its REST data plane.
// Sessions map onto native Pinecone namespaces.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"docrag/internal/domain"
	"docrag/internal/retry"
	"docrag/internal/vectorstore"
)

// APIVersion is sent in the X-Pinecone-API-Version header.
const APIVersion = "2024-07"

// upsertBatch keeps each upsert request well under Pinecone's 2 MB body
// limit at 1024 dimensions with chunk text in metadata.
const upsertBatch = 100

// maxDeleteIDs is the number of IDs Pinecone accepts per delete request.
const maxDeleteIDs = 1000

type Config struct {
	// Host is the index host, e.g. https://docs-abc123.svc.us-east-1.pinecone.io
	Host      string
	APIKey    string
	APIKeyEnv string
	Timeout   time.Duration
	Retry     retry.Policy
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

type Storage struct {
	host   string
	apiKey string
	policy retry.Policy
	client *http.Client
}

var (
	_ vectorstore.Storage          = (*Storage)(nil)
	_ vectorstore.DimensionChecker = (*Storage)(nil)
)

var errNotFound = errors.New("not found")

func NewStorage(cfg Config) (*Storage, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: missing pinecone API key in env %s", domain.ErrInvalidConfig, cfg.APIKeyEnv)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: missing pinecone index host", domain.ErrInvalidConfig)
	}
	host := strings.TrimRight(cfg.Host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Storage{host: host, apiKey: key, policy: cfg.Retry, client: client}, nil
}

type metadata struct {
	Text       string `json:"text"`
	Origin     string `json:"origin"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	Namespace  string `json:"namespace"`
	InsertedAt int64  `json:"inserted_at"`
}

type vector struct {
	ID       string    `json:"id"`
	Values   []float64 `json:"values"`
	Metadata metadata  `json:"metadata"`
}

// Upsert writes chunks in batches of upsertBatch. When a batch fails the
// batches already written are deleted again, so a partition never holds
// part of a chunk set.
func (s *Storage) Upsert(ctx context.Context, namespace string, chunks []domain.Chunk, vectors [][]float64) error {
	if err := vectorstore.ValidateUpsert(namespace, chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UnixNano()
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		body := struct {
			Vectors   []vector `json:"vectors"`
			Namespace string   `json:"namespace"`
		}{Namespace: namespace, Vectors: make([]vector, 0, end-start)}
		for i := start; i < end; i++ {
			c := chunks[i]
			body.Vectors = append(body.Vectors, vector{
				ID:     c.ID,
				Values: vectors[i],
				Metadata: metadata{
					Text: c.Text, Origin: c.Origin, Index: c.Index, Start: c.Start,
					Namespace: namespace, InsertedAt: now,
				},
			})
		}
		if err := s.post(ctx, "/vectors/upsert", body, nil); err != nil {
			if start > 0 {
				if rerr := s.deleteIDs(context.WithoutCancel(ctx), namespace, chunks[:start]); rerr != nil {
					return fmt.Errorf("%w (rolling back %d vectors: %v)", err, start, rerr)
				}
			}
			return err
		}
	}
	return nil
}

func (s *Storage) deleteIDs(ctx context.Context, namespace string, chunks []domain.Chunk) error {
	for start := 0; start < len(chunks); start += maxDeleteIDs {
		end := min(start+maxDeleteIDs, len(chunks))
		ids := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			ids = append(ids, c.ID)
		}
		body := map[string]any{"ids": ids, "namespace": namespace}
		if err := s.post(ctx, "/vectors/delete", body, nil); err != nil && !errors.Is(err, errNotFound) {
			return err
		}
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, namespace string, values []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	req := map[string]any{
		"namespace":       namespace,
		"vector":          values,
		"topK":            topK,
		"includeMetadata": true,
		"includeValues":   false,
	}
	var resp struct {
		Matches []struct {
			ID       string   `json:"id"`
			Score    float64  `json:"score"`
			Metadata metadata `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.post(ctx, "/query", req, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Matches))
	insertedAt := make(map[string]int64, len(resp.Matches))
	for _, m := range resp.Matches {
		md := m.Metadata
		results = append(results, domain.SearchResult{
			Chunk: domain.Chunk{ID: m.ID, Origin: md.Origin, Index: md.Index, Start: md.Start, Text: md.Text},
			Score: m.Score,
		})
		insertedAt[m.ID] = md.InsertedAt
	}
	vectorstore.ByScoreThenInsertion(results, insertedAt)
	return results, nil
}

// DeletePartition drops the whole namespace. Pinecone answers 404 for a
// namespace that was never written, which counts as deleted.
func (s *Storage) DeletePartition(ctx context.Context, namespace string) error {
	body := map[string]any{"deleteAll": true, "namespace": namespace}
	err := s.post(ctx, "/vectors/delete", body, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

// Dimension reports the index dimension from describe_index_stats.
func (s *Storage) Dimension(ctx context.Context) (int, error) {
	var resp struct {
		Dimension int `json:"dimension"`
	}
	if err := s.post(ctx, "/describe_index_stats", map[string]any{}, &resp); err != nil {
		return 0, err
	}
	return resp.Dimension, nil
}

func (s *Storage) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("pinecone: encoding request: %w", err)
	}
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+path, bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Api-Key", s.apiKey)
		req.Header.Set("X-Pinecone-API-Version", APIVersion)
		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return retry.Permanent(errNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("pinecone %s failed: %s", path, resp.Status)
		case resp.StatusCode >= 300:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.Permanent(fmt.Errorf("pinecone %s failed: %s: %s", path, resp.Status, bytes.TrimSpace(msg)))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Permanent(fmt.Errorf("pinecone: decoding response: %w", err))
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotFound):
		return fmt.Errorf("pinecone %s: %w", path, errNotFound)
	default:
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
}
