package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"docrag/internal/domain"
	"docrag/internal/retry"
	"docrag/internal/vectorstore"
)

const namespaceField = "namespace"

// Storage is a minimal REST client to Qdrant.
// Every session shares one cosine collection; the namespace payload field
// is matched on every search and delete.
type Storage struct {
	url        string
	apiKey     string
	collection string
	create     bool
	policy     retry.Policy
	client     *http.Client
}

var (
	_ vectorstore.Storage          = (*Storage)(nil)
	_ vectorstore.DimensionChecker = (*Storage)(nil)
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	// CreateCollection provisions a missing collection with Dimension.
	CreateCollection bool
	Dimension        int
	Timeout          time.Duration
	Retry            retry.Policy
	HTTPClient       *http.Client
}

// errNotFound is returned by do for 404 responses.
var errNotFound = errors.New("not found")

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		create:     cfg.CreateCollection,
		policy:     cfg.Retry,
		client:     client,
	}
}

// Init makes sure the collection exists, creating it with dimension and a
// keyword index on the namespace field when creation is enabled.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidConfig, dimension)
	}
	_, err := s.Dimension(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}
	if !s.create {
		return fmt.Errorf("%w: qdrant collection %q does not exist", domain.ErrVectorStoreUnavailable, s.collection)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		return err
	}
	index := map[string]any{"field_name": namespaceField, "field_schema": "keyword"}
	return s.do(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), index, nil)
}

// Dimension reports the vector size the collection was created with.
func (s *Storage) Dimension(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Config.Params.Vectors.Size, nil
}

func (s *Storage) Upsert(ctx context.Context, namespace string, chunks []domain.Chunk, vectors [][]float64) error {
	if err := vectorstore.ValidateUpsert(namespace, chunks, vectors); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UnixNano()
	points := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		points[i] = map[string]any{
			"id":     pointID(namespace, c.ID),
			"vector": vectors[i],
			"payload": map[string]any{
				"chunk_id":     c.ID,
				"origin":       c.Origin,
				"index":        c.Index,
				"start":        c.Start,
				"text":         c.Text,
				namespaceField: namespace,
				"inserted_at":  now,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil)
}

func (s *Storage) Query(ctx context.Context, namespace string, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       namespaceFilter(namespace),
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				ChunkID    string `json:"chunk_id"`
				Origin     string `json:"origin"`
				Index      int    `json:"index"`
				Start      int    `json:"start"`
				Text       string `json:"text"`
				Namespace  string `json:"namespace"`
				InsertedAt int64  `json:"inserted_at"`
			} `json:"payload"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	insertedAt := make(map[string]int64, len(resp.Result))
	for _, r := range resp.Result {
		p := r.Payload
		if p.Namespace != namespace {
			continue
		}
		results = append(results, domain.SearchResult{
			Chunk: domain.Chunk{ID: p.ChunkID, Origin: p.Origin, Index: p.Index, Start: p.Start, Text: p.Text},
			Score: r.Score,
		})
		insertedAt[p.ChunkID] = p.InsertedAt
	}
	vectorstore.ByScoreThenInsertion(results, insertedAt)
	return results, nil
}

func (s *Storage) DeletePartition(ctx context.Context, namespace string) error {
	body := map[string]any{"filter": namespaceFilter(namespace)}
	err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

func namespaceFilter(namespace string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": namespaceField, "match": map[string]any{"value": namespace}},
		},
	}
}

// pointID derives a stable point UUID from the namespace and chunk ID, so the
// same chunk written to two namespaces lands in two points.
func pointID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"/"+id)).String()
}

func (s *Storage) collectionPath(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("qdrant: encoding request: %w", err)
		}
	}
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("api-key", s.apiKey)
		}
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
			return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
		case resp.StatusCode >= 300:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.Permanent(fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, bytes.TrimSpace(msg)))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Permanent(fmt.Errorf("qdrant: decoding response: %w", err))
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotFound):
		return fmt.Errorf("qdrant %s %s: %w", method, url, errNotFound)
	default:
		return fmt.Errorf("%w: %v", domain.ErrVectorStoreUnavailable, err)
	}
}
