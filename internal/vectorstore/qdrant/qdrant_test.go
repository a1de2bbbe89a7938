package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/retry"
	"docrag/internal/vectorstore"
)

var fastRetry = retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond}

func newTestStorage(t *testing.T, h http.HandlerFunc, create bool) *Storage {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "docs", CreateCollection: create, Retry: fastRetry})
}

func TestInit_CreatesMissingCollection(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/collections/docs":
			var body map[string]map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 8, body["vectors"]["size"])
			assert.Equal(t, "Cosine", body["vectors"]["distance"])
			w.Write([]byte(`{"result":true}`))
		case r.URL.Path == "/collections/docs/index":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "namespace", body["field_name"])
			assert.Equal(t, "keyword", body["field_schema"])
			w.Write([]byte(`{"result":{}}`))
		}
	}, true)

	require.NoError(t, s.Init(context.Background(), 8))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"GET /collections/docs", "PUT /collections/docs", "PUT /collections/docs/index"}, calls)
}

func TestInit_MissingCollectionWithoutCreate(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, false)
	err := s.Init(context.Background(), 8)
	assert.ErrorIs(t, err, domain.ErrVectorStoreUnavailable)
}

func TestDimension_MismatchIsReported(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":1536,"distance":"Cosine"}}}}}`))
	}, false)

	got, err := s.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1536, got)

	err = vectorstore.CheckDimension(context.Background(), s, 1024)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.NoError(t, vectorstore.CheckDimension(context.Background(), s, 1536))
}

func TestUpsert_CarriesNamespacePayload(t *testing.T) {
	var body struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float64      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/docs/points", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"result":{"status":"completed"}}`))
	}, false)

	id := uuid.NewString()
	err := s.Upsert(context.Background(), "session-1", []domain.Chunk{
		{ID: id, Origin: "a.pdf", Index: 0, Start: 0, Text: "one"},
		{ID: "not-a-uuid", Origin: "a.pdf", Index: 1, Start: 4, Text: "two"},
	}, [][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)

	require.Len(t, body.Points, 2)
	assert.Equal(t, pointID("session-1", id), body.Points[0].ID)
	_, err = uuid.Parse(body.Points[1].ID)
	assert.NoError(t, err)
	assert.Equal(t, pointID("session-1", "not-a-uuid"), body.Points[1].ID)
	for _, p := range body.Points {
		assert.Equal(t, "session-1", p.Payload["namespace"])
		assert.Equal(t, "a.pdf", p.Payload["origin"])
		assert.NotZero(t, p.Payload["inserted_at"])
	}
	assert.Equal(t, "not-a-uuid", body.Points[1].Payload["chunk_id"])
	assert.EqualValues(t, 4, body.Points[1].Payload["start"])
}

func TestUpsert_SameChunkInTwoNamespaces(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []struct {
				ID string `json:"id"`
			} `json:"points"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		for _, p := range body.Points {
			ids = append(ids, p.ID)
		}
		mu.Unlock()
		w.Write([]byte(`{"result":{"status":"completed"}}`))
	}, false)

	c := []domain.Chunk{{ID: "chunk-1", Origin: "a.txt", Text: "shared"}}
	require.NoError(t, s.Upsert(context.Background(), "session-a", c, [][]float64{{1, 0}}))
	require.NoError(t, s.Upsert(context.Background(), "session-b", c, [][]float64{{1, 0}}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, pointID("session-a", "chunk-1"), pointID("session-a", "chunk-1"))
}

func TestUpsert_LengthMismatch(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, false)
	err := s.Upsert(context.Background(), "ns", []domain.Chunk{{ID: "a"}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestQuery_FiltersAndOrdersTies(t *testing.T) {
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/docs/points/search", r.URL.Path)
		var req struct {
			Limit  int `json:"limit"`
			Filter struct {
				Must []struct {
					Key   string `json:"key"`
					Match struct {
						Value string `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Limit)
		if assert.Len(t, req.Filter.Must, 1) {
			assert.Equal(t, "namespace", req.Filter.Must[0].Key)
			assert.Equal(t, "session-1", req.Filter.Must[0].Match.Value)
		}
		w.Write([]byte(`{"result":[
			{"score":0.5,"payload":{"chunk_id":"late","text":"late","namespace":"session-1","inserted_at":20,"index":0}},
			{"score":0.9,"payload":{"chunk_id":"best","text":"best","namespace":"session-1","inserted_at":30,"index":0}},
			{"score":0.5,"payload":{"chunk_id":"early","text":"early","namespace":"session-1","inserted_at":10,"index":2}},
			{"score":0.4,"payload":{"chunk_id":"stray","text":"stray","namespace":"session-2","inserted_at":1,"index":0}}
		]}`))
	}, false)

	res, err := s.Query(context.Background(), "session-1", []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "best", res[0].Chunk.Text)
	assert.Equal(t, "early", res[1].Chunk.Text)
	assert.Equal(t, "late", res[2].Chunk.Text)
}

func TestDeletePartition_UsesFilterAndToleratesMissing(t *testing.T) {
	var deletes atomic.Int32
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/docs/points/delete", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "filter")
		if deletes.Add(1) == 1 {
			w.Write([]byte(`{"result":{"status":"completed"}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}, false)

	require.NoError(t, s.DeletePartition(context.Background(), "session-1"))
	require.NoError(t, s.DeletePartition(context.Background(), "session-1"))
	assert.EqualValues(t, 2, deletes.Load())
}

func TestUnavailable_AfterRetries(t *testing.T) {
	var calls atomic.Int32
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, false)

	_, err := s.Query(context.Background(), "session-1", []float64{1}, 1)
	assert.ErrorIs(t, err, domain.ErrVectorStoreUnavailable)
	assert.EqualValues(t, 3, calls.Load())
}

func TestBadRequest_NotRetried(t *testing.T) {
	var calls atomic.Int32
	s := newTestStorage(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":{"error":"wrong vector size"}}`))
	}, false)

	err := s.Upsert(context.Background(), "ns", []domain.Chunk{{ID: "x"}}, [][]float64{{1}})
	require.ErrorIs(t, err, domain.ErrVectorStoreUnavailable)
	assert.Contains(t, err.Error(), "wrong vector size")
	assert.EqualValues(t, 1, calls.Load())
}
