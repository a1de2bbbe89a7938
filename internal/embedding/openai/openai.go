// Package openai is an embeddings client for OpenAI-compatible and Azure
// OpenAI endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"docrag/internal/domain"
	"docrag/internal/retry"
)

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "text-embedding-3-small"
	DefaultTimeout    = 30 * time.Second
	DefaultBatchSize  = 64
	DefaultAPIVersion = "2024-02-15-preview"
	maxRetryAfter     = 30 * time.Second
)

var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// AzureConfig switches the client to an Azure OpenAI deployment.
type AzureConfig struct {
	Endpoint   string
	Deployment string
	APIVersion string
}

// Config configures the embeddings client.
type Config struct {
	BaseURL string
	// APIKey wins over APIKeyEnv when both are set.
	APIKey    string
	APIKeyEnv string
	Model     string
	// Dimensions is sent as the "dimensions" request parameter to models
	// that support shortening (text-embedding-3-*).
	Dimensions        int
	BatchSize         int
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             retry.Policy
	Azure             *AzureConfig
	HTTPClient        *http.Client
}

// Client is an embeddings client implementing domain.Embedder.
type Client struct {
	endpoint   string
	apiKey     string
	azure      bool
	model      string
	dimensions int
	batchSize  int
	policy     retry.Policy
	limiter    *rate.Limiter
	client     *http.Client
	observed   atomic.Int64
}

var _ domain.Embedder = (*Client)(nil)

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrInvalidConfig, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		apiKey:     key,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		policy:     cfg.Retry,
		client:     cfg.HTTPClient,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	if cfg.Azure != nil {
		if cfg.Azure.Endpoint == "" || cfg.Azure.Deployment == "" {
			return nil, fmt.Errorf("%w: azure embeddings need endpoint and deployment", domain.ErrInvalidConfig)
		}
		v := cfg.Azure.APIVersion
		if v == "" {
			v = DefaultAPIVersion
		}
		c.azure = true
		c.endpoint = fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			strings.TrimRight(cfg.Azure.Endpoint, "/"), url.PathEscape(cfg.Azure.Deployment), url.QueryEscape(v))
	} else {
		base := cfg.BaseURL
		if base == "" {
			base = DefaultBaseURL
		}
		c.endpoint = strings.TrimRight(base, "/") + "/embeddings"
	}
	return c, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the configured or known output length, falling back to
// the length observed on the first response. Zero means not known yet.
func (c *Client) Dimension() int {
	if c.dimensions > 0 {
		return c.dimensions
	}
	if d, ok := modelDimensions[c.model]; ok {
		return d
	}
	return int(c.observed.Load())
}

// EmbedQuery returns an embedding vector for the given text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	out, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedDocuments embeds texts in batches of at most BatchSize inputs.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		var batch [][]float64
		err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
			var err error
			batch, err = c.embedBatch(ctx, texts[start:end])
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

type embeddingRequest struct {
	Model      string   `json:"model,omitempty"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
	}
	body := embeddingRequest{Input: texts}
	if !c.azure {
		body.Model = c.model
	}
	if c.dimensions > 0 && strings.HasPrefix(c.model, "text-embedding-3") {
		body.Dimensions = c.dimensions
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.azure {
		req.Header.Set("api-key", c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	payload, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Respect Retry-After if provided
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				if err := sleep(ctx, min(time.Duration(secs)*time.Second, maxRetryAfter)); err != nil {
					return nil, retry.Permanent(err)
				}
			}
		}
		return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, retry.Permanent(fmt.Errorf("openai embeddings failed: %s: %s", resp.Status, truncate(payload, 200)))
	}

	var out embeddingResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(out.Data), len(texts))
	}
	vectors := make([][]float64, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) || len(d.Embedding) == 0 {
			return nil, errors.New("malformed embedding in response")
		}
		vectors[d.Index] = d.Embedding
	}
	for _, v := range vectors {
		if v == nil {
			return nil, errors.New("missing embedding index in response")
		}
	}
	c.observed.CompareAndSwap(0, int64(len(vectors[0])))
	return vectors, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
