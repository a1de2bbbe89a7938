// Package openai streams chat completions from OpenAI-compatible and Azure
// OpenAI endpoints.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"docrag/internal/domain"
	"docrag/internal/llm"
	"docrag/internal/retry"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "gpt-4o-mini"
	DefaultAPIVersion = "2024-02-15-preview"
	// DefaultHeaderTimeout bounds the wait for the first response byte.
	// The body of a stream is bounded by the request context only.
	DefaultHeaderTimeout = 60 * time.Second
)

// AzureConfig switches the client to Azure OpenAI. The request model names
// the deployment.
type AzureConfig struct {
	Endpoint   string
	APIVersion string
}

type Config struct {
	BaseURL           string
	APIKey            string
	APIKeyEnv         string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             retry.Policy
	Azure             *AzureConfig
	HTTPClient        *http.Client
}

type Client struct {
	baseURL  string
	azureVer string
	apiKey   string
	model    string
	policy   retry.Policy
	limiter  *rate.Limiter
	client   *http.Client
}

var _ llm.ChatModel = (*Client)(nil)

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
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultHeaderTimeout
	}
	c := &Client{apiKey: key, model: cfg.Model, policy: cfg.Retry, client: cfg.HTTPClient}
	if c.client == nil {
		c.client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}}
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	if cfg.Azure != nil {
		if cfg.Azure.Endpoint == "" {
			return nil, fmt.Errorf("%w: azure chat needs an endpoint", domain.ErrInvalidConfig)
		}
		c.baseURL = strings.TrimRight(cfg.Azure.Endpoint, "/")
		c.azureVer = cfg.Azure.APIVersion
		if c.azureVer == "" {
			c.azureVer = DefaultAPIVersion
		}
	} else {
		c.baseURL = cfg.BaseURL
		if c.baseURL == "" {
			c.baseURL = DefaultBaseURL
		}
		c.baseURL = strings.TrimRight(c.baseURL, "/")
	}
	return c, nil
}

func (c *Client) endpoint(model string) string {
	if c.azureVer != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.baseURL, url.PathEscape(model), url.QueryEscape(c.azureVer))
	}
	return c.baseURL + "/chat/completions"
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// Chat opens a streamed completion. Only the initial request is retried;
// once fragments flow a broken stream surfaces from Recv.
func (c *Client) Chat(ctx context.Context, in llm.Request) (llm.Stream, error) {
	model := in.Model
	if model == "" {
		model = c.model
	}
	body := chatRequest{Messages: in.Messages, Temperature: in.Temperature, Stream: true}
	if c.azureVer == "" {
		body.Model = model
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp *http.Response
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(model), bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.azureVer != "" {
			req.Header.Set("api-key", c.apiKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		r, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		if r.StatusCode/100 != 2 {
			msg, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			r.Body.Close()
			err := fmt.Errorf("chat http %d: %s", r.StatusCode, bytes.TrimSpace(msg))
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				return err
			}
			return retry.Permanent(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}
	return &chatStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

type chatStream struct {
	body io.ReadCloser
	r    *bufio.Reader
	done bool
	// finished is set once a finish_reason arrives; EOF before that is a dropped stream.
	finished bool
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Recv skips keep-alives, role-only deltas and empty lines and returns the
// next non-empty fragment. The stream ends cleanly on [DONE] or on EOF after
// a finish_reason; any other EOF is reported as ErrGenerationUnavailable.
func (s *chatStream) Recv() (string, bool, error) {
	for !s.done {
		line, err := s.r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			s.done = true
			if errors.Is(err, io.EOF) {
				if s.finished {
					return "", true, nil
				}
				return "", true, fmt.Errorf("%w: stream ended before completion", domain.ErrGenerationUnavailable)
			}
			return "", true, fmt.Errorf("%w: reading stream: %v", domain.ErrGenerationUnavailable, err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return "", true, nil
		}
		var evt streamEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			continue
		}
		if evt.Error != nil {
			s.done = true
			return "", true, fmt.Errorf("%w: %s", domain.ErrGenerationUnavailable, evt.Error.Message)
		}
		if len(evt.Choices) == 0 {
			continue
		}
		if evt.Choices[0].FinishReason != nil {
			s.finished = true
		}
		if evt.Choices[0].Delta.Content != "" {
			return evt.Choices[0].Delta.Content, false, nil
		}
	}
	return "", true, nil
}

func (s *chatStream) Close() error {
	s.done = true
	return s.body.Close()
}
