// Package app assembles the responder and its adapters from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"docrag/internal/chunker"
	"docrag/internal/config"
	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/embedding/hashing"
	embopenai "docrag/internal/embedding/openai"
	"docrag/internal/llm"
	llmopenai "docrag/internal/llm/openai"
	"docrag/internal/loader"
	"docrag/internal/observability"
	"docrag/internal/service"
	"docrag/internal/summarizer"
	"docrag/internal/vectorstore"
	"docrag/internal/vectorstore/memory"
	"docrag/internal/vectorstore/pinecone"
	"docrag/internal/vectorstore/qdrant"
	"docrag/internal/vectorstore/sqlite"
)

// App is a fully wired responder.
type App struct {
	Service *service.Service
	Metrics *observability.Metrics
	Store   vectorstore.Storage
	closers []io.Closer
}

// Options override collaborators, mostly for tests.
type Options struct {
	Chat     llm.ChatModel
	Embedder domain.Embedder
}

// Build wires every component named by cfg, filling unset fields first.
// The embedder is probed and the store's provisioned dimension checked, so a
// dimension mismatch fails here with domain.ErrDimensionMismatch before any
// source can be ingested.
func Build(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger, opts Options) (*App, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Metrics: observability.New(observability.DefaultNamespace)}

	inner := opts.Embedder
	if inner == nil {
		var err error
		if inner, err = newEmbedder(cfg); err != nil {
			return nil, err
		}
	}
	emb, err := embedding.NewChecked(ctx, inner, cfg.VectorStore.Dimension)
	if err != nil {
		return nil, err
	}

	store, err := a.newStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := vectorstore.CheckDimension(ctx, store, cfg.VectorStore.Dimension); err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	chat := opts.Chat
	if chat == nil {
		if chat, err = newChat(cfg); err != nil {
			a.Close()
			return nil, err
		}
	}

	ch, err := chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Service, err = service.New(service.Deps{
		Loader:     loader.New(),
		Chunker:    ch,
		Embedder:   emb,
		Store:      store,
		Chat:       chat,
		Summarizer: summarizer.New(),
		Observer:   a.Metrics,
		Logger:     log,
	}, service.Options{
		TopK:             cfg.Retrieval.TopK,
		HistoryMessages:  cfg.Retrieval.HistoryMessages,
		Temperature:      cfg.LLM.Temperature,
		DefaultModel:     cfg.LLM.Model,
		Models:           cfg.LLM.Models,
		SummarySentences: cfg.Retrieval.SummarySentences,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"embedder":     emb.Name(),
		"vector_store": cfg.VectorStore.Type,
		"dimension":    cfg.VectorStore.Dimension,
		"model":        cfg.LLM.Model,
	}).Info("responder ready")
	return a, nil
}

// Close releases stores that hold files or connections.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func newEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	e := cfg.Embedder
	switch e.Type {
	case "hashing":
		return hashing.New(cfg.VectorStore.Dimension), nil
	case "openai":
		return embopenai.NewClient(embopenai.Config{
			BaseURL:           e.OpenAI.BaseURL,
			APIKeyEnv:         e.OpenAI.APIKeyEnv,
			Model:             e.OpenAI.Model,
			Dimensions:        cfg.VectorStore.Dimension,
			BatchSize:         e.OpenAI.BatchSize,
			Timeout:           secs(e.OpenAI.TimeoutSecs),
			RequestsPerSecond: e.OpenAI.RequestsPerSecond,
			Retry:             e.Retry.Policy(),
		})
	case "azure":
		return embopenai.NewClient(embopenai.Config{
			APIKeyEnv:  e.Azure.APIKeyEnv,
			Model:      e.Azure.Deployment,
			Dimensions: cfg.VectorStore.Dimension,
			Retry:      e.Retry.Policy(),
			Azure: &embopenai.AzureConfig{
				Endpoint:   e.Azure.ResolveEndpoint(),
				Deployment: e.Azure.Deployment,
				APIVersion: e.Azure.APIVersion,
			},
		})
	}
	return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidConfig, e.Type)
}

func (a *App) newStore(ctx context.Context, cfg *config.AppConfig) (vectorstore.Storage, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "sqlite":
		s, err := sqlite.Open(vs.SQLite.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	case "qdrant":
		s := qdrant.NewStorage(qdrant.Config{
			URL:              vs.Qdrant.URL,
			APIKey:           os.Getenv(vs.Qdrant.APIKeyEnv),
			Collection:       vs.Qdrant.Collection,
			CreateCollection: vs.Qdrant.CreateCollection,
			Dimension:        vs.Dimension,
			Timeout:          secs(vs.Qdrant.TimeoutSecs),
			Retry:            vs.Retry.Policy(),
		})
		if err := s.Init(ctx, vs.Dimension); err != nil {
			return nil, err
		}
		return s, nil
	case "pinecone":
		host := vs.Pinecone.Host
		if host == "" {
			host = os.Getenv(vs.Pinecone.HostEnv)
		}
		return pinecone.NewStorage(pinecone.Config{
			Host:      host,
			APIKeyEnv: vs.Pinecone.APIKeyEnv,
			Timeout:   secs(vs.Pinecone.TimeoutSecs),
			Retry:     vs.Retry.Policy(),
		})
	}
	return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrInvalidConfig, vs.Type)
}

func newChat(cfg *config.AppConfig) (llm.ChatModel, error) {
	l := cfg.LLM
	c := llmopenai.Config{
		BaseURL:           l.BaseURL,
		APIKeyEnv:         l.APIKeyEnv,
		Model:             l.Model,
		Timeout:           secs(l.TimeoutSecs),
		RequestsPerSecond: l.RequestsPerSecond,
		Retry:             l.Retry.Policy(),
	}
	if l.Type == "azure" {
		c.APIKeyEnv = l.Azure.APIKeyEnv
		c.Azure = &llmopenai.AzureConfig{Endpoint: l.Azure.ResolveEndpoint(), APIVersion: l.Azure.APIVersion}
	}
	return llmopenai.NewClient(c)
}
