package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"docrag/internal/domain"
	"docrag/internal/retry"
)

// RetryConfig bounds the retries against one hosted service.
type RetryConfig struct {
	Attempts  int `yaml:"attempts"`
	InitialMs int `yaml:"initial_ms"`
	MaxMs     int `yaml:"max_ms"`
}

// Policy converts the config to a retry.Policy; zero fields take retry defaults.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		Attempts: c.Attempts,
		Initial:  time.Duration(c.InitialMs) * time.Millisecond,
		Max:      time.Duration(c.MaxMs) * time.Millisecond,
	}
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
	MaxUploadMB         int    `yaml:"max_upload_mb"`
	CookieSecure        bool   `yaml:"cookie_secure"`
}

// SessionConfig configures per-session limits.
type SessionConfig struct {
	SourceLimit int `yaml:"source_limit"`
	// IdleTTLMins resets and forgets web sessions idle for longer. Zero keeps them.
	IdleTTLMins int `yaml:"idle_ttl_mins"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// AzureConfig points a client at an Azure OpenAI resource. Endpoint wins
// over EndpointEnv.
type AzureConfig struct {
	Endpoint    string `yaml:"endpoint"`
	EndpointEnv string `yaml:"endpoint_env"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Deployment  string `yaml:"deployment"`
	APIVersion  string `yaml:"api_version"`
}

// ResolveEndpoint returns Endpoint or the value of EndpointEnv.
func (a *AzureConfig) ResolveEndpoint() string {
	if a.Endpoint != "" {
		return a.Endpoint
	}
	if a.EndpointEnv != "" {
		return os.Getenv(a.EndpointEnv)
	}
	return ""
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Azure  *AzureConfig          `yaml:"azure,omitempty"`
	Retry  RetryConfig           `yaml:"retry"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type string `yaml:"type"`
	// Dimension is the vector length the partitions are provisioned with.
	Dimension int             `yaml:"dimension"`
	SQLite    *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Qdrant    *QdrantConfig   `yaml:"qdrant,omitempty"`
	Pinecone  *PineconeConfig `yaml:"pinecone,omitempty"`
	Retry     RetryConfig     `yaml:"retry"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL              string `yaml:"url"`
	APIKeyEnv        string `yaml:"api_key_env"`
	Collection       string `yaml:"collection"`
	CreateCollection bool   `yaml:"create_collection"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
}

// PineconeConfig addresses one Pinecone index by its data-plane host.
type PineconeConfig struct {
	Host        string `yaml:"host"`
	HostEnv     string `yaml:"host_env"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig configures the chat model used to generate answers.
type LLMConfig struct {
	Type              string       `yaml:"type"`
	BaseURL           string       `yaml:"base_url"`
	APIKeyEnv         string       `yaml:"api_key_env"`
	Model             string       `yaml:"model"`
	Models            []string     `yaml:"models"`
	Temperature       float64      `yaml:"temperature"`
	TimeoutSecs       int          `yaml:"timeout_secs"`
	RequestsPerSecond float64      `yaml:"requests_per_second"`
	Azure             *AzureConfig `yaml:"azure,omitempty"`
	Retry             RetryConfig  `yaml:"retry"`
}

// RetrievalConfig tunes question answering.
type RetrievalConfig struct {
	TopK             int `yaml:"top_k"`
	HistoryMessages  int `yaml:"history_messages"`
	SummarySentences int `yaml:"summary_sentences"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stderr, stdout or a file path.
	Output string `yaml:"output"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidConfig, path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it returns defaults without writing anything.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := DefaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	return Default(), "", nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

// Default returns the configuration used when no file is present: offline
// hashing embeddings into an in-memory store, OpenAI for chat.
func Default() *AppConfig {
	cfg := &AppConfig{LLM: LLMConfig{Models: []string{"gpt-4o-mini", "gpt-4o"}}}
	applyConfigDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields, including the section of a store or
// embedder type chosen after loading. It is idempotent.
func (c *AppConfig) ApplyDefaults() { applyConfigDefaults(c) }

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Session.SourceLimit == 0 {
		cfg.Session.SourceLimit = 10
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 5000
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = 1000
		}
	}
	if cfg.VectorStore.Dimension == 0 {
		cfg.VectorStore.Dimension = 1024
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.HistoryMessages == 0 {
		cfg.Retrieval.HistoryMessages = 20
	}
	if cfg.Retrieval.SummarySentences == 0 {
		cfg.Retrieval.SummarySentences = 2
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}

	switch cfg.Embedder.Type {
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 64
		}
	case "azure":
		if cfg.Embedder.Azure == nil {
			cfg.Embedder.Azure = &AzureConfig{}
		}
		azureDefaults(cfg.Embedder.Azure)
		if cfg.Embedder.Azure.Deployment == "" {
			cfg.Embedder.Azure.Deployment = "text-embedding-3-large"
		}
	}

	switch cfg.VectorStore.Type {
	case "sqlite":
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = filepath.Join(".docrag", "vectors.db")
		}
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Collection == "" {
			q.Collection = "docrag"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	case "pinecone":
		if cfg.VectorStore.Pinecone == nil {
			cfg.VectorStore.Pinecone = &PineconeConfig{}
		}
		p := cfg.VectorStore.Pinecone
		if p.Host == "" && p.HostEnv == "" {
			p.HostEnv = "PINECONE_HOST"
		}
		if p.APIKeyEnv == "" {
			p.APIKeyEnv = "PINECONE_API_KEY"
		}
		if p.TimeoutSecs == 0 {
			p.TimeoutSecs = 15
		}
	}

	switch cfg.LLM.Type {
	case "", "openai":
		cfg.LLM.Type = "openai"
		if cfg.LLM.APIKeyEnv == "" {
			cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
		}
	case "azure":
		if cfg.LLM.Azure == nil {
			cfg.LLM.Azure = &AzureConfig{}
		}
		azureDefaults(cfg.LLM.Azure)
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 60
	}
	if !slices.Contains(cfg.LLM.Models, cfg.LLM.Model) {
		cfg.LLM.Models = append([]string{cfg.LLM.Model}, cfg.LLM.Models...)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

func azureDefaults(a *AzureConfig) {
	if a.Endpoint == "" && a.EndpointEnv == "" {
		a.EndpointEnv = "AZ_OPENAI_ENDPOINT"
	}
	if a.APIKeyEnv == "" {
		a.APIKeyEnv = "AZ_OPENAI_API_KEY"
	}
	if a.APIVersion == "" {
		a.APIVersion = "2024-02-15-preview"
	}
}

// Validate rejects configurations the process cannot start with.
func (c *AppConfig) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if c.Chunker.Size <= 0 {
		bad("chunker.size must be positive, got %d", c.Chunker.Size)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		bad("chunker.overlap must be in [0, %d), got %d", c.Chunker.Size, c.Chunker.Overlap)
	}
	if c.VectorStore.Dimension <= 0 {
		bad("vector_store.dimension must be positive, got %d", c.VectorStore.Dimension)
	}
	if c.Retrieval.TopK <= 0 {
		bad("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Session.SourceLimit <= 0 {
		bad("session.source_limit must be positive, got %d", c.Session.SourceLimit)
	}
	if !slices.Contains([]string{"hashing", "openai", "azure"}, c.Embedder.Type) {
		bad("embedder.type %q is not one of hashing, openai, azure", c.Embedder.Type)
	}
	if !slices.Contains([]string{"memory", "sqlite", "qdrant", "pinecone"}, c.VectorStore.Type) {
		bad("vector_store.type %q is not one of memory, sqlite, qdrant, pinecone", c.VectorStore.Type)
	}
	if !slices.Contains([]string{"openai", "azure"}, c.LLM.Type) {
		bad("llm.type %q is not one of openai, azure", c.LLM.Type)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, c.Logging.Level) {
		bad("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		bad("logging.format %q is not one of text, json", c.Logging.Format)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
}
