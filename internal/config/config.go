package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         int                `json:"port"`
	JWTSecret    string             `json:"jwt_secret"`
	CORSOrigins  []string           `json:"cors_origins"`
	LogConfig    logger.LogConfig   `json:"log_config"`
	Database     DatabaseConfig     `json:"database"`
	SegmentStore SegmentStoreConfig `json:"segment_store"`
	VectorStore  VectorStoreConfig  `json:"vector_store"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	LLM          LLMConfig          `json:"llm"`
	Chunking     ChunkingConfig     `json:"chunking"`
	Retrieval    RetrievalConfig    `json:"retrieval"`
	Indexing     IndexingConfig     `json:"indexing"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Jobs         JobsConfig         `json:"jobs"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (c DatabaseConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

type SegmentStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type VectorStoreConfig struct {
	Type       string      `json:"type"`
	Collection string      `json:"collection"`
	Dimension  int         `json:"dimension"`
	Data       interface{} `json:"data"`
}

type ProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type RetryConfig struct {
	MaxRetries        int `json:"max_retries"`
	InitialIntervalMS int `json:"initial_interval_ms"`
	MaxIntervalMS     int `json:"max_interval_ms"`
}

type EmbeddingConfig struct {
	Providers         []ProviderConfig `json:"providers"`
	BatchSize         int              `json:"batch_size"`
	RequestsPerSecond float64          `json:"requests_per_second"`
	Burst             int              `json:"burst"`
	Retry             RetryConfig      `json:"retry"`
	LruCacheSize      int              `json:"lru_cache_size"`
	LruCacheTTLSec    int              `json:"lru_cache_ttl_sec"`
	DBCache           bool             `json:"db_cache"`
}

type LLMConfig struct {
	Providers  []ProviderConfig `json:"providers"`
	TimeoutSec int              `json:"timeout_sec"`
	MaxTokens  int              `json:"max_tokens"`
	Retry      RetryConfig      `json:"retry"`
	// USD per 1K tokens, used only for the usage report.
	PromptCostPer1K     float64 `json:"prompt_cost_per_1k"`
	CompletionCostPer1K float64 `json:"completion_cost_per_1k"`
}

type ChunkingConfig struct {
	MaxTokens     int `json:"max_tokens"`
	OverlapTokens int `json:"overlap_tokens"`
	MinChunkSize  int `json:"min_chunk_size"`
}

type RetrievalConfig struct {
	ScoreThreshold     float64 `json:"score_threshold"`
	ConversationLimit  int     `json:"conversation_limit"`
	FolderLimit        int     `json:"folder_limit"`
	GlobalLimit        int     `json:"global_limit"`
	DiscoveryLimit     int     `json:"discovery_limit"`
	MaxResults         int     `json:"max_results"`
	MaxQuestionChars   int     `json:"max_question_chars"`
	HistoryLimit       int     `json:"history_limit"`
	HistoryAnswerChars int     `json:"history_answer_chars"`
}

type IndexingConfig struct {
	IndexVersion int `json:"index_version"`
	Workers      int `json:"workers"`
}

type RateLimitConfig struct {
	AskWindowMS int `json:"ask_window_ms"`
}

type JobsConfig struct {
	StaleIndexSpec         string `json:"stale_index_spec"`
	StaleIndexBatch        int    `json:"stale_index_batch"`
	CacheCleanupSpec       string `json:"cache_cleanup_spec"`
	CacheCleanupMaxAgeDays int    `json:"cache_cleanup_max_age_days"`
}

// Load reads a JSON config, or YAML when the file ends in .yaml/.yml.
// YAML is normalised through JSON so the json tags apply to both formats.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	return Parse(raw, filepath.Ext(path))
}

func Parse(raw []byte, ext string) (*Config, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var tree interface{}
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
		data, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("normalise yaml config: %w", err)
		}
		raw = data
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if !c.Database.Enabled() {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if len(c.Embedding.Providers) == 0 {
		return fmt.Errorf("embedding.providers is required")
	}
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.providers is required")
	}
	for _, p := range append(append([]ProviderConfig{}, c.Embedding.Providers...), c.LLM.Providers...) {
		if p.Provider == "" || p.Model == "" {
			return fmt.Errorf("provider and model are required for every ai provider entry")
		}
	}
	// fallback providers must embed into the same vector space
	model := c.Embedding.Providers[0].Model
	for _, p := range c.Embedding.Providers[1:] {
		if p.Model != model {
			return fmt.Errorf("embedding.providers must share one model, got %q and %q", model, p.Model)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.SegmentStore.Type == "" {
		c.SegmentStore.Type = "local"
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = "transcript_chunks"
	}
	if c.VectorStore.Dimension <= 0 {
		c.VectorStore.Dimension = 1536
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 100
	}
	if c.Embedding.Retry.MaxRetries == 0 {
		c.Embedding.Retry.MaxRetries = 3
	}
	if c.LLM.Retry.MaxRetries == 0 {
		c.LLM.Retry.MaxRetries = 3
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 60
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.Chunking.MaxTokens <= 0 {
		c.Chunking.MaxTokens = 500
	}
	if c.Chunking.OverlapTokens <= 0 {
		c.Chunking.OverlapTokens = 50
	}
	if c.Chunking.MinChunkSize <= 0 {
		c.Chunking.MinChunkSize = 20
	}
	r := &c.Retrieval
	if r.ScoreThreshold <= 0 {
		r.ScoreThreshold = 0.3
	}
	if r.ConversationLimit <= 0 {
		r.ConversationLimit = 10
	}
	if r.FolderLimit <= 0 {
		r.FolderLimit = 15
	}
	if r.GlobalLimit <= 0 {
		r.GlobalLimit = 20
	}
	if r.DiscoveryLimit <= 0 {
		r.DiscoveryLimit = 10
	}
	if r.MaxResults <= 0 {
		r.MaxResults = 50
	}
	if r.MaxQuestionChars <= 0 {
		r.MaxQuestionChars = 2000
	}
	if r.HistoryLimit <= 0 {
		r.HistoryLimit = 6
	}
	if r.HistoryAnswerChars <= 0 {
		r.HistoryAnswerChars = 500
	}
	if c.Indexing.IndexVersion <= 0 {
		c.Indexing.IndexVersion = 1
	}
	if c.Indexing.Workers <= 0 {
		c.Indexing.Workers = 1
	}
	if c.Jobs.StaleIndexBatch <= 0 {
		c.Jobs.StaleIndexBatch = 20
	}
	if c.Jobs.CacheCleanupMaxAgeDays <= 0 {
		c.Jobs.CacheCleanupMaxAgeDays = 30
	}
}
