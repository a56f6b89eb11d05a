package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port           int               `json:"port"`
	LogConfig      logger.LogConfig  `json:"log_config"`
	Database       DatabaseConfig    `json:"database"`
	VectorStore    VectorStoreConfig `json:"vector_store"`
	FileStore      FileStoreConfig   `json:"file_store"`
	AI             AIConfig          `json:"ai"`
	Retrieval      RetrievalConfig   `json:"retrieval"`
	Translation    TranslationConfig `json:"translation"`
	History        HistoryConfig     `json:"history"`
	Github         GithubConfig      `json:"github"`
	Fetcher        FetcherConfig     `json:"fetcher"`
	EmbedCache     EmbedCacheConfig  `json:"embed_cache"`
	RateLimit      RateLimitConfig   `json:"rate_limit"`
	DefaultTenant  string            `json:"default_tenant"`
	BlockedDomains []string          `json:"blocked_domains"`
	AllowedOrigins []string          `json:"allowed_origins"`
	MaxUploadBytes int64             `json:"max_upload_bytes"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Path     string `json:"path"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type VectorStoreConfig struct {
	Type string `json:"type"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	Generator     []ProviderConfig `json:"generator"`
	Embedder      []ProviderConfig `json:"embedder"`
	Timeout       int              `json:"timeout"`
	MaxInputChars int              `json:"max_input_chars"`
}

type RetrievalConfig struct {
	TopK     int     `json:"top_k"`
	MinScore float32 `json:"min_score"`
}

type TranslationConfig struct {
	Concurrency     int `json:"concurrency"`
	CacheSize       int `json:"cache_size"`
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
	Timeout         int `json:"timeout"`
}

type HistoryConfig struct {
	MaxTurns int `json:"max_turns"`
}

type GithubConfig struct {
	Token         string   `json:"token"`
	MaxFiles      int      `json:"max_files"`
	Extensions    []string `json:"extensions"`
	Exclude       []string `json:"exclude"`
	RatePerSecond int      `json:"rate_per_second"`
	Concurrency   int      `json:"concurrency"`
	Timeout       int      `json:"timeout"`
}

type FetcherConfig struct {
	Timeout   int    `json:"timeout"`
	UserAgent string `json:"user_agent"`
	MaxBytes  int64  `json:"max_bytes"`
}

type EmbedCacheConfig struct {
	LRUSize       int    `json:"lru_size"`
	LRUTTLSeconds int    `json:"lru_ttl_seconds"`
	DB            bool   `json:"db"`
	RetentionDays int    `json:"retention_days"`
	CleanupSpec   string `json:"cleanup_spec"`
}

type RateLimitConfig struct {
	WindowMillis int `json:"window_millis"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" && c.Database.DSN == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = c.Database.Driver
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	if len(c.AI.Generator) == 0 {
		return fmt.Errorf("ai.generator is required")
	}
	if len(c.AI.Embedder) == 0 {
		return fmt.Errorf("ai.embedder is required")
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 60
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 4
	}
	if c.Translation.Concurrency <= 0 {
		c.Translation.Concurrency = 4
	}
	if c.Translation.CacheSize <= 0 {
		c.Translation.CacheSize = 2000
	}
	if c.Translation.CacheTTLSeconds <= 0 {
		c.Translation.CacheTTLSeconds = 3600
	}
	if c.Translation.Timeout <= 0 {
		c.Translation.Timeout = 30
	}
	if c.History.MaxTurns <= 0 {
		c.History.MaxTurns = 5
	}
	if c.Github.MaxFiles <= 0 {
		c.Github.MaxFiles = 500
	}
	if c.Github.RatePerSecond <= 0 {
		c.Github.RatePerSecond = 10
	}
	if c.Github.Concurrency <= 0 {
		c.Github.Concurrency = 4
	}
	if c.Github.Timeout <= 0 {
		c.Github.Timeout = 30
	}
	if c.Fetcher.Timeout <= 0 {
		c.Fetcher.Timeout = 30
	}
	if c.Fetcher.MaxBytes <= 0 {
		c.Fetcher.MaxBytes = 5 << 20
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 20 << 20
	}
	if c.EmbedCache.RetentionDays <= 0 {
		c.EmbedCache.RetentionDays = 30
	}
	if c.EmbedCache.CleanupSpec == "" {
		c.EmbedCache.CleanupSpec = "30 3 * * *"
	}
	return nil
}
