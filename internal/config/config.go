// Package config loads, validates and persists the YAML application
// configuration. ${VAR} references in the file are expanded from the
// environment before parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OllamaConfig configures the embedding and generation model endpoint.
type OllamaConfig struct {
	Endpoint       string `yaml:"endpoint" validate:"required,url"`
	EmbeddingModel string `yaml:"embedding_model" validate:"required"`
	ChatModel      string `yaml:"chat_model" validate:"required"`
	TimeoutSecs    int    `yaml:"timeout_secs" validate:"gte=1,lte=600"`
}

// ChunkingConfig configures how document text is split into token windows.
type ChunkingConfig struct {
	ChunkSizeTokens   int `yaml:"chunk_size_tokens" validate:"gte=1,lte=100000"`
	OverlapPercentage int `yaml:"overlap_percentage" validate:"gte=0,lt=100"`
}

// RetrievalConfig configures similarity search defaults.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k" validate:"gte=1,lte=100"`
	MinSimilarity float64 `yaml:"min_similarity" validate:"gte=0,lte=1"`
	Dimension     int     `yaml:"dimension" validate:"gte=1,lte=8192"`
}

// MilvusConfig contains connection details for the Milvus vector store.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Type   string       `yaml:"type" validate:"oneof=memory milvus"`
	Milvus MilvusConfig `yaml:"milvus,omitempty"`
}

// MetadataConfig configures the SQLite metadata database.
type MetadataConfig struct {
	Path     string `yaml:"path" validate:"required"`
	PoolSize int    `yaml:"pool_size" validate:"gte=1,lte=64"`
}

// RetryConfig configures the backoff policy for model service calls.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelayMs   int `yaml:"base_delay_ms" validate:"gte=1"`
	MaxDelayMs    int `yaml:"max_delay_ms" validate:"gte=1"`
	JitterBoundMs int `yaml:"jitter_bound_ms" validate:"gte=0"`
}

// IngestConfig bounds accepted uploads.
type IngestConfig struct {
	MaxFileSizeBytes int64    `yaml:"max_file_size_bytes" validate:"gte=1"`
	AllowedFormats   []string `yaml:"allowed_formats" validate:"min=1"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Ollama      OllamaConfig      `yaml:"ollama"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Retry       RetryConfig       `yaml:"retry"`
	Ingest      IngestConfig      `yaml:"ingest"`
}

// Load reads a config from the given path. A missing file yields defaults;
// a present file is env-expanded and parsed over the defaults, so absent
// keys fall back while explicit values (including zeros) are kept.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragengine/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
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

// Validate checks field ranges and cross-field consistency.
func Validate(cfg *AppConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.Retry.MaxDelayMs < cfg.Retry.BaseDelayMs {
		return errors.New("retry: max_delay_ms must be >= base_delay_ms")
	}
	if cfg.VectorStore.Type == "milvus" && cfg.VectorStore.Milvus.Address == "" {
		return errors.New("vector_store: milvus backend requires an address")
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragengine", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Ollama: OllamaConfig{
			Endpoint:       "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			ChatModel:      "gemma3:270m",
			TimeoutSecs:    30,
		},
		Chunking: ChunkingConfig{
			ChunkSizeTokens:   1000,
			OverlapPercentage: 10,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinSimilarity: 0.5,
			Dimension:     768,
		},
		VectorStore: VectorStoreConfig{
			Type:   "memory",
			Milvus: MilvusConfig{Address: "localhost:19530", Collection: "chunks"},
		},
		Metadata: MetadataConfig{
			Path:     "ragengine.db",
			PoolSize: 10,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelayMs:   1000,
			MaxDelayMs:    10000,
			JitterBoundMs: 1000,
		},
		Ingest: IngestConfig{
			MaxFileSizeBytes: 100 << 20,
			AllowedFormats:   []string{"txt", "md", "pdf"},
		},
	}
}
