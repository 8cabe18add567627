package policygraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/policygraph/llm"
)

// Config holds all configuration for the policy graph engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.policygraph/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set: "home" (default) or "local".
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Retrieval
	TopK              int     `json:"top_k" yaml:"top_k"`
	PreviewChars      int     `json:"preview_chars" yaml:"preview_chars"`
	SelectTemperature float64 `json:"select_temperature" yaml:"select_temperature"`

	// ClassifyClauses refines title hints with the chat model at ingest.
	ClassifyClauses bool `json:"classify_clauses" yaml:"classify_clauses"`
	// GenerateAnswers makes Query write an answer from the assembled context.
	GenerateAnswers bool `json:"generate_answers" yaml:"generate_answers"`

	// Concurrency
	EmbedBatchSize    int `json:"embed_batch_size" yaml:"embed_batch_size"`
	EmbedConcurrency  int `json:"embed_concurrency" yaml:"embed_concurrency"`
	IngestConcurrency int `json:"ingest_concurrency" yaml:"ingest_concurrency"`
	QueryConcurrency  int `json:"query_concurrency" yaml:"query_concurrency"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	// APIKey is read from the environment only.
	APIKey            string        `json:"-" yaml:"-"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Timeout           time.Duration `json:"timeout" yaml:"timeout"`
}

func (c LLMConfig) provider() llm.Config {
	return llm.Config{
		Provider:          c.Provider,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           c.Timeout,
	}
}

// DefaultConfig returns a Config for the OpenAI API with
// text-embedding-3-small vectors. The database is stored in
// ~/.policygraph/policygraph.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "policygraph",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: LLMConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		EmbeddingDim:      1536,
		TopK:              10,
		PreviewChars:      200,
		SelectTemperature: 0.1,
		GenerateAnswers:   true,
		EmbedBatchSize:    32,
		EmbedConcurrency:  4,
		IngestConcurrency: 2,
		QueryConcurrency:  4,
	}
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EmbeddingDim <= 0 {
		c.EmbeddingDim = d.EmbeddingDim
	}
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = d.PreviewChars
	}
	if c.SelectTemperature <= 0 {
		c.SelectTemperature = d.SelectTemperature
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = d.EmbedBatchSize
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = d.EmbedConcurrency
	}
	if c.IngestConcurrency <= 0 {
		c.IngestConcurrency = d.IngestConcurrency
	}
	if c.QueryConcurrency <= 0 {
		c.QueryConcurrency = d.QueryConcurrency
	}
	return c
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "policygraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".policygraph", name+".db")
	}
}

// LoadConfig starts from DefaultConfig, overlays the file at path (YAML or
// JSON by extension; an empty path skips the file) and then the
// POLICYGRAPH_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = json.Unmarshal(data, &cfg)
		default:
			err = yaml.Unmarshal(data, &cfg)
		}
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings New cannot work with.
func (c Config) Validate() error {
	if c.EmbeddingDim < 0 {
		return fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	if c.TopK < 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidConfig)
	}
	if c.SelectTemperature < 0 || c.SelectTemperature > 2 {
		return fmt.Errorf("%w: select_temperature must be within [0, 2]", ErrInvalidConfig)
	}
	return nil
}

// applyEnv overrides cfg from environment variables read through getenv.
func applyEnv(cfg *Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	llmEnv := func(prefix string, dst *LLMConfig) {
		str(prefix+"_PROVIDER", &dst.Provider)
		str(prefix+"_MODEL", &dst.Model)
		str(prefix+"_BASE_URL", &dst.BaseURL)
		str(prefix+"_API_KEY", &dst.APIKey)
		float(prefix+"_RPS", &dst.RequestsPerSecond)
		if v := getenv(prefix + "_TIMEOUT"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				dst.Timeout = d
			}
		}
	}

	str("POLICYGRAPH_DB_PATH", &cfg.DBPath)
	str("POLICYGRAPH_DB_NAME", &cfg.DBName)
	str("POLICYGRAPH_STORAGE_DIR", &cfg.StorageDir)
	llmEnv("POLICYGRAPH_CHAT", &cfg.Chat)
	llmEnv("POLICYGRAPH_EMBEDDING", &cfg.Embedding)
	num("POLICYGRAPH_EMBEDDING_DIM", &cfg.EmbeddingDim)
	num("POLICYGRAPH_TOP_K", &cfg.TopK)
	num("POLICYGRAPH_PREVIEW_CHARS", &cfg.PreviewChars)
	float("POLICYGRAPH_SELECT_TEMPERATURE", &cfg.SelectTemperature)
	flag("POLICYGRAPH_CLASSIFY_CLAUSES", &cfg.ClassifyClauses)
	flag("POLICYGRAPH_GENERATE_ANSWERS", &cfg.GenerateAnswers)
	num("POLICYGRAPH_EMBED_BATCH_SIZE", &cfg.EmbedBatchSize)
	num("POLICYGRAPH_EMBED_CONCURRENCY", &cfg.EmbedConcurrency)
	num("POLICYGRAPH_INGEST_CONCURRENCY", &cfg.IngestConcurrency)
	num("POLICYGRAPH_QUERY_CONCURRENCY", &cfg.QueryConcurrency)

	// A single OpenAI key serves both providers unless they set their own.
	if key := getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Chat.APIKey == "" {
			cfg.Chat.APIKey = key
		}
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
	}
}
