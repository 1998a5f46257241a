// Package config provides configuration loading and structs for the hubagent service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Router       RouterConfig       `yaml:"router"`
	Guard        GuardConfig        `yaml:"guard"`
	DataStore    DataStoreConfig    `yaml:"datastore"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig selects and tunes the language model client.
// Provider is one of "none", "openai" or "gemini".
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	APIBase           string        `yaml:"api_base"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// Enabled reports whether a language model provider is configured.
func (l *LLMConfig) Enabled() bool {
	return l.Provider != "" && l.Provider != "none"
}

// RouterConfig holds intent router settings. Strategy is "keyword", "llm" or "hybrid".
type RouterConfig struct {
	Strategy        string   `yaml:"strategy"`
	StructuredTerms []string `yaml:"structured_terms"`
	DocumentTerms   []string `yaml:"document_terms"`
}

// GuardConfig holds the SQL responder's security policy.
type GuardConfig struct {
	// Denylist replaces the built-in forbidden patterns when non-empty.
	Denylist []string `yaml:"denylist"`
	// ExtraDenylist is appended to the active denylist.
	ExtraDenylist []string `yaml:"extra_denylist"`
	// RowLimit is the row cap the generator is instructed to apply.
	RowLimit int `yaml:"row_limit"`
	// MaxRows is the hard cap enforced on every executed result set.
	MaxRows      int           `yaml:"max_rows"`
	Generator    string        `yaml:"generator"`
	Summarizer   string        `yaml:"summarizer"`
	SchemaFile   string        `yaml:"schema_file"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DataStoreConfig holds the relational store connection. Driver is "sqlite3" or "pgx".
type DataStoreConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RetrievalConfig holds document ingestion, index and ranking settings.
type RetrievalConfig struct {
	SourceDir      string        `yaml:"source_dir"`
	Extensions     []string      `yaml:"extensions"`
	Recursive      *bool         `yaml:"recursive"`
	IndexPath      string        `yaml:"index_path"`
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkOverlap   *int          `yaml:"chunk_overlap"`
	Ranker         string        `yaml:"ranker"`
	TopK           int           `yaml:"top_k"`
	MinSimilarity  *float64      `yaml:"min_similarity"`
	KeywordWeight  float64       `yaml:"keyword_weight"`
	SemanticWeight float64       `yaml:"semantic_weight"`
	Composer       string        `yaml:"composer"`
	MaxExcerpts    int           `yaml:"max_excerpts"`
	CacheSize      int           `yaml:"cache_size"`
	Watch          bool          `yaml:"watch"`
	WatchDebounce  time.Duration `yaml:"watch_debounce"`
	IndexTimeout   time.Duration `yaml:"index_timeout"`
	ExtractWorkers int           `yaml:"extract_workers"`
}

// RecursiveOrDefault returns whether to scan the source directory recursively; defaults to true when unset.
func (r *RetrievalConfig) RecursiveOrDefault() bool {
	if r.Recursive != nil {
		return *r.Recursive
	}
	return true
}

// ChunkOverlapOrDefault returns the chunk overlap in runes; defaults to 50 when unset.
// An explicit 0 disables overlap.
func (r *RetrievalConfig) ChunkOverlapOrDefault() int {
	if r.ChunkOverlap != nil {
		return *r.ChunkOverlap
	}
	return 50
}

// MinSimilarityOrDefault returns the semantic score floor; defaults to 0.2 when unset.
func (r *RetrievalConfig) MinSimilarityOrDefault() float64 {
	if r.MinSimilarity != nil {
		return *r.MinSimilarity
	}
	return 0.2
}

// EmbeddingConfig holds embedder settings. Provider is "hashing" or "onnx".
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// OrchestratorConfig bounds a whole question-handling call.
type OrchestratorConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Load reads and parses the config file at path, loads an optional .env next to it,
// applies environment overrides, expands paths, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Retrieval.SourceDir = expandPath(cfg.Retrieval.SourceDir, configDir)
	cfg.Retrieval.IndexPath = expandPath(cfg.Retrieval.IndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Guard.SchemaFile != "" {
		cfg.Guard.SchemaFile = expandPath(cfg.Guard.SchemaFile, configDir)
	}
	if cfg.DataStore.Driver == "sqlite3" {
		cfg.DataStore.DSN = expandPath(cfg.DataStore.DSN, configDir)
	}

	return &cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set in the environment win. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv fills secrets from the environment when the file leaves them empty.
func ApplyEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = firstEnv("HUBAGENT_LLM_API_KEY", providerKeyEnv(cfg.LLM.Provider))
	}
	if v := os.Getenv("HUBAGENT_DATASTORE_DSN"); v != "" {
		cfg.DataStore.DSN = v
	} else if cfg.DataStore.DSN == "" {
		cfg.DataStore.DSN = os.Getenv("DATABASE_URL")
	}
}

func providerKeyEnv(provider string) string {
	switch provider {
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
