package config

import "time"

// DefaultExtensions are the source document types picked up by an index build.
var DefaultExtensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx", ".odt", ".rtf"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "none"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "gemini":
			cfg.LLM.Model = "gemini-2.0-flash"
		case "openai":
			cfg.LLM.Model = "gpt-4o-mini"
		}
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 512
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 2
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 4
	}

	if cfg.Router.Strategy == "" {
		cfg.Router.Strategy = "keyword"
	}

	if cfg.Guard.RowLimit == 0 {
		cfg.Guard.RowLimit = 10
	}
	if cfg.Guard.MaxRows == 0 {
		cfg.Guard.MaxRows = 100
	}
	if cfg.Guard.Generator == "" {
		cfg.Guard.Generator = "llm"
	}
	if cfg.Guard.Summarizer == "" {
		cfg.Guard.Summarizer = "table"
	}
	if cfg.Guard.QueryTimeout == 0 {
		cfg.Guard.QueryTimeout = 15 * time.Second
	}

	if cfg.DataStore.Driver == "" {
		cfg.DataStore.Driver = "sqlite3"
	}
	if cfg.DataStore.DSN == "" && cfg.DataStore.Driver == "sqlite3" {
		cfg.DataStore.DSN = "/usr/local/var/hubagent/data/sales.db"
	}
	if cfg.DataStore.MaxOpenConns == 0 {
		cfg.DataStore.MaxOpenConns = 4
	}

	if cfg.Retrieval.SourceDir == "" {
		cfg.Retrieval.SourceDir = "/usr/local/var/hubagent/data/policies"
	}
	if cfg.Retrieval.IndexPath == "" {
		cfg.Retrieval.IndexPath = "/usr/local/var/hubagent/data/index"
	}
	if cfg.Retrieval.Extensions == nil {
		cfg.Retrieval.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 500
	}
	// ChunkOverlap and MinSimilarity are pointers so an explicit 0 survives.
	if cfg.Retrieval.ChunkOverlap == nil {
		overlap := cfg.Retrieval.ChunkOverlapOrDefault()
		cfg.Retrieval.ChunkOverlap = &overlap
	}
	if cfg.Retrieval.Ranker == "" {
		cfg.Retrieval.Ranker = "lexical"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.MinSimilarity == nil {
		floor := cfg.Retrieval.MinSimilarityOrDefault()
		cfg.Retrieval.MinSimilarity = &floor
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.5
		cfg.Retrieval.SemanticWeight = 0.5
	}
	if cfg.Retrieval.Composer == "" {
		cfg.Retrieval.Composer = "excerpt"
	}
	if cfg.Retrieval.MaxExcerpts == 0 {
		cfg.Retrieval.MaxExcerpts = 2
	}
	if cfg.Retrieval.CacheSize == 0 {
		cfg.Retrieval.CacheSize = 256
	}
	if cfg.Retrieval.IndexTimeout == 0 {
		cfg.Retrieval.IndexTimeout = 5 * time.Minute
	}
	if cfg.Retrieval.WatchDebounce == 0 {
		cfg.Retrieval.WatchDebounce = 2 * time.Second
	}
	if cfg.Retrieval.ExtractWorkers == 0 {
		cfg.Retrieval.ExtractWorkers = 4
	}
	// Recursive defaults to true when unset (nil).
	if cfg.Retrieval.Recursive == nil {
		t := true
		cfg.Retrieval.Recursive = &t
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/hubagent/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		if cfg.Embedding.Provider == "onnx" {
			cfg.Embedding.Dimensions = 384
		} else {
			cfg.Embedding.Dimensions = 256
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	if cfg.Orchestrator.RequestTimeout == 0 {
		cfg.Orchestrator.RequestTimeout = 60 * time.Second
	}
}
