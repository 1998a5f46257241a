// Package embedding provides text embeddings for the semantic ranker.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/hubagent/internal/config"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Name identifies the embedding space; vectors from different names are not comparable.
	Name() string
	Close() error
}

// New builds the embedder selected by cfg. An ONNX embedder that cannot be created
// (no CGO, missing model) falls back to the hashing embedder with a warning.
func New(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case "onnx":
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
		if err == nil {
			return e, nil
		}
		if logger != nil {
			logger.Warn("onnx embedder unavailable, using hashing embedder", zap.Error(err))
		}
		return NewCached(NewHashingEmbedder(cfg.Dimensions), cfg.CacheSize), nil
	case "hashing", "":
		return NewCached(NewHashingEmbedder(cfg.Dimensions), cfg.CacheSize), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
