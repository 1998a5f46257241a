// Package keyword holds the full-text index over chunk content.
package keyword

import (
	"context"

	"github.com/hyperjump/hubagent/internal/models"
)

// Index answers full-text queries over the chunks of one generation.
type Index interface {
	IndexChunks(ctx context.Context, chunks []*models.DocumentChunk) error
	// Search returns chunk IDs with their relevance, best first.
	Search(ctx context.Context, query string, limit int) ([]*Match, error)
	DocCount() (uint64, error)
	Close() error
}

// Match pairs a chunk ID with its full-text relevance.
type Match struct {
	ID    string
	Score float64
}

var _ Index = (*BleveIndex)(nil)
