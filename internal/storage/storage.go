// Package storage keeps the document and chunk records of an index generation on disk.
package storage

import (
	"context"

	"github.com/hyperjump/hubagent/internal/models"
)

// Writer fills a new generation. It is used once, while the generation is built.
type Writer interface {
	SaveDocuments(ctx context.Context, docs []*models.Document) error
	SaveChunks(ctx context.Context, chunks []*models.DocumentChunk) error
}

// Reader serves a published generation.
type Reader interface {
	// ListChunks returns every chunk ordered by Seq.
	ListChunks(ctx context.Context) ([]*models.DocumentChunk, error)
	GetChunk(ctx context.Context, id string) (*models.DocumentChunk, error)
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
}

// ChunkStore is the full record store of one generation.
type ChunkStore interface {
	Writer
	Reader
	Close() error
}

var _ ChunkStore = (*SQLiteStorage)(nil)
