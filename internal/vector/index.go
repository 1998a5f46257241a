// Package vector holds chunk embeddings for semantic retrieval.
package vector

import "context"

// Index maps chunk IDs to embeddings. Scores are dot products, which equal
// cosine similarity because embedders return unit vectors.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns at most k matches, best first.
	Search(ctx context.Context, query []float32, k int) ([]*Match, error)
	Save(path string) error
	Load(path string) error
	Dimensions() int
	Size() int
	Close() error
}

// Match pairs a chunk ID with its similarity to the query.
type Match struct {
	ID    string
	Score float64
}

var _ Index = (*MemoryIndex)(nil)
