// Package index builds, persists and loads immutable index generations of the policy documents.
package index

import (
	"errors"
	"time"

	"github.com/hyperjump/hubagent/internal/keyword"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/storage"
	"github.com/hyperjump/hubagent/internal/vector"
)

const manifestVersion = 1

// Manifest describes a complete generation. It is written last during a build.
type Manifest struct {
	Version             int       `json:"version"`
	ID                  string    `json:"id"`
	CreatedAt           time.Time `json:"created_at"`
	SourceDir           string    `json:"source_dir"`
	Documents           int       `json:"documents"`
	Chunks              int       `json:"chunks"`
	ChunkSize           int       `json:"chunk_size"`
	ChunkOverlap        int       `json:"chunk_overlap"`
	Embedder            string    `json:"embedder"`
	EmbeddingDimensions int       `json:"embedding_dimensions"`
}

// Generation is one loaded, read-only index. It is safe for concurrent queries.
type Generation struct {
	Manifest Manifest
	Path     string
	// Chunks is ordered by Seq.
	Chunks   []*models.DocumentChunk
	Store    storage.ChunkStore
	Vectors  vector.Index
	Keywords keyword.Index

	byID map[string]*models.DocumentChunk
}

func newGeneration(m Manifest, path string, chunks []*models.DocumentChunk) *Generation {
	g := &Generation{Manifest: m, Path: path}
	g.setChunks(chunks)
	return g
}

func (g *Generation) setChunks(chunks []*models.DocumentChunk) {
	g.Chunks = chunks
	g.byID = make(map[string]*models.DocumentChunk, len(chunks))
	for _, c := range chunks {
		g.byID[c.ID] = c
	}
}

// ID returns the generation ID.
func (g *Generation) ID() string { return g.Manifest.ID }

// Chunk returns the chunk with the given ID.
func (g *Generation) Chunk(id string) (*models.DocumentChunk, bool) {
	c, ok := g.byID[id]
	return c, ok
}

// Close releases the stores backing the generation.
func (g *Generation) Close() error {
	var errs []error
	if g.Keywords != nil {
		errs = append(errs, g.Keywords.Close())
	}
	if g.Vectors != nil {
		errs = append(errs, g.Vectors.Close())
	}
	if g.Store != nil {
		errs = append(errs, g.Store.Close())
	}
	return errors.Join(errs...)
}
