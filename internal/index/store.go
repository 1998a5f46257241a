package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/hubagent/internal/embedding"
	"github.com/hyperjump/hubagent/internal/indexer"
	"github.com/hyperjump/hubagent/internal/keyword"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/storage"
	"github.com/hyperjump/hubagent/internal/vector"
	"github.com/hyperjump/hubagent/pkg/utils"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by Load when no generation has been published.
	ErrNotFound = errors.New("index not found")
	// ErrCorrupt is returned by Load when the published generation is incomplete or inconsistent.
	ErrCorrupt = errors.New("index corrupt")
	// ErrStale is returned by Load when the generation was built with different settings.
	ErrStale = errors.New("index built with different settings")
)

const (
	currentFile  = "CURRENT"
	manifestFile = "manifest.json"
	chunksFile   = "chunks.db"
	vectorsFile  = "vectors.bin"
	keywordDir   = "bleve"
	genPrefix    = "gen-"
	tmpSuffix    = ".tmp"
	embedBatch   = 64
)

// Options configures what a Store builds and accepts on load.
type Options struct {
	Root         string
	SourceDir    string
	ChunkSize    int
	ChunkOverlap int
}

// Store manages the generations under a root directory. Build and Prune must not run
// concurrently with each other; callers serialize them.
type Store struct {
	opts      Options
	collector *indexer.Collector
	chunker   *indexer.Chunker
	embedder  embedding.Embedder
	logger    *zap.Logger
}

// NewStore creates a store. The chunking parameters are validated here.
func NewStore(opts Options, collector *indexer.Collector, embedder embedding.Embedder, logger *zap.Logger) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("index path not configured")
	}
	chunker, err := indexer.NewChunker(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if collector == nil {
		collector = indexer.NewCollector(nil)
	}
	if embedder == nil {
		embedder = embedding.NewHashingEmbedder(0)
	}
	return &Store{
		opts:      opts,
		collector: collector,
		chunker:   chunker,
		embedder:  embedder,
		logger:    utils.OrNop(logger),
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.opts.Root }

// SourceDir returns the directory documents are collected from.
func (s *Store) SourceDir() string { return s.opts.SourceDir }

func (s *Store) genDir(id string) string {
	return filepath.Join(s.opts.Root, genPrefix+id)
}

// Current returns the ID of the published generation.
func (s *Store) Current() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.opts.Root, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read current pointer: %w", err)
	}
	id := strings.TrimSpace(string(b))
	if id == "" {
		return "", fmt.Errorf("%w: empty current pointer", ErrCorrupt)
	}
	return id, nil
}

// Load opens the published generation and checks it against the store settings.
func (s *Store) Load(ctx context.Context) (*Generation, error) {
	id, err := s.Current()
	if err != nil {
		return nil, err
	}
	g, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	m := g.Manifest
	if m.ChunkSize != s.opts.ChunkSize || m.ChunkOverlap != s.opts.ChunkOverlap ||
		m.Embedder != s.embedder.Name() || m.EmbeddingDimensions != s.embedder.Dimensions() {
		g.Close()
		return nil, fmt.Errorf("%w: generation %s", ErrStale, id)
	}
	return g, nil
}

// open loads a generation directory, cross-checking every representation against the manifest.
func (s *Store) open(ctx context.Context, id string) (*Generation, error) {
	dir := s.genDir(id)
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if m.ID != id || m.Version != manifestVersion {
		return nil, fmt.Errorf("%w: manifest %s does not match generation %s", ErrCorrupt, m.ID, id)
	}
	g := newGeneration(m, dir, nil)
	if err := g.load(ctx); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (g *Generation) load(ctx context.Context) error {
	m := g.Manifest
	st, err := storage.OpenSQLiteStorage(filepath.Join(g.Path, chunksFile))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	g.Store = st
	chunks, err := st.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	docs, err := st.CountDocuments(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(chunks) != m.Chunks || int(docs) != m.Documents {
		return fmt.Errorf("%w: store has %d documents/%d chunks, manifest %d/%d",
			ErrCorrupt, docs, len(chunks), m.Documents, m.Chunks)
	}
	g.setChunks(chunks)

	vi, err := vector.NewMemoryIndex(m.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	g.Vectors = vi
	if err := vi.Load(filepath.Join(g.Path, vectorsFile)); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if vi.Size() != m.Chunks {
		return fmt.Errorf("%w: %d vectors for %d chunks", ErrCorrupt, vi.Size(), m.Chunks)
	}

	kw, err := keyword.OpenBleveIndex(filepath.Join(g.Path, keywordDir))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	g.Keywords = kw
	n, err := kw.DocCount()
	if err != nil || int(n) != m.Chunks {
		return fmt.Errorf("%w: keyword index has %d chunks, manifest %d", ErrCorrupt, n, m.Chunks)
	}
	return nil
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return m, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	return m, nil
}

// Build collects, chunks and indexes the source directory into a new generation,
// publishes it as current and returns it opened. On failure nothing is published.
func (s *Store) Build(ctx context.Context) (*Generation, error) {
	start := time.Now()
	docs, err := s.collector.Collect(ctx, s.opts.SourceDir)
	if err != nil {
		return nil, err
	}
	chunks := s.chunker.ChunkAll(docs)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", indexer.ErrNoDocuments, s.opts.SourceDir)
	}

	id := uuid.NewString()
	tmp := s.genDir(id) + tmpSuffix
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return nil, fmt.Errorf("create generation directory: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(tmp)
		}
	}()

	m := Manifest{
		Version:             manifestVersion,
		ID:                  id,
		CreatedAt:           time.Now().UTC(),
		SourceDir:           s.opts.SourceDir,
		Documents:           len(docs),
		Chunks:              len(chunks),
		ChunkSize:           s.opts.ChunkSize,
		ChunkOverlap:        s.opts.ChunkOverlap,
		Embedder:            s.embedder.Name(),
		EmbeddingDimensions: s.embedder.Dimensions(),
	}
	if err := s.writeStore(ctx, tmp, docs, chunks); err != nil {
		return nil, err
	}
	if err := s.writeVectors(ctx, tmp, chunks); err != nil {
		return nil, err
	}
	if err := writeKeywords(ctx, tmp, chunks); err != nil {
		return nil, err
	}
	if err := writeJSONFile(filepath.Join(tmp, manifestFile), m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	final := s.genDir(id)
	if err := os.Rename(tmp, final); err != nil {
		return nil, fmt.Errorf("publish generation: %w", err)
	}
	published = true
	if err := s.setCurrent(id); err != nil {
		_ = os.RemoveAll(final)
		return nil, err
	}

	s.logger.Info("index generation built",
		zap.String("generation", id),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)))
	return s.open(ctx, id)
}

func (s *Store) writeStore(ctx context.Context, dir string, docs []*models.Document, chunks []*models.DocumentChunk) error {
	st, err := storage.NewSQLiteStorage(filepath.Join(dir, chunksFile))
	if err != nil {
		return err
	}
	if err := st.SaveDocuments(ctx, docs); err != nil {
		st.Close()
		return fmt.Errorf("save documents: %w", err)
	}
	if err := st.SaveChunks(ctx, chunks); err != nil {
		st.Close()
		return fmt.Errorf("save chunks: %w", err)
	}
	return st.Close()
}

func (s *Store) writeVectors(ctx context.Context, dir string, chunks []*models.DocumentChunk) error {
	vi, err := vector.NewMemoryIndex(s.embedder.Dimensions())
	if err != nil {
		return err
	}
	defer vi.Close()
	for start := 0; start < len(chunks); start += embedBatch {
		end := start + embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		ids := make([]string, 0, end-start)
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			ids = append(ids, c.ID)
			texts = append(texts, c.Content)
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if err := vi.Add(ctx, ids, vecs); err != nil {
			return fmt.Errorf("add vectors: %w", err)
		}
	}
	return vi.Save(filepath.Join(dir, vectorsFile))
}

func writeKeywords(ctx context.Context, dir string, chunks []*models.DocumentChunk) error {
	kw, err := keyword.NewBleveIndex(filepath.Join(dir, keywordDir))
	if err != nil {
		return err
	}
	if err := kw.IndexChunks(ctx, chunks); err != nil {
		kw.Close()
		return fmt.Errorf("index keywords: %w", err)
	}
	return kw.Close()
}

// setCurrent replaces the CURRENT pointer atomically.
func (s *Store) setCurrent(id string) error {
	path := filepath.Join(s.opts.Root, currentFile)
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0644); err != nil {
		return fmt.Errorf("write current pointer: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish current pointer: %w", err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Generations lists the generation IDs present on disk, including unpublished ones, sorted.
func (s *Store) Generations() ([]string, error) {
	entries, err := os.ReadDir(s.opts.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), genPrefix) {
			ids = append(ids, strings.TrimPrefix(e.Name(), genPrefix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Prune removes every generation directory except keep, including leftovers of failed builds.
func (s *Store) Prune(keep string) error {
	ids, err := s.Generations()
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if id == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.opts.Root, genPrefix+id)); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("pruned index generation", zap.String("generation", id))
	}
	return errors.Join(errs...)
}

// DiskUsage returns the bytes used under the store root, including
// generations that are not yet pruned.
func (s *Store) DiskUsage() (int64, error) {
	u, err := storage.MeasureUsage(s.opts.Root)
	return u.Bytes, err
}
