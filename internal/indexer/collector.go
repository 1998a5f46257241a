package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/hubagent/internal/extract"
	"github.com/hyperjump/hubagent/internal/fileid"
	"github.com/hyperjump/hubagent/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSource is returned when the source directory does not exist or is not a directory.
	ErrNoSource = errors.New("policy source directory not available")
	// ErrNoDocuments is returned when the source directory holds no usable documents.
	ErrNoDocuments = errors.New("no policy documents found")
)

// Collector enumerates and extracts the documents of a source directory.
type Collector struct {
	extractor  *extract.Extractor
	extensions []string
	recursive  bool
	workers    int
	logger     *zap.Logger // optional
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLogger sets a logger for skipped files and progress.
func WithLogger(l *zap.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

// WithExtensions restricts collection to the given extensions (case-insensitive, dot optional).
func WithExtensions(exts []string) CollectorOption {
	return func(c *Collector) { c.extensions = exts }
}

// WithRecursive controls whether subdirectories are scanned.
func WithRecursive(recursive bool) CollectorOption {
	return func(c *Collector) { c.recursive = recursive }
}

// WithWorkers bounds the number of files extracted concurrently.
func WithWorkers(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.workers = n
		}
	}
}

// NewCollector creates a collector. extractor may be nil, in which case files are read as plain text.
func NewCollector(extractor *extract.Extractor, opts ...CollectorOption) *Collector {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	c := &Collector{
		extractor: extractor,
		recursive: true,
		workers:   4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns the documents under dir in lexical path order.
// Files that cannot be extracted or are empty are skipped with a warning.
func (c *Collector) Collect(ctx context.Context, dir string) ([]*models.Document, error) {
	paths, err := c.listFiles(dir)
	if err != nil {
		return nil, err
	}
	docs := make([]*models.Document, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := c.load(dir, rel)
			if err != nil {
				c.warn("skipping document", rel, err)
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, dir)
	}
	return out, nil
}

func (c *Collector) load(root, rel string) (*models.Document, error) {
	text, err := c.extractor.Extract(filepath.Join(root, rel))
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	content := Preprocess(text)
	if content == "" {
		return nil, errors.New("empty after extraction")
	}
	source := filepath.ToSlash(rel)
	return &models.Document{
		ID:        fileid.DocID(rel),
		Source:    source,
		Title:     strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
		Content:   content,
		CreatedAt: time.Now(),
	}, nil
}

// listFiles walks dir and returns matching regular files relative to dir, in lexical order.
func (c *Collector) listFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, dir)
	}
	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !c.recursive {
				return fs.SkipDir
			}
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), c.extensions) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source directory: %w", err)
	}
	return paths, nil
}

func (c *Collector) warn(msg, rel string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, zap.String("path", rel), zap.Error(err))
	}
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
