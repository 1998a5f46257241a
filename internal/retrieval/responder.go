// Package retrieval answers policy questions from the indexed document collection.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hyperjump/hubagent/internal/config"
	"github.com/hyperjump/hubagent/internal/embedding"
	"github.com/hyperjump/hubagent/internal/extract"
	"github.com/hyperjump/hubagent/internal/index"
	"github.com/hyperjump/hubagent/internal/indexer"
	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/pkg/utils"
	"go.uber.org/zap"
)

const (
	// UnavailableMessage is returned while no index generation is loaded.
	UnavailableMessage = "The knowledge base is currently unavailable. No policy documents have been indexed yet."
	// NotFoundMessage is returned when no chunk clears the relevance floor.
	NotFoundMessage = "I could not find an answer to that question in the policy documents."

	failedMessage = "I could not search the policy documents for that question."
)

// Status describes the responder's index state.
type Status struct {
	Ready      bool      `json:"ready"`
	Generation string    `json:"generation,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
	Documents  int       `json:"documents"`
	Chunks     int       `json:"chunks"`
	SourceDir  string    `json:"source_dir"`
	IndexPath  string    `json:"index_path"`
	Ranker     string    `json:"ranker"`
	DiskUsage  int64     `json:"disk_usage_bytes"`
	Passes     int       `json:"ensure_passes"`
	Rebuilds   int       `json:"rebuilds"`
	LastError  string    `json:"last_error,omitempty"`
}

// Responder is the document responder. Queries share the current generation;
// index passes and rebuilds are serialized by a single writer lock.
type Responder struct {
	store        *index.Store
	ranker       Ranker
	composer     Composer
	topK         int
	buildTimeout time.Duration
	cache        *lru.Cache[string, models.AgentAnswer]
	logger       *zap.Logger

	buildMu sync.Mutex
	ensured atomic.Bool

	statsMu  sync.Mutex
	passes   int
	rebuilds int
	lastErr  error

	mu  sync.RWMutex
	gen *index.Generation
}

// Option configures a Responder.
type Option func(*Responder)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Responder) { r.logger = utils.OrNop(l) }
}

// WithTopK sets how many chunks are passed to the composer.
func WithTopK(k int) Option {
	return func(r *Responder) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithCacheSize enables an answer cache of n entries; n <= 0 disables it.
func WithCacheSize(n int) Option {
	return func(r *Responder) {
		if n <= 0 {
			r.cache = nil
			return
		}
		r.cache, _ = lru.New[string, models.AgentAnswer](n)
	}
}

// WithBuildTimeout bounds a single load-or-build pass.
func WithBuildTimeout(d time.Duration) Option {
	return func(r *Responder) { r.buildTimeout = d }
}

// NewResponder creates a responder over store. A nil ranker ranks lexically; a nil composer excerpts.
func NewResponder(store *index.Store, ranker Ranker, composer Composer, opts ...Option) *Responder {
	if ranker == nil {
		ranker = LexicalRanker{}
	}
	if composer == nil {
		composer = ExcerptComposer{}
	}
	r := &Responder{
		store:    store,
		ranker:   ranker,
		composer: composer,
		topK:     3,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromConfig wires collector, store, ranker and composer from cfg.
// client may be nil; the llm composer then degrades to excerpts.
func NewFromConfig(cfg *config.RetrievalConfig, embedder embedding.Embedder, client llm.Client, logger *zap.Logger) (*Responder, error) {
	logger = utils.OrNop(logger)
	collector := indexer.NewCollector(extract.NewExtractor(),
		indexer.WithLogger(logger),
		indexer.WithExtensions(cfg.Extensions),
		indexer.WithRecursive(cfg.RecursiveOrDefault()),
		indexer.WithWorkers(cfg.ExtractWorkers),
	)
	store, err := index.NewStore(index.Options{
		Root:         cfg.IndexPath,
		SourceDir:    cfg.SourceDir,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlapOrDefault(),
	}, collector, embedder, logger)
	if err != nil {
		return nil, err
	}

	var ranker Ranker
	switch cfg.Ranker {
	case "", "lexical":
		ranker = LexicalRanker{}
	case "keyword":
		ranker = KeywordRanker{}
	case "semantic":
		if embedder == nil {
			return nil, errors.New("semantic ranker requires an embedder")
		}
		ranker = NewSemanticRanker(embedder, cfg.MinSimilarityOrDefault())
	case "hybrid":
		if embedder == nil {
			return nil, errors.New("hybrid ranker requires an embedder")
		}
		ranker = NewFusionRanker(embedder, cfg.MinSimilarityOrDefault(), cfg.KeywordWeight, cfg.SemanticWeight)
	default:
		return nil, fmt.Errorf("unknown retrieval ranker %q", cfg.Ranker)
	}

	var composer Composer
	switch cfg.Composer {
	case "", "excerpt":
		composer = ExcerptComposer{MaxExcerpts: cfg.MaxExcerpts}
	case "llm":
		if client != nil {
			composer = NewLLMComposer(client)
		} else {
			logger.Warn("no llm provider configured, policy answers use excerpts")
			composer = ExcerptComposer{MaxExcerpts: cfg.MaxExcerpts}
		}
	default:
		return nil, fmt.Errorf("unknown retrieval composer %q", cfg.Composer)
	}

	return NewResponder(store, ranker, composer,
		WithLogger(logger),
		WithTopK(cfg.TopK),
		WithCacheSize(cfg.CacheSize),
		WithBuildTimeout(cfg.IndexTimeout),
	), nil
}

func (r *Responder) passContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.buildTimeout > 0 {
		return context.WithTimeout(ctx, r.buildTimeout)
	}
	return context.WithCancel(ctx)
}

// EnsureIndex loads the persisted generation, or builds one when it is missing, corrupt or stale.
// Only the first call does any work; failure leaves the responder without an index.
// Cancelling ctx does not abort the pass, so one caller going away cannot leave
// every later caller without an index.
func (r *Responder) EnsureIndex(ctx context.Context) {
	if r.ensured.Load() {
		return
	}
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	if r.ensured.Load() {
		return
	}
	defer r.ensured.Store(true)
	r.statsMu.Lock()
	r.passes++
	r.statsMu.Unlock()

	// The pass outlives the request that triggered it; only buildTimeout bounds it.
	ctx, cancel := r.passContext(context.WithoutCancel(ctx))
	defer cancel()

	g, err := r.store.Load(ctx)
	if err == nil {
		r.logger.Info("index generation loaded",
			zap.String("generation", g.ID()),
			zap.Int("chunks", len(g.Chunks)))
		r.install(g)
		return
	}
	if errors.Is(err, index.ErrNotFound) {
		r.logger.Info("no index generation found, building")
	} else {
		r.logger.Warn("index generation unusable, rebuilding", zap.Error(err))
	}

	g, err = r.store.Build(ctx)
	r.setLastErr(err)
	if err != nil {
		r.logger.Warn("index build failed, knowledge base unavailable", zap.Error(err))
		return
	}
	r.install(g)
}

func (r *Responder) setLastErr(err error) {
	r.statsMu.Lock()
	r.lastErr = err
	r.statsMu.Unlock()
}

// Rebuild builds a new generation from the source directory and swaps it in.
// Queries keep using the previous generation until the swap; on failure it stays current.
func (r *Responder) Rebuild(ctx context.Context) error {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	r.ensured.Store(true)
	r.statsMu.Lock()
	r.rebuilds++
	r.statsMu.Unlock()

	ctx, cancel := r.passContext(ctx)
	defer cancel()

	g, err := r.store.Build(ctx)
	r.setLastErr(err)
	if err != nil {
		r.logger.Warn("index rebuild failed", zap.Error(err))
		return fmt.Errorf("rebuild index: %w", err)
	}
	r.install(g)
	return nil
}

// install swaps g in, closes the previous generation and prunes old directories.
// Callers hold buildMu.
func (r *Responder) install(g *index.Generation) {
	r.mu.Lock()
	old := r.gen
	r.gen = g
	r.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warn("closing previous generation", zap.String("generation", old.ID()), zap.Error(err))
		}
	}
	if r.cache != nil {
		r.cache.Purge()
	}
	if err := r.store.Prune(g.ID()); err != nil {
		r.logger.Warn("pruning old generations", zap.Error(err))
	}
}

// Answer ensures the index exists and queries it. It never panics.
func (r *Responder) Answer(ctx context.Context, q models.Question) (ans models.AgentAnswer) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("document responder panicked",
				zap.String("question_id", q.ID),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			ans = models.Failed(models.RouteDocument, models.OutcomeFailed, failedMessage, "document: internal error")
		}
	}()
	r.EnsureIndex(ctx)
	return r.Query(ctx, q)
}

// Query answers q from the current generation without triggering any index work.
func (r *Responder) Query(ctx context.Context, q models.Question) models.AgentAnswer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.gen
	if g == nil {
		return models.AgentAnswer{
			Answer:    UnavailableMessage,
			Success:   true,
			Responder: models.RouteDocument,
			Outcome:   models.OutcomeKnowledgeBaseUnavailable,
		}
	}

	key := g.ID() + "\x00" + utils.NormalizeQuestion(q.Text)
	if r.cache != nil {
		if ans, ok := r.cache.Get(key); ok {
			return ans
		}
	}

	hits, err := r.ranker.Rank(ctx, g, q.Text, r.topK)
	if err != nil {
		r.logger.Warn("ranking failed", zap.String("question_id", q.ID), zap.Error(err))
		return models.Failed(models.RouteDocument, models.OutcomeFailed, failedMessage, "rank chunks: "+err.Error())
	}
	var ans models.AgentAnswer
	if len(hits) == 0 {
		ans = models.AgentAnswer{
			Answer:     NotFoundMessage,
			Success:    true,
			Responder:  models.RouteDocument,
			Outcome:    models.OutcomeNotFound,
			Generation: g.ID(),
		}
	} else {
		text, err := r.composer.Compose(ctx, q.Text, hits)
		if err != nil {
			r.logger.Warn("composition failed", zap.String("question_id", q.ID), zap.Error(err))
			return models.Failed(models.RouteDocument, models.OutcomeFailed, failedMessage, "compose answer: "+err.Error())
		}
		ans = models.AgentAnswer{
			Answer:     text,
			Success:    true,
			Responder:  models.RouteDocument,
			Outcome:    models.OutcomeAnswered,
			Sources:    sources(hits),
			Generation: g.ID(),
		}
	}
	r.logger.Debug("document question answered",
		zap.String("question_id", q.ID),
		zap.String("ranker", r.ranker.Name()),
		zap.Int("hits", len(hits)))
	if r.cache != nil {
		r.cache.Add(key, ans)
	}
	return ans
}

func sources(hits []Hit) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range hits {
		if !seen[h.Chunk.Source] {
			seen[h.Chunk.Source] = true
			out = append(out, h.Chunk.Source)
		}
	}
	return out
}

// Status reports the current generation and index pass counters.
func (r *Responder) Status() Status {
	r.statsMu.Lock()
	st := Status{
		Passes:    r.passes,
		Rebuilds:  r.rebuilds,
		Ranker:    r.ranker.Name(),
		SourceDir: r.store.SourceDir(),
		IndexPath: r.store.Root(),
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.statsMu.Unlock()

	r.mu.RLock()
	if g := r.gen; g != nil {
		st.Ready = true
		st.Generation = g.ID()
		st.BuiltAt = g.Manifest.CreatedAt
		st.Documents = g.Manifest.Documents
		st.Chunks = g.Manifest.Chunks
	}
	r.mu.RUnlock()
	if n, err := r.store.DiskUsage(); err == nil {
		st.DiskUsage = n
	}
	return st
}

// Close releases the current generation.
func (r *Responder) Close() error {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == nil {
		return nil
	}
	err := r.gen.Close()
	r.gen = nil
	return err
}
