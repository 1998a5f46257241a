package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/hubagent/internal/config"
	"github.com/hyperjump/hubagent/internal/embedding"
	"github.com/hyperjump/hubagent/internal/index"
	"github.com/hyperjump/hubagent/internal/indexer"
	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
	"go.uber.org/zap"
)

var policies = map[string]string{
	"returns.md":        "Return Policy: All vehicles can be returned within 14 days if under 500km usage.",
	"warranty.md":       "Warranty: Standard warranty is 2 years for engine and transmission.",
	"sales/discount.md": "Discount: Sales reps can authorize up to 5% discount. Managers up to 10%.",
}

func writeDocs(t *testing.T, dir string, docs map[string]string) {
	t.Helper()
	for name, content := range docs {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
}

func newStore(t *testing.T, src, root string) *index.Store {
	t.Helper()
	s, err := index.NewStore(index.Options{
		Root:         root,
		SourceDir:    src,
		ChunkSize:    500,
		ChunkOverlap: 50,
	}, indexer.NewCollector(nil), embedding.NewHashingEmbedder(64), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestResponder(t *testing.T, docs map[string]string, opts ...Option) (*Responder, string) {
	t.Helper()
	src := t.TempDir()
	writeDocs(t, src, docs)
	r := NewResponder(newStore(t, src, filepath.Join(t.TempDir(), "index")), nil, nil, opts...)
	t.Cleanup(func() { r.Close() })
	return r, src
}

func ask(r *Responder, text string) models.AgentAnswer {
	return r.Answer(context.Background(), models.NewQuestion(text))
}

func TestResponder_answersReturnPolicy(t *testing.T) {
	r, _ := newTestResponder(t, policies)
	ans := ask(r, "What is the return policy?")
	if !ans.Success || ans.Outcome != models.OutcomeAnswered {
		t.Fatalf("answer = %+v", ans)
	}
	if !strings.Contains(ans.Answer, "14 days") {
		t.Errorf("answer = %q", ans.Answer)
	}
	if ans.Responder != models.RouteDocument {
		t.Errorf("responder = %s", ans.Responder)
	}
	if len(ans.Sources) == 0 || ans.Sources[0] != "returns.md" {
		t.Errorf("sources = %v", ans.Sources)
	}
	if ans.Generation == "" {
		t.Error("generation not reported")
	}
}

func TestResponder_emptySourceIsUnavailable(t *testing.T) {
	r, _ := newTestResponder(t, nil)
	r.EnsureIndex(context.Background())
	ans := r.Query(context.Background(), models.NewQuestion("What is the return policy?"))
	if ans.Answer != UnavailableMessage || ans.Outcome != models.OutcomeKnowledgeBaseUnavailable {
		t.Errorf("answer = %+v", ans)
	}
	if !ans.Success || ans.Error != "" {
		t.Errorf("unavailable knowledge base is not an error: %+v", ans)
	}
	st := r.Status()
	if st.Ready || st.LastError == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestResponder_missingSourceDoesNotPanic(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "index"))
	r := NewResponder(store, nil, nil)
	ans := ask(r, "warranty?")
	if ans.Outcome != models.OutcomeKnowledgeBaseUnavailable {
		t.Errorf("answer = %+v", ans)
	}
}

func TestResponder_noOverlapIsNotFound(t *testing.T) {
	r, _ := newTestResponder(t, policies)
	ans := ask(r, "zebra migration patterns")
	if ans.Answer != NotFoundMessage || ans.Outcome != models.OutcomeNotFound || !ans.Success {
		t.Errorf("answer = %+v", ans)
	}
	ans = ask(r, "what is the")
	if ans.Outcome != models.OutcomeNotFound {
		t.Errorf("stopword-only question: %+v", ans)
	}
}

func TestResponder_EnsureIndexIsIdempotent(t *testing.T) {
	r, _ := newTestResponder(t, policies)
	ctx := context.Background()
	r.EnsureIndex(ctx)
	first := r.Status()
	r.EnsureIndex(ctx)
	second := r.Status()
	if second.Passes != 1 {
		t.Errorf("passes = %d, want 1", second.Passes)
	}
	if !first.Ready || first.Generation != second.Generation {
		t.Errorf("generation changed: %s -> %s", first.Generation, second.Generation)
	}
}

func TestResponder_cancelledFirstCallerDoesNotDisableIndex(t *testing.T) {
	r, _ := newTestResponder(t, policies)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Answer(ctx, models.NewQuestion("What is the return policy?"))

	ans := ask(r, "What is the return policy?")
	if ans.Outcome != models.OutcomeAnswered || !strings.Contains(ans.Answer, "14 days") {
		t.Fatalf("later caller got %+v", ans)
	}
	if st := r.Status(); st.LastError != "" {
		t.Errorf("last error = %q, want none", st.LastError)
	}
}

func TestResponder_loadsPersistedIndex(t *testing.T) {
	src := t.TempDir()
	writeDocs(t, src, policies)
	root := filepath.Join(t.TempDir(), "index")

	first := NewResponder(newStore(t, src, root), nil, nil)
	want := ask(first, "How long is the warranty for the engine?")
	gen := first.Status().Generation
	first.Close()

	second := NewResponder(newStore(t, src, root), nil, nil)
	defer second.Close()
	got := ask(second, "How long is the warranty for the engine?")
	if second.Status().Generation != gen {
		t.Errorf("expected persisted generation %s to be loaded, got %s", gen, second.Status().Generation)
	}
	if got.Answer != want.Answer || !strings.Contains(got.Answer, "2 years") {
		t.Errorf("answers differ after reload: %q vs %q", got.Answer, want.Answer)
	}
}

func TestResponder_corruptIndexIsRebuilt(t *testing.T) {
	src := t.TempDir()
	writeDocs(t, src, policies)
	root := filepath.Join(t.TempDir(), "index")

	first := NewResponder(newStore(t, src, root), nil, nil)
	first.EnsureIndex(context.Background())
	gen := first.Status().Generation
	first.Close()
	if err := os.Remove(filepath.Join(root, "gen-"+gen, "manifest.json")); err != nil {
		t.Fatal(err)
	}

	second := NewResponder(newStore(t, src, root), nil, nil)
	defer second.Close()
	ans := ask(second, "What is the return policy?")
	if !strings.Contains(ans.Answer, "14 days") {
		t.Errorf("answer = %+v", ans)
	}
	if st := second.Status(); !st.Ready || st.Generation == gen {
		t.Errorf("expected a fresh generation, got %+v", st)
	}
}

func TestResponder_Rebuild(t *testing.T) {
	r, src := newTestResponder(t, policies, WithCacheSize(16))
	ctx := context.Background()

	if ans := ask(r, "What does the compliance checklist require?"); ans.Outcome != models.OutcomeNotFound {
		t.Fatalf("unexpected answer before rebuild: %+v", ans)
	}
	oldGen := r.Status().Generation

	writeDocs(t, src, map[string]string{"compliance.md": "Compliance checklist: every sale requires a signed contract."})
	if err := r.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	st := r.Status()
	if st.Generation == oldGen || st.Documents != 4 || st.Rebuilds != 1 {
		t.Errorf("status after rebuild = %+v", st)
	}
	ans := ask(r, "What does the compliance checklist require?")
	if !strings.Contains(ans.Answer, "signed contract") {
		t.Errorf("answer after rebuild = %+v", ans)
	}
	if _, err := os.Stat(filepath.Join(st.IndexPath, "gen-"+oldGen)); !os.IsNotExist(err) {
		t.Errorf("old generation not pruned: %v", err)
	}
}

func TestResponder_failedRebuildKeepsGeneration(t *testing.T) {
	r, src := newTestResponder(t, policies)
	r.EnsureIndex(context.Background())
	gen := r.Status().Generation

	if err := os.RemoveAll(src); err != nil {
		t.Fatal(err)
	}
	err := r.Rebuild(context.Background())
	if !errors.Is(err, indexer.ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
	st := r.Status()
	if !st.Ready || st.Generation != gen || st.LastError == "" {
		t.Errorf("status = %+v", st)
	}
	if ans := ask(r, "What is the return policy?"); !strings.Contains(ans.Answer, "14 days") {
		t.Errorf("previous generation should still answer: %+v", ans)
	}
}

func TestResponder_concurrentQueriesDuringRebuild(t *testing.T) {
	r, _ := newTestResponder(t, policies)
	r.EnsureIndex(context.Background())

	var wg sync.WaitGroup
	errs := make(chan string, 100)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				ans := ask(r, "What is the return policy?")
				if !strings.Contains(ans.Answer, "14 days") {
					errs <- ans.Answer
				}
			}
		}()
	}
	for i := 0; i < 2; i++ {
		if err := r.Rebuild(context.Background()); err != nil {
			t.Error(err)
		}
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("query during rebuild got %q", e)
	}
}

type failingRanker struct{ panic bool }

func (f failingRanker) Name() string { return "failing" }

func (f failingRanker) Rank(ctx context.Context, g *index.Generation, q string, k int) ([]Hit, error) {
	if f.panic {
		panic("ranker bug")
	}
	return nil, errors.New("index read error")
}

func TestResponder_failures(t *testing.T) {
	src := t.TempDir()
	writeDocs(t, src, policies)

	r := NewResponder(newStore(t, src, filepath.Join(t.TempDir(), "a")), failingRanker{}, nil)
	defer r.Close()
	ans := ask(r, "return policy")
	if ans.Success || ans.Outcome != models.OutcomeFailed || !strings.HasPrefix(ans.Error, "rank chunks") {
		t.Errorf("ranker error: %+v", ans)
	}

	p := NewResponder(newStore(t, src, filepath.Join(t.TempDir(), "b")), failingRanker{panic: true}, nil)
	defer p.Close()
	ans = ask(p, "return policy")
	if ans.Success || ans.Error != "document: internal error" {
		t.Errorf("ranker panic: %+v", ans)
	}

	composer := NewLLMComposer(llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		return "", errors.New("llm timeout")
	}))
	c := NewResponder(newStore(t, src, filepath.Join(t.TempDir(), "c")), nil, composer)
	defer c.Close()
	ans = ask(c, "return policy")
	if ans.Success || !strings.Contains(ans.Error, "llm timeout") {
		t.Errorf("composer error: %+v", ans)
	}
}

func TestResponder_cachesAnswers(t *testing.T) {
	calls := 0
	composer := NewLLMComposer(llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		calls++
		return "Within 14 days.", nil
	}))
	src := t.TempDir()
	writeDocs(t, src, policies)
	r := NewResponder(newStore(t, src, filepath.Join(t.TempDir(), "index")), nil, composer, WithCacheSize(8))
	defer r.Close()

	ask(r, "What is the return policy?")
	ask(r, "  what is the RETURN policy? ")
	if calls != 1 {
		t.Errorf("composer calls = %d, want 1", calls)
	}
}

func TestNewFromConfig(t *testing.T) {
	src := t.TempDir()
	writeDocs(t, src, policies)
	cfg := config.RetrievalConfig{
		SourceDir:    src,
		IndexPath:    filepath.Join(t.TempDir(), "index"),
		ChunkSize:    500,
		ChunkOverlap: intPtr(50),
		TopK:         3,
		CacheSize:    4,
	}
	for _, ranker := range []string{"lexical", "keyword", "semantic", "hybrid"} {
		t.Run(ranker, func(t *testing.T) {
			c := cfg
			c.Ranker = ranker
			c.IndexPath = filepath.Join(t.TempDir(), "index")
			floor := 0.1
			c.MinSimilarity = &floor
			r, err := NewFromConfig(&c, embedding.NewHashingEmbedder(256), nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			ans := ask(r, "What is the return policy?")
			if !strings.Contains(ans.Answer, "14 days") {
				t.Errorf("answer = %+v", ans)
			}
			if r.Status().Ranker != ranker {
				t.Errorf("ranker = %s", r.Status().Ranker)
			}
		})
	}

	bad := cfg
	bad.Ranker = "random"
	if _, err := NewFromConfig(&bad, nil, nil, nil); err == nil {
		t.Error("expected error for unknown ranker")
	}
	bad = cfg
	bad.ChunkOverlap = intPtr(500)
	if _, err := NewFromConfig(&bad, nil, nil, nil); err == nil {
		t.Error("expected error for invalid chunking")
	}
}

func intPtr(n int) *int { return &n }
