package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/hubagent/internal/datastore"
	"github.com/hyperjump/hubagent/internal/guard"
	"github.com/hyperjump/hubagent/internal/index"
	"github.com/hyperjump/hubagent/internal/indexer"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/retrieval"
	"github.com/hyperjump/hubagent/internal/router"
	"go.uber.org/zap"
)

type countingResponder struct {
	calls int
	fn    func(ctx context.Context, q models.Question) models.AgentAnswer
}

func (c *countingResponder) Answer(ctx context.Context, q models.Question) models.AgentAnswer {
	c.calls++
	return c.fn(ctx, q)
}

func ok(route models.Route, text string) *countingResponder {
	return &countingResponder{fn: func(ctx context.Context, q models.Question) models.AgentAnswer {
		return models.AgentAnswer{Answer: text, Success: true, Responder: route}
	}}
}

type routerFunc func(ctx context.Context, q models.Question) models.RouteDecision

func (f routerFunc) Route(ctx context.Context, q models.Question) models.RouteDecision {
	return f(ctx, q)
}

func fixed(route models.Route) Router {
	return routerFunc(func(ctx context.Context, q models.Question) models.RouteDecision {
		return models.RouteDecision{Route: route}
	})
}

func TestHandle_dispatchesExactlyOneResponder(t *testing.T) {
	for _, route := range []models.Route{models.RouteStructured, models.RouteDocument} {
		t.Run(string(route), func(t *testing.T) {
			s, d := ok(models.RouteStructured, "sql"), ok(models.RouteDocument, "doc")
			o := New(fixed(route), s, d, WithLogger(zap.NewNop()))
			ans := o.Handle(context.Background(), "question")
			if ans.Responder != route || !ans.Success || ans.Outcome != models.OutcomeAnswered {
				t.Errorf("answer = %+v", ans)
			}
			if s.calls+d.calls != 1 {
				t.Errorf("responder calls = %d/%d", s.calls, d.calls)
			}
		})
	}
}

func TestHandle_unknownRoute(t *testing.T) {
	s, d := ok(models.RouteStructured, "sql"), ok(models.RouteDocument, "doc")
	ans := New(fixed("sql"), s, d).Handle(context.Background(), "q")
	if ans.Success || !strings.HasPrefix(ans.Error, StageRouting) || s.calls+d.calls != 0 {
		t.Errorf("answer = %+v calls=%d/%d", ans, s.calls, d.calls)
	}
}

func TestHandle_containsPanics(t *testing.T) {
	panicking := &countingResponder{fn: func(ctx context.Context, q models.Question) models.AgentAnswer {
		panic("nil map write")
	}}
	tests := []struct {
		name      string
		router    Router
		wantStage string
		wantRoute models.Route
	}{
		{"routing", routerFunc(func(ctx context.Context, q models.Question) models.RouteDecision { panic("classifier bug") }), StageRouting, models.RouteDocument},
		{"structured", fixed(models.RouteStructured), StageStructured, models.RouteStructured},
		{"document", fixed(models.RouteDocument), StageDocument, models.RouteDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans := New(tt.router, panicking, panicking).Handle(context.Background(), "q")
			if ans.Success || ans.Outcome != models.OutcomeFailed {
				t.Fatalf("answer = %+v", ans)
			}
			if !strings.HasPrefix(ans.Error, tt.wantStage+":") || !strings.Contains(ans.Answer, tt.wantStage) {
				t.Errorf("answer %q / error %q should name stage %s", ans.Answer, ans.Error, tt.wantStage)
			}
			if strings.Contains(ans.Error, "goroutine") || strings.Contains(ans.Error, "nil map") {
				t.Errorf("error leaks internals: %q", ans.Error)
			}
			if ans.Responder != tt.wantRoute {
				t.Errorf("responder = %s", ans.Responder)
			}
		})
	}
}

func TestHandle_normalizesResponderAnswer(t *testing.T) {
	bad := &countingResponder{fn: func(ctx context.Context, q models.Question) models.AgentAnswer {
		return models.AgentAnswer{Answer: "x", Success: false}
	}}
	ans := New(fixed(models.RouteDocument), nil, bad).Handle(context.Background(), "q")
	if ans.Responder != models.RouteDocument || ans.Outcome != models.OutcomeFailed || ans.Error == "" {
		t.Errorf("answer = %+v", ans)
	}

	ans = New(fixed(models.RouteStructured), nil, bad).Handle(context.Background(), "q")
	if ans.Success || !strings.HasPrefix(ans.Error, StageStructured) {
		t.Errorf("missing responder: %+v", ans)
	}
}

func TestHandle_timeout(t *testing.T) {
	slow := &countingResponder{fn: func(ctx context.Context, q models.Question) models.AgentAnswer {
		select {
		case <-ctx.Done():
			return models.Failed(models.RouteDocument, models.OutcomeFailed, "timeout", ctx.Err().Error())
		case <-time.After(time.Second):
			return models.AgentAnswer{Answer: "late", Success: true}
		}
	}}
	ans := New(fixed(models.RouteDocument), nil, slow, WithTimeout(10*time.Millisecond)).Handle(context.Background(), "q")
	if ans.Success || !strings.Contains(ans.Error, "deadline") {
		t.Errorf("answer = %+v", ans)
	}
}

// stubQuerier returns a fixed count and records execution.
type stubQuerier struct{ calls int }

func (s *stubQuerier) Query(ctx context.Context, sql string, maxRows int) (*datastore.ResultSet, error) {
	s.calls++
	return &datastore.ResultSet{Columns: []string{"count"}, Rows: [][]any{{int64(124)}}}, nil
}

func newSystem(t *testing.T, plan string, docs map[string]string) (*Orchestrator, *stubQuerier) {
	t.Helper()
	src := t.TempDir()
	for name, content := range docs {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	store, err := index.NewStore(index.Options{
		Root:         filepath.Join(t.TempDir(), "index"),
		SourceDir:    src,
		ChunkSize:    500,
		ChunkOverlap: 50,
	}, indexer.NewCollector(nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	docResponder := retrieval.NewResponder(store, nil, nil)
	t.Cleanup(func() { docResponder.Close() })

	q := &stubQuerier{}
	gen := guard.GeneratorFunc(func(ctx context.Context, question string) (models.QueryPlan, error) {
		if plan == "" {
			return models.QueryPlan{}, errors.New("generation failed")
		}
		return models.QueryPlan{SQL: plan}, nil
	})
	agent := guard.NewAgent(gen, nil, q, nil)
	return New(router.New(router.NewKeywordClassifier(nil, nil), nil), agent, docResponder), q
}

var returnPolicy = map[string]string{
	"returns.md": "Return Policy: All vehicles can be returned within 14 days if under 500km usage.",
}

func TestEndToEnd(t *testing.T) {
	o, q := newSystem(t, "SELECT COUNT(*) FROM dealers LIMIT 10", returnPolicy)
	ctx := context.Background()

	ans := o.Handle(ctx, "How many dealers do we have?")
	if ans.Responder != models.RouteStructured || !ans.Success || !strings.Contains(ans.Answer, "124") {
		t.Errorf("count answer = %+v", ans)
	}

	ans = o.Handle(ctx, "What is the return policy?")
	if ans.Responder != models.RouteDocument || !strings.Contains(ans.Answer, "14 days") {
		t.Errorf("policy answer = %+v", ans)
	}

	ans = o.Handle(ctx, "")
	if ans.Responder != models.RouteDocument {
		t.Errorf("blank question should go to the document route: %+v", ans)
	}
	if q.calls != 1 {
		t.Errorf("querier calls = %d, want 1", q.calls)
	}
}

func TestEndToEnd_deleteIsBlocked(t *testing.T) {
	o, q := newSystem(t, "DELETE FROM dealers", returnPolicy)
	ans := o.Handle(context.Background(), "Delete all dealers")
	if ans.Responder != models.RouteStructured || ans.Success || ans.Outcome != models.OutcomeBlocked {
		t.Fatalf("answer = %+v", ans)
	}
	if ans.Verdict == nil || ans.Verdict.Rule != "deny.delete" {
		t.Errorf("verdict = %+v", ans.Verdict)
	}
	if q.calls != 0 {
		t.Error("blocked plan must never be executed")
	}
}

func TestEndToEnd_emptyKnowledgeBase(t *testing.T) {
	o, _ := newSystem(t, "", nil)
	ans := o.Handle(context.Background(), "What is the warranty policy?")
	if ans.Answer != retrieval.UnavailableMessage || ans.Outcome != models.OutcomeKnowledgeBaseUnavailable {
		t.Errorf("answer = %+v", ans)
	}
	ans = o.Handle(context.Background(), "How many dealers?")
	if ans.Success || !strings.Contains(ans.Error, "generation failed") {
		t.Errorf("structured failure = %+v", ans)
	}
}
