package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/hubagent/internal/config"
	"github.com/hyperjump/hubagent/internal/guard"
	"github.com/hyperjump/hubagent/internal/index"
	"github.com/hyperjump/hubagent/internal/indexer"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/orchestrator"
	"github.com/hyperjump/hubagent/internal/retrieval"
	"github.com/hyperjump/hubagent/internal/router"
	"go.uber.org/zap"
)

type askFunc func(ctx context.Context, text string) models.AgentAnswer

func (f askFunc) Handle(ctx context.Context, text string) models.AgentAnswer { return f(ctx, text) }

type mockIndex struct {
	err      error
	rebuilds int
}

func (m *mockIndex) Rebuild(ctx context.Context) error {
	m.rebuilds++
	return m.err
}

func (m *mockIndex) Status() retrieval.Status {
	return retrieval.Status{Ready: m.err == nil, Generation: "gen-1", Documents: 2, Rebuilds: m.rebuilds}
}

func newTestServer(asker Asker, idx IndexManager) http.Handler {
	return NewServer(asker, idx, &config.ServerConfig{Port: 8080}, zap.NewNop()).Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleAsk(t *testing.T) {
	var got string
	h := newTestServer(askFunc(func(ctx context.Context, text string) models.AgentAnswer {
		got = text
		return models.AgentAnswer{Answer: "The answer is 124.", Success: true, Responder: models.RouteStructured, Outcome: models.OutcomeAnswered}
	}), nil)

	w := doRequest(t, h, http.MethodPost, "/api/v1/ask", `{"question":"How many dealers?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got != "How many dealers?" {
		t.Errorf("question passed = %q", got)
	}
	var ans models.AgentAnswer
	if err := json.NewDecoder(w.Body).Decode(&ans); err != nil {
		t.Fatal(err)
	}
	if !ans.Success || ans.Responder != models.RouteStructured || ans.Answer != "The answer is 124." {
		t.Errorf("answer = %+v", ans)
	}
}

func TestHandleAsk_failedAnswerIsStill200(t *testing.T) {
	h := newTestServer(askFunc(func(ctx context.Context, text string) models.AgentAnswer {
		return models.Failed(models.RouteStructured, models.OutcomeFailed, "sorry", "execute query: no such table: dealers")
	}), nil)
	w := doRequest(t, h, http.MethodPost, "/api/v1/ask", `{"question":"How many dealers?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["success"] != false || out["error"] != "execute query: no such table: dealers" {
		t.Errorf("body = %v", out)
	}
}

func TestHandleAsk_invalidBody(t *testing.T) {
	h := newTestServer(askFunc(func(ctx context.Context, text string) models.AgentAnswer {
		t.Error("asker must not be called")
		return models.AgentAnswer{}
	}), nil)
	w := doRequest(t, h, http.MethodPost, "/api/v1/ask", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleRebuild(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ok", nil, http.StatusOK},
		{"no documents", fmt.Errorf("build: %w", indexer.ErrNoDocuments), http.StatusUnprocessableEntity},
		{"other failure", fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &mockIndex{err: tt.err}
			w := doRequest(t, newTestServer(nil, idx), http.MethodPost, "/api/v1/index/rebuild", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d", w.Code, tt.wantStatus)
			}
			if idx.rebuilds != 1 {
				t.Errorf("rebuilds = %d", idx.rebuilds)
			}
			if tt.err != nil && !strings.Contains(w.Body.String(), tt.err.Error()) {
				t.Errorf("body should carry the error: %s", w.Body.String())
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	w := doRequest(t, newTestServer(nil, &mockIndex{}), http.MethodGet, "/api/v1/index/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var st retrieval.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Ready || st.Generation != "gen-1" || st.Documents != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestIndexEndpoints_notEnabled(t *testing.T) {
	h := newTestServer(nil, nil)
	if w := doRequest(t, h, http.MethodGet, "/api/v1/index/status", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
	if w := doRequest(t, h, http.MethodPost, "/api/v1/index/rebuild", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("rebuild: got %d, want 501", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	w := doRequest(t, newTestServer(nil, nil), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestAskEndToEnd(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "warranty.md"), []byte("Warranty: Standard warranty is 2 years or 50,000 km."), 0600); err != nil {
		t.Fatal(err)
	}
	store, err := index.NewStore(index.Options{
		Root: filepath.Join(t.TempDir(), "index"), SourceDir: src, ChunkSize: 500, ChunkOverlap: 50,
	}, indexer.NewCollector(nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	docs := retrieval.NewResponder(store, nil, nil)
	defer docs.Close()
	gen := guard.GeneratorFunc(func(ctx context.Context, question string) (models.QueryPlan, error) {
		return models.QueryPlan{SQL: "DROP TABLE dealers"}, nil
	})
	agent := guard.NewAgent(gen, nil, nil, nil)
	o := orchestrator.New(router.New(router.NewKeywordClassifier(nil, nil), nil), agent, docs)
	h := newTestServer(o, docs)

	w := doRequest(t, h, http.MethodPost, "/api/v1/ask", `{"question":"What is the warranty policy?"}`)
	var ans models.AgentAnswer
	if err := json.NewDecoder(w.Body).Decode(&ans); err != nil {
		t.Fatal(err)
	}
	if ans.Responder != models.RouteDocument || !strings.Contains(ans.Answer, "2 years") {
		t.Errorf("document answer = %+v", ans)
	}

	w = doRequest(t, h, http.MethodPost, "/api/v1/ask", `{"question":"How many dealers are there?"}`)
	ans = models.AgentAnswer{}
	if err := json.NewDecoder(w.Body).Decode(&ans); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || ans.Outcome != models.OutcomeBlocked || !strings.Contains(ans.Answer, "DROP") {
		t.Errorf("blocked answer = %d %+v", w.Code, ans)
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/index/status", "")
	var st retrieval.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Ready || st.Documents != 1 {
		t.Errorf("status after first question = %+v", st)
	}
}
