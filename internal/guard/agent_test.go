package guard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/hubagent/internal/config"
	"github.com/hyperjump/hubagent/internal/datastore"
	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
	"go.uber.org/zap"
)

// spyQuerier records whether execution was attempted.
type spyQuerier struct {
	calls   int
	lastSQL string
	maxRows int
	rs      *datastore.ResultSet
	err     error
}

func (s *spyQuerier) Query(ctx context.Context, sql string, maxRows int) (*datastore.ResultSet, error) {
	s.calls++
	s.lastSQL = sql
	s.maxRows = maxRows
	return s.rs, s.err
}

func staticPlan(sql string) PlanGenerator {
	return GeneratorFunc(func(ctx context.Context, question string) (models.QueryPlan, error) {
		return models.QueryPlan{SQL: sql}, nil
	})
}

func TestAgent_countDealers(t *testing.T) {
	spy := &spyQuerier{rs: &datastore.ResultSet{Columns: []string{"count"}, Rows: [][]any{{int64(124)}}}}
	a := NewAgent(staticPlan("SELECT COUNT(*) FROM dealers LIMIT 10"), nil, spy, nil, WithLogger(zap.NewNop()), WithMaxRows(50))

	ans, tr := a.Run(context.Background(), models.NewQuestion("How many dealers do we have?"))
	if !ans.Success || ans.Outcome != models.OutcomeAnswered {
		t.Fatalf("expected success, got %+v", ans)
	}
	if !strings.Contains(ans.Answer, "124") {
		t.Errorf("answer = %q", ans.Answer)
	}
	if ans.Responder != models.RouteStructured {
		t.Errorf("responder = %s", ans.Responder)
	}
	if spy.calls != 1 || spy.maxRows != 50 {
		t.Errorf("querier calls=%d maxRows=%d", spy.calls, spy.maxRows)
	}
	want := []Stage{StageReceived, StagePlanGenerated, StageValidated, StageExecuted, StageSummarized}
	if len(tr.Stages) != len(want) {
		t.Fatalf("stages = %v", tr.Stages)
	}
	for i := range want {
		if tr.Stages[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, tr.Stages[i], want[i])
		}
	}
	if tr.Plan.Question != "How many dealers do we have?" {
		t.Errorf("plan question = %q", tr.Plan.Question)
	}
}

func TestAgent_rejectedPlanNeverExecutes(t *testing.T) {
	for _, sql := range []string{"DELETE FROM dealers", "SELECT 1; DROP TABLE dealers", "select * from dealers -- x"} {
		t.Run(sql, func(t *testing.T) {
			spy := &spyQuerier{}
			ans, tr := NewAgent(staticPlan(sql), nil, spy, nil).Run(context.Background(), models.NewQuestion("Delete all dealers"))
			if ans.Success {
				t.Fatal("expected failure")
			}
			if ans.Outcome != models.OutcomeBlocked {
				t.Errorf("outcome = %s", ans.Outcome)
			}
			if ans.Verdict == nil || ans.Verdict.Allowed || ans.Verdict.Rule == "" {
				t.Errorf("verdict = %+v", ans.Verdict)
			}
			if !strings.Contains(ans.Answer, "Security Violation") || !strings.Contains(ans.Error, ans.Verdict.Rule) {
				t.Errorf("answer=%q error=%q", ans.Answer, ans.Error)
			}
			if spy.calls != 0 {
				t.Error("rejected plan must not be executed")
			}
			if !errors.Is(tr.Err, ErrPlanRejected) || tr.Last() != StageError {
				t.Errorf("trace = %+v", tr)
			}
		})
	}
}

func TestAgent_trailingSemicolonFromModelIsBlocked(t *testing.T) {
	client := llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		return "SELECT COUNT(*) FROM dealers;", nil
	})
	spy := &spyQuerier{rs: &datastore.ResultSet{Columns: []string{"count"}, Rows: [][]any{{int64(1)}}}}
	a := NewAgent(NewLLMGenerator(client, DefaultSchema, 10), nil, spy, nil, WithLogger(zap.NewNop()))

	ans, _ := a.Run(context.Background(), models.NewQuestion("How many dealers?"))
	if ans.Outcome != models.OutcomeBlocked || ans.Success {
		t.Fatalf("expected blocked answer, got %+v", ans)
	}
	if ans.Verdict == nil || ans.Verdict.Rule != "deny.semicolon" {
		t.Errorf("verdict = %+v", ans.Verdict)
	}
	if spy.calls != 0 {
		t.Errorf("querier called %d times", spy.calls)
	}
}

func TestAgent_deleteNamesRule(t *testing.T) {
	ans := NewAgent(staticPlan("DELETE FROM dealers"), nil, &spyQuerier{}, nil).
		Answer(context.Background(), models.NewQuestion("Delete all dealers"))
	if ans.Verdict.Rule != "deny.delete" || !strings.Contains(ans.Verdict.Reason, "DELETE") {
		t.Errorf("verdict = %+v", ans.Verdict)
	}
}

func TestAgent_failures(t *testing.T) {
	okRS := &datastore.ResultSet{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}
	tests := []struct {
		name      string
		gen       PlanGenerator
		querier   *spyQuerier
		sum       Summarizer
		wantStage string
	}{
		{
			name: "generation error",
			gen: GeneratorFunc(func(ctx context.Context, q string) (models.QueryPlan, error) {
				return models.QueryPlan{}, errors.New("llm unreachable")
			}),
			querier:   &spyQuerier{},
			wantStage: "generate query",
		},
		{
			name:      "execution error",
			gen:       staticPlan("SELECT * FROM missing"),
			querier:   &spyQuerier{err: errors.New("no such table: missing")},
			wantStage: "execute query",
		},
		{
			name:    "summarizer error",
			gen:     staticPlan("SELECT 1 AS n"),
			querier: &spyQuerier{rs: okRS},
			sum: NewLLMSummarizer(llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
				return "", errors.New("rate limited")
			})),
			wantStage: "summarize result",
		},
		{
			name: "panic in generator",
			gen: GeneratorFunc(func(ctx context.Context, q string) (models.QueryPlan, error) {
				panic("boom")
			}),
			querier:   &spyQuerier{},
			wantStage: "structured-data",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans, tr := NewAgent(tt.gen, nil, tt.querier, tt.sum).Run(context.Background(), models.NewQuestion("q"))
			if ans.Success || ans.Outcome != models.OutcomeFailed {
				t.Fatalf("expected failed answer, got %+v", ans)
			}
			if !strings.HasPrefix(ans.Error, tt.wantStage) {
				t.Errorf("error = %q, want prefix %q", ans.Error, tt.wantStage)
			}
			if strings.Contains(ans.Error, "goroutine") {
				t.Error("error leaks a stack trace")
			}
			if tr.Last() != StageError {
				t.Errorf("last stage = %s", tr.Last())
			}
		})
	}
}

func TestAgent_stageTimeout(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, q string) (models.QueryPlan, error) {
		<-ctx.Done()
		return models.QueryPlan{}, ctx.Err()
	})
	ans := NewAgent(gen, nil, &spyQuerier{}, nil, WithStageTimeout(10*time.Millisecond)).
		Answer(context.Background(), models.NewQuestion("slow"))
	if ans.Success || !strings.Contains(ans.Error, "deadline") {
		t.Errorf("expected deadline failure, got %+v", ans)
	}
}

func TestAgent_withSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.db")
	seedDealers(t, path, 3)
	db, err := datastore.Open(context.Background(), &config.DataStoreConfig{Driver: "sqlite3", DSN: path})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	a, err := NewAgentFromConfig(&config.GuardConfig{Generator: "pattern", RowLimit: 10, MaxRows: 100}, nil, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	ans := a.Answer(context.Background(), models.NewQuestion("How many dealers do we have?"))
	if !ans.Success || ans.Answer != "The answer is 3." {
		t.Errorf("answer = %+v", ans)
	}
	ans = a.Answer(context.Background(), models.NewQuestion("What is the meaning of life?"))
	if ans.Success || !strings.Contains(ans.Error, ErrNoPlan.Error()) {
		t.Errorf("expected no-plan failure, got %+v", ans)
	}
}

func TestNewAgentFromConfig(t *testing.T) {
	client := llm.Func(func(ctx context.Context, req llm.Request) (string, error) {
		return "```sql\nSELECT COUNT(*) AS count FROM dealers\n```", nil
	})
	spy := &spyQuerier{rs: &datastore.ResultSet{Columns: []string{"count"}, Rows: [][]any{{int64(7)}}}}
	a, err := NewAgentFromConfig(&config.GuardConfig{
		Generator:     "llm",
		ExtraDenylist: []string{"salary"},
		RowLimit:      10,
		MaxRows:       100,
	}, client, spy, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ans := a.Answer(context.Background(), models.NewQuestion("How many dealers?"))
	if !ans.Success || spy.lastSQL != "SELECT COUNT(*) AS count FROM dealers" {
		t.Errorf("ans=%+v sql=%q", ans, spy.lastSQL)
	}
	if v := a.validator.Validate(models.QueryPlan{SQL: "SELECT salary FROM employees"}); v.Allowed {
		t.Error("extra denylist entry should be enforced")
	}
	if v := a.validator.Validate(models.QueryPlan{SQL: "DROP TABLE x"}); v.Allowed {
		t.Error("defaults should be kept when only extra_denylist is set")
	}

	if _, err := NewAgentFromConfig(&config.GuardConfig{Generator: "magic"}, nil, spy, nil); err == nil {
		t.Error("expected error for unknown generator")
	}
	schema := filepath.Join(t.TempDir(), "schema.txt")
	if err := os.WriteFile(schema, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAgentFromConfig(&config.GuardConfig{SchemaFile: schema}, nil, spy, nil); err == nil {
		t.Error("expected error for empty schema file")
	}
}
