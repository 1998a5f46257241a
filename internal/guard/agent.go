package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/hubagent/internal/config"
	"github.com/hyperjump/hubagent/internal/datastore"
	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/pkg/utils"
	"go.uber.org/zap"
)

// ErrPlanRejected is returned when the validator blocks a plan.
var ErrPlanRejected = errors.New("query plan rejected")

const failedMessage = "I could not answer that question from the sales data."

// Querier executes a read-only query.
type Querier interface {
	Query(ctx context.Context, sql string, maxRows int) (*datastore.ResultSet, error)
}

// Stage is a state of a single Answer call.
type Stage string

const (
	StageReceived      Stage = "received"
	StagePlanGenerated Stage = "plan_generated"
	StageValidated     Stage = "validated"
	StageExecuted      Stage = "executed"
	StageSummarized    Stage = "summarized"
	StageError         Stage = "error"
)

// Trace records the path one question took through the agent.
type Trace struct {
	Stages  []Stage
	Plan    models.QueryPlan
	Verdict *models.SecurityVerdict
	Rows    int
	Err     error
}

func (t *Trace) enter(s Stage) { t.Stages = append(t.Stages, s) }

// Last returns the terminal stage reached.
func (t *Trace) Last() Stage {
	if len(t.Stages) == 0 {
		return ""
	}
	return t.Stages[len(t.Stages)-1]
}

// Agent is the guarded structured-data responder.
type Agent struct {
	generator    PlanGenerator
	validator    *Validator
	querier      Querier
	summarizer   Summarizer
	maxRows      int
	stageTimeout time.Duration
	logger       *zap.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = utils.OrNop(l) }
}

// WithMaxRows caps the rows read from the store.
func WithMaxRows(n int) Option {
	return func(a *Agent) { a.maxRows = n }
}

// WithStageTimeout bounds each of generation, execution and summarization.
func WithStageTimeout(d time.Duration) Option {
	return func(a *Agent) { a.stageTimeout = d }
}

// NewAgent creates an agent. A nil validator uses DefaultDenylist; a nil summarizer renders tables.
func NewAgent(gen PlanGenerator, v *Validator, q Querier, s Summarizer, opts ...Option) *Agent {
	if v == nil {
		v = NewValidator(nil)
	}
	if s == nil {
		s = TableSummarizer{}
	}
	a := &Agent{
		generator:  gen,
		validator:  v,
		querier:    q,
		summarizer: s,
		maxRows:    100,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewAgentFromConfig wires generator, validator and summarizer from cfg.
// LLM-backed parts fall back to their deterministic counterparts when client is nil.
func NewAgentFromConfig(cfg *config.GuardConfig, client llm.Client, q Querier, logger *zap.Logger) (*Agent, error) {
	logger = utils.OrNop(logger)
	schema, err := LoadSchema(cfg.SchemaFile)
	if err != nil {
		return nil, err
	}

	var gen PlanGenerator
	switch cfg.Generator {
	case "", "llm":
		if client != nil {
			gen = NewLLMGenerator(client, schema, cfg.RowLimit)
		} else {
			logger.Warn("no llm provider configured, structured questions use pattern matching")
			gen = NewPatternGenerator(cfg.RowLimit)
		}
	case "pattern":
		gen = NewPatternGenerator(cfg.RowLimit)
	default:
		return nil, fmt.Errorf("unknown guard generator %q", cfg.Generator)
	}

	var sum Summarizer
	switch cfg.Summarizer {
	case "", "table":
		sum = TableSummarizer{}
	case "llm":
		if client != nil {
			sum = NewLLMSummarizer(client)
		} else {
			sum = TableSummarizer{}
		}
	default:
		return nil, fmt.Errorf("unknown guard summarizer %q", cfg.Summarizer)
	}

	patterns := cfg.Denylist
	if len(patterns) == 0 {
		patterns = DefaultDenylist
	}
	patterns = append(append([]string(nil), patterns...), cfg.ExtraDenylist...)

	return NewAgent(gen, NewValidator(patterns), q, sum,
		WithLogger(logger),
		WithMaxRows(cfg.MaxRows),
		WithStageTimeout(cfg.QueryTimeout),
	), nil
}

// Answer runs the state machine for q. It never panics and never returns an error;
// failures become answers with Success=false.
func (a *Agent) Answer(ctx context.Context, q models.Question) models.AgentAnswer {
	ans, _ := a.Run(ctx, q)
	return ans
}

// Run is Answer that also returns the trace of stages visited.
func (a *Agent) Run(ctx context.Context, q models.Question) (ans models.AgentAnswer, tr *Trace) {
	tr = &Trace{}
	tr.enter(StageReceived)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("structured-data responder panicked",
				zap.String("question_id", q.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			tr.Err = fmt.Errorf("internal error: %v", r)
			tr.enter(StageError)
			ans = models.Failed(models.RouteStructured, models.OutcomeFailed, failedMessage, "structured-data: internal error")
		}
	}()

	fail := func(stage string, err error) models.AgentAnswer {
		tr.Err = err
		tr.enter(StageError)
		a.logger.Warn("structured-data question failed",
			zap.String("question_id", q.ID),
			zap.String("stage", stage),
			zap.Error(err))
		return models.Failed(models.RouteStructured, models.OutcomeFailed, failedMessage, stage+": "+err.Error())
	}

	genCtx, cancel := a.stageContext(ctx)
	plan, err := a.generator.Generate(genCtx, q.Text)
	cancel()
	if err != nil {
		return fail("generate query", err), tr
	}
	plan.Question = q.Text
	tr.Plan = plan
	tr.enter(StagePlanGenerated)

	verdict := a.validator.Validate(plan)
	tr.Verdict = &verdict
	if !verdict.Allowed {
		tr.Err = fmt.Errorf("%w: %s", ErrPlanRejected, verdict.Reason)
		tr.enter(StageError)
		a.logger.Warn("query plan rejected",
			zap.String("question_id", q.ID),
			zap.String("rule", verdict.Rule),
			zap.String("sql", plan.SQL))
		blocked := models.Failed(models.RouteStructured, models.OutcomeBlocked, verdict.Reason,
			fmt.Sprintf("validate query: rule %s: %s", verdict.Rule, verdict.Reason))
		blocked.Verdict = &verdict
		return blocked, tr
	}
	tr.enter(StageValidated)

	execCtx, cancel := a.stageContext(ctx)
	rs, err := a.querier.Query(execCtx, plan.SQL, a.maxRows)
	cancel()
	if err != nil {
		return fail("execute query", err), tr
	}
	tr.Rows = len(rs.Rows)
	tr.enter(StageExecuted)

	sumCtx, cancel := a.stageContext(ctx)
	text, err := a.summarizer.Summarize(sumCtx, plan, rs)
	cancel()
	if err != nil {
		return fail("summarize result", err), tr
	}
	tr.enter(StageSummarized)

	a.logger.Info("structured-data question answered",
		zap.String("question_id", q.ID),
		zap.Int("rows", len(rs.Rows)),
		zap.Bool("truncated", rs.Truncated))
	return models.AgentAnswer{
		Answer:    text,
		Success:   true,
		Responder: models.RouteStructured,
		Outcome:   models.OutcomeAnswered,
		Verdict:   &verdict,
	}, tr
}

func (a *Agent) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.stageTimeout > 0 {
		return context.WithTimeout(ctx, a.stageTimeout)
	}
	return context.WithCancel(ctx)
}
