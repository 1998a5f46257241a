// Package orchestrator routes each question to exactly one responder and contains its failures.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/pkg/utils"
	"go.uber.org/zap"
)

// Stage names used in failure messages.
const (
	StageRouting    = "routing"
	StageStructured = "structured-data"
	StageDocument   = "document"
)

// Router decides the route of a question.
type Router interface {
	Route(ctx context.Context, q models.Question) models.RouteDecision
}

// Responder answers a routed question.
type Responder interface {
	Answer(ctx context.Context, q models.Question) models.AgentAnswer
}

// Orchestrator is the single entry point for questions.
type Orchestrator struct {
	router     Router
	structured Responder
	document   Responder
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = utils.OrNop(l) }
}

// WithTimeout bounds a whole Handle call.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// New creates an orchestrator.
func New(router Router, structured, document Responder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:     router,
		structured: structured,
		document:   document,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle answers text. It always returns exactly one answer from exactly one responder
// and never panics.
func (o *Orchestrator) Handle(ctx context.Context, text string) models.AgentAnswer {
	return o.HandleQuestion(ctx, models.NewQuestion(text))
}

// HandleQuestion is Handle for an already stamped question.
func (o *Orchestrator) HandleQuestion(ctx context.Context, q models.Question) models.AgentAnswer {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	start := time.Now()

	decision, err := o.route(ctx, q)
	if err != nil {
		// routing never reached a responder; report against the safe default
		return o.stageFailure(models.RouteDocument, StageRouting, err)
	}

	var ans models.AgentAnswer
	switch decision.Route {
	case models.RouteStructured:
		ans = o.dispatch(ctx, StageStructured, models.RouteStructured, o.structured, q)
	case models.RouteDocument:
		ans = o.dispatch(ctx, StageDocument, models.RouteDocument, o.document, q)
	default:
		ans = o.stageFailure(models.RouteDocument, StageRouting, fmt.Errorf("unknown route %q", decision.Route))
	}

	o.logger.Info("question handled",
		zap.String("question_id", q.ID),
		zap.String("route", string(ans.Responder)),
		zap.String("outcome", string(ans.Outcome)),
		zap.Bool("success", ans.Success),
		zap.Bool("route_fallback", decision.Fallback),
		zap.Duration("elapsed", time.Since(start)))
	return ans
}

func (o *Orchestrator) route(ctx context.Context, q models.Question) (d models.RouteDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logPanic(StageRouting, q, r)
			err = fmt.Errorf("internal error")
		}
	}()
	return o.router.Route(ctx, q), nil
}

func (o *Orchestrator) dispatch(ctx context.Context, stage string, route models.Route, r Responder, q models.Question) (ans models.AgentAnswer) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logPanic(stage, q, rec)
			ans = o.stageFailure(route, stage, fmt.Errorf("internal error"))
		}
	}()
	if r == nil {
		return o.stageFailure(route, stage, fmt.Errorf("responder not configured"))
	}
	ans = r.Answer(ctx, q)
	return normalize(ans, route, stage)
}

// normalize pins the responder and fills fields a responder may have left empty.
func normalize(ans models.AgentAnswer, route models.Route, stage string) models.AgentAnswer {
	ans.Responder = route
	if ans.Outcome == "" {
		if ans.Success {
			ans.Outcome = models.OutcomeAnswered
		} else {
			ans.Outcome = models.OutcomeFailed
		}
	}
	if !ans.Success && ans.Error == "" {
		ans.Error = stage + ": responder failed"
	}
	if ans.Success {
		ans.Error = ""
	}
	return ans
}

func (o *Orchestrator) stageFailure(route models.Route, stage string, err error) models.AgentAnswer {
	return models.Failed(route, models.OutcomeFailed,
		fmt.Sprintf("Sorry, the %s stage failed while handling your question.", stage),
		fmt.Sprintf("%s: %v", stage, err))
}

func (o *Orchestrator) logPanic(stage string, q models.Question, r any) {
	o.logger.Error("recovered panic",
		zap.String("stage", stage),
		zap.String("question_id", q.ID),
		zap.Any("panic", r),
		zap.Stack("stack"))
}
