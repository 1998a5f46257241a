// Package router decides which responder handles a question.
package router

import (
	"context"
	"fmt"

	"github.com/hyperjump/hubagent/internal/config"
	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/pkg/utils"
	"go.uber.org/zap"
)

// Classifier assigns a route to a question.
type Classifier interface {
	Classify(ctx context.Context, q models.Question) (models.RouteDecision, error)
}

// Router applies a Classifier and falls back to the document route on any failure.
type Router struct {
	classifier Classifier
	logger     *zap.Logger
}

// New creates a router around classifier.
func New(classifier Classifier, logger *zap.Logger) *Router {
	return &Router{classifier: classifier, logger: utils.OrNop(logger)}
}

// NewFromConfig builds the classifier selected by cfg.Strategy.
// The llm and hybrid strategies degrade to keyword matching when client is nil.
func NewFromConfig(cfg *config.RouterConfig, client llm.Client, logger *zap.Logger) (*Router, error) {
	kw := NewKeywordClassifier(cfg.StructuredTerms, cfg.DocumentTerms)
	var c Classifier
	switch cfg.Strategy {
	case "", "keyword":
		c = kw
	case "llm":
		if client == nil {
			utils.OrNop(logger).Warn("router strategy llm without an llm provider, using keyword")
			c = kw
		} else {
			c = NewLLMClassifier(client)
		}
	case "hybrid":
		if client == nil {
			c = kw
		} else {
			c = NewHybridClassifier(kw, NewLLMClassifier(client))
		}
	default:
		return nil, fmt.Errorf("unknown router strategy %q", cfg.Strategy)
	}
	return New(c, logger), nil
}

// Route returns exactly one decision for q. It never fails: blank questions and classifier
// errors resolve to the document route.
func (r *Router) Route(ctx context.Context, q models.Question) models.RouteDecision {
	if q.IsBlank() {
		return models.RouteDecision{
			Route:     models.RouteDocument,
			Rationale: "empty question",
			Fallback:  true,
		}
	}
	d, err := r.classifier.Classify(ctx, q)
	if err != nil {
		r.logger.Warn("classification failed, defaulting to document route",
			zap.String("question_id", q.ID), zap.Error(err))
		return models.RouteDecision{
			Route:     models.RouteDocument,
			Rationale: "classifier error: " + err.Error(),
			Fallback:  true,
		}
	}
	if !d.Route.Valid() {
		r.logger.Warn("classifier returned unknown route, defaulting to document route",
			zap.String("question_id", q.ID), zap.String("route", string(d.Route)))
		d.Route = models.RouteDocument
		d.Confidence = 0
		d.Fallback = true
	}
	r.logger.Debug("question routed",
		zap.String("question_id", q.ID),
		zap.String("route", string(d.Route)),
		zap.String("classifier", d.Classifier),
		zap.Float64("confidence", d.Confidence))
	return d
}
