package router

import (
	"context"
	"fmt"

	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/pkg/utils"
)

const routingPrompt = "You are a routing assistant. " +
	"Your task is to classify the user's question into one of two categories:\n" +
	"1. 'sql' -> For questions about data, numbers, sales, dealers, inventory, revenue, or 'how many'.\n" +
	"2. 'rag' -> For questions about policies, text documents, rules, incentives, compliance, or warranty.\n" +
	"Return ONLY the keyword 'sql' or 'rag'."

// LLMClassifier asks a language model for a forced-choice label.
type LLMClassifier struct {
	client llm.Client
}

// NewLLMClassifier creates a classifier backed by client.
func NewLLMClassifier(client llm.Client) *LLMClassifier {
	return &LLMClassifier{client: client}
}

// Classify maps the reply to a route. A reply naming both labels or neither
// resolves to the document route.
func (c *LLMClassifier) Classify(ctx context.Context, q models.Question) (models.RouteDecision, error) {
	reply, err := c.client.Complete(ctx, llm.Request{
		System:    routingPrompt,
		User:      q.Text,
		MaxTokens: 5,
	})
	if err != nil {
		return models.RouteDecision{}, fmt.Errorf("llm classify: %w", err)
	}
	var sql, rag bool
	for _, tok := range utils.Tokens(reply) {
		switch tok {
		case "sql":
			sql = true
		case "rag":
			rag = true
		}
	}
	dec := models.RouteDecision{Classifier: "llm:" + c.client.Name(), Rationale: "label " + utils.Truncate(reply, 20)}
	switch {
	case sql && !rag:
		dec.Route = models.RouteStructured
		dec.Confidence = 1
	case rag && !sql:
		dec.Route = models.RouteDocument
		dec.Confidence = 1
	default:
		dec.Route = models.RouteDocument
		dec.Rationale = "unparseable label " + utils.Truncate(reply, 20)
		dec.Fallback = true
	}
	return dec, nil
}

// HybridClassifier uses keyword matching and consults the model only when no vocabulary term matched.
type HybridClassifier struct {
	keyword *KeywordClassifier
	model   Classifier
}

// NewHybridClassifier combines a keyword and a model classifier.
func NewHybridClassifier(keyword *KeywordClassifier, model Classifier) *HybridClassifier {
	return &HybridClassifier{keyword: keyword, model: model}
}

// Classify returns the keyword decision when it matched anything, otherwise the model's.
func (h *HybridClassifier) Classify(ctx context.Context, q models.Question) (models.RouteDecision, error) {
	if h.keyword.Matched(q.Text) {
		return h.keyword.Classify(ctx, q)
	}
	return h.model.Classify(ctx, q)
}
