package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Question is a single natural-language question submitted by a caller.
type Question struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewQuestion stamps text with an ID and the current time.
func NewQuestion(text string) Question {
	return Question{
		ID:         uuid.NewString(),
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

// IsBlank reports whether the question has no usable text.
func (q Question) IsBlank() bool {
	return strings.TrimSpace(q.Text) == ""
}

// Route is the closed set of destinations a question can be dispatched to.
type Route string

const (
	// RouteStructured sends the question to the guarded SQL responder.
	RouteStructured Route = "structured-data"
	// RouteDocument sends the question to the policy document responder.
	RouteDocument Route = "document"
)

// Valid reports whether r is one of the known routes.
func (r Route) Valid() bool {
	switch r {
	case RouteStructured, RouteDocument:
		return true
	default:
		return false
	}
}

// RouteDecision is the router's verdict for one question.
type RouteDecision struct {
	Route      Route   `json:"route"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Classifier string  `json:"classifier,omitempty"`
	// Fallback is set when the safe default was applied instead of a real classification.
	Fallback bool `json:"fallback,omitempty"`
}
