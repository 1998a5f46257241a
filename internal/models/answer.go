package models

// Outcome classifies how a responder finished.
type Outcome string

const (
	OutcomeAnswered                 Outcome = "answered"
	OutcomeKnowledgeBaseUnavailable Outcome = "knowledge_base_unavailable"
	OutcomeNotFound                 Outcome = "not_found"
	OutcomeBlocked                  Outcome = "blocked"
	OutcomeFailed                   Outcome = "failed"
)

// QueryPlan is a candidate SQL statement generated for a question.
// Raw holds the generator's unprocessed output when it differs from SQL.
type QueryPlan struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
	Raw      string `json:"raw,omitempty"`
}

// SecurityVerdict is the validator's decision on a QueryPlan.
type SecurityVerdict struct {
	Allowed bool   `json:"allowed"`
	Rule    string `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// AgentAnswer is the normalized result handed back to callers.
// Success is false only when the dispatched responder hit an error or blocked the plan.
type AgentAnswer struct {
	Answer     string           `json:"answer"`
	Success    bool             `json:"success"`
	Responder  Route            `json:"responder"`
	Error      string           `json:"error,omitempty"`
	Outcome    Outcome          `json:"outcome"`
	Verdict    *SecurityVerdict `json:"verdict,omitempty"`
	Sources    []string         `json:"sources,omitempty"`
	Generation string           `json:"generation,omitempty"`
}

// Failed builds a failed answer for responder r.
func Failed(r Route, outcome Outcome, message, errText string) AgentAnswer {
	return AgentAnswer{
		Answer:    message,
		Success:   false,
		Responder: r,
		Error:     errText,
		Outcome:   outcome,
	}
}
