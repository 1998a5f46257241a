package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/hubagent/internal/datastore"
	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
)

// Summarizer turns a result set into the answer text.
type Summarizer interface {
	Summarize(ctx context.Context, plan models.QueryPlan, rs *datastore.ResultSet) (string, error)
}

// TableSummarizer renders results deterministically.
type TableSummarizer struct {
	// MaxLines bounds the number of rendered rows.
	MaxLines int
}

// Summarize returns "The answer is X." for a single value, otherwise one line per row.
func (s TableSummarizer) Summarize(ctx context.Context, plan models.QueryPlan, rs *datastore.ResultSet) (string, error) {
	if rs == nil || len(rs.Rows) == 0 {
		return "No matching records were found.", nil
	}
	if len(rs.Rows) == 1 && len(rs.Columns) == 1 {
		return fmt.Sprintf("The answer is %s.", formatValue(rs.Rows[0][0])), nil
	}
	maxLines := s.MaxLines
	if maxLines <= 0 {
		maxLines = 20
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %s", len(rs.Rows), plural(len(rs.Rows), "row", "rows"))
	if rs.Truncated {
		b.WriteString(" (result truncated)")
	}
	b.WriteString(":")
	for i, row := range rs.Rows {
		if i == maxLines {
			fmt.Fprintf(&b, "\n... %d more", len(rs.Rows)-maxLines)
			break
		}
		b.WriteString("\n- ")
		for j, col := range rs.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", col, formatValue(row[j]))
		}
	}
	return b.String(), nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.2f", x)
	case time.Time:
		return x.Format("2006-01-02")
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// LLMSummarizer asks a language model to phrase the result for a business user.
type LLMSummarizer struct {
	client llm.Client
}

// NewLLMSummarizer creates a summarizer backed by client.
func NewLLMSummarizer(client llm.Client) *LLMSummarizer {
	return &LLMSummarizer{client: client}
}

const summaryPrompt = "You are a data analyst answering a sales manager. " +
	"Answer the question in one or two sentences using only the query result. " +
	"If the result is empty, say that no matching records were found."

// Summarize sends the question, query and JSON rows to the model.
func (s *LLMSummarizer) Summarize(ctx context.Context, plan models.QueryPlan, rs *datastore.ResultSet) (string, error) {
	rows, err := json.Marshal(rs.Records())
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	user := fmt.Sprintf("Question: %s\nSQL: %s\nResult (JSON): %s", plan.Question, plan.SQL, rows)
	if rs.Truncated {
		user += "\nNote: the result was truncated."
	}
	out, err := s.client.Complete(ctx, llm.Request{System: summaryPrompt, User: user})
	if err != nil {
		return "", fmt.Errorf("llm summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}
