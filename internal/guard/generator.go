package guard

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/pkg/utils"
)

// ErrNoPlan is returned when a generator cannot produce a query for a question.
var ErrNoPlan = errors.New("no query could be generated for the question")

// PlanGenerator turns a question into a candidate query.
type PlanGenerator interface {
	Generate(ctx context.Context, question string) (models.QueryPlan, error)
}

// GeneratorFunc adapts a function to PlanGenerator.
type GeneratorFunc func(ctx context.Context, question string) (models.QueryPlan, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, question string) (models.QueryPlan, error) {
	return f(ctx, question)
}

// LLMGenerator asks a language model for a single read-only SELECT statement.
type LLMGenerator struct {
	client   llm.Client
	schema   string
	rowLimit int
}

// NewLLMGenerator creates a generator. rowLimit is passed to the model as an instruction.
func NewLLMGenerator(client llm.Client, schema string, rowLimit int) *LLMGenerator {
	if rowLimit <= 0 {
		rowLimit = 10
	}
	return &LLMGenerator{client: client, schema: schema, rowLimit: rowLimit}
}

func (g *LLMGenerator) systemPrompt() string {
	return fmt.Sprintf("You are a READ-ONLY data analyst. "+
		"You must NOT modify data. "+
		"If the user asks for more than %d rows, you MUST add 'LIMIT %d' to the SQL. "+
		"Do not query credentials or passwords.\n"+
		"Write exactly one SQL SELECT statement that answers the question using only these tables:\n%s\n"+
		"Return only the SQL, without explanation or markdown.", g.rowLimit, g.rowLimit, g.schema)
}

// Generate returns the statement produced by the model. The untouched reply is
// kept in Raw so the validator sees everything the model emitted.
func (g *LLMGenerator) Generate(ctx context.Context, question string) (models.QueryPlan, error) {
	out, err := g.client.Complete(ctx, llm.Request{System: g.systemPrompt(), User: question})
	if err != nil {
		return models.QueryPlan{}, fmt.Errorf("llm query generation: %w", err)
	}
	sql := CleanSQL(out)
	if sql == "" {
		return models.QueryPlan{}, ErrNoPlan
	}
	return models.QueryPlan{Question: question, SQL: sql, Raw: out}, nil
}

var (
	fenceRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	prefixRe = regexp.MustCompile(`(?i)^\s*(sqlquery|sql query|sql|query)\s*:\s*`)
)

// CleanSQL strips markdown fences and "SQLQuery:" style prefixes.
// Semicolons are kept for the validator.
func CleanSQL(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = prefixRe.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.TrimSpace(s)
}

// PatternGenerator handles simple counting and listing questions without a language model.
type PatternGenerator struct {
	rowLimit int
}

// NewPatternGenerator creates a generator whose list queries are capped at rowLimit rows.
func NewPatternGenerator(rowLimit int) *PatternGenerator {
	if rowLimit <= 0 {
		rowLimit = 10
	}
	return &PatternGenerator{rowLimit: rowLimit}
}

var entityTables = map[string]string{
	"dealer": "dealers", "dealers": "dealers", "dealerships": "dealers",
	"employee": "employees", "employees": "employees", "rep": "employees", "reps": "employees", "staff": "employees",
	"car": "inventory", "cars": "inventory", "vehicle": "inventory", "vehicles": "inventory", "inventory": "inventory",
	"transaction": "transactions", "transactions": "transactions",
	"lead": "leads", "leads": "leads",
	"kpi": "kpi_snapshots", "kpis": "kpi_snapshots",
}

// Generate matches "how many / number of / count <entity>" and "list / show <entity>".
func (g *PatternGenerator) Generate(ctx context.Context, question string) (models.QueryPlan, error) {
	tokens := utils.Tokens(question)
	norm := " " + strings.Join(tokens, " ") + " "
	table := ""
	for _, t := range tokens {
		if tbl, ok := entityTables[t]; ok {
			table = tbl
			break
		}
	}
	if table == "" {
		return models.QueryPlan{}, ErrNoPlan
	}
	switch {
	case strings.Contains(norm, " how many ") || strings.Contains(norm, " number of ") || strings.Contains(norm, " count "):
		return models.QueryPlan{Question: question, SQL: "SELECT COUNT(*) AS count FROM " + table}, nil
	case strings.Contains(norm, " list ") || strings.Contains(norm, " show "):
		return models.QueryPlan{Question: question, SQL: fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, g.rowLimit)}, nil
	}
	return models.QueryPlan{}, ErrNoPlan
}
