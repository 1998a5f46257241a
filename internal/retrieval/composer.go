package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperjump/hubagent/internal/llm"
	"github.com/hyperjump/hubagent/pkg/utils"
)

// Composer turns ranked chunks into answer text.
type Composer interface {
	Compose(ctx context.Context, question string, hits []Hit) (string, error)
}

// ExcerptComposer quotes the sentences of the best chunks that mention the question terms.
type ExcerptComposer struct {
	MaxExcerpts int
}

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)`)

func sentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Compose returns one excerpt per chunk, each followed by its source.
func (e ExcerptComposer) Compose(ctx context.Context, question string, hits []Hit) (string, error) {
	maxExcerpts := e.MaxExcerpts
	if maxExcerpts <= 0 {
		maxExcerpts = 2
	}
	terms := utils.Terms(question)
	seen := make(map[string]bool)
	var parts []string
	for _, h := range hits {
		if len(parts) == maxExcerpts {
			break
		}
		var picked []string
		for _, s := range sentences(h.Chunk.Content) {
			if seen[s] || !mentionsAny(s, terms) {
				continue
			}
			seen[s] = true
			picked = append(picked, s)
		}
		if len(picked) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (source: %s)", strings.Join(picked, " "), h.Chunk.Source))
	}
	if len(parts) == 0 && len(hits) > 0 {
		h := hits[0]
		parts = append(parts, fmt.Sprintf("%s (source: %s)", strings.TrimSpace(h.Chunk.Content), h.Chunk.Source))
	}
	return strings.Join(parts, "\n\n"), nil
}

func mentionsAny(s string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	toks := make(map[string]struct{})
	for _, t := range utils.Tokens(s) {
		toks[t] = struct{}{}
	}
	for _, t := range terms {
		if _, ok := toks[t]; ok {
			return true
		}
	}
	return false
}

// LLMComposer asks a language model to answer from the retrieved chunks only.
type LLMComposer struct {
	client llm.Client
}

// NewLLMComposer creates a composer backed by client.
func NewLLMComposer(client llm.Client) *LLMComposer {
	return &LLMComposer{client: client}
}

const composePrompt = "You answer questions from sales staff about company policy. " +
	"Use only the policy excerpts provided. " +
	"If the excerpts do not contain the answer, reply that the policy documents do not cover it. " +
	"Keep the answer short and mention the source file."

// Compose sends the question and numbered excerpts as grounding context.
func (c *LLMComposer) Compose(ctx context.Context, question string, hits []Hit) (string, error) {
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, h.Chunk.Source, strings.TrimSpace(h.Chunk.Content))
	}
	fmt.Fprintf(&b, "Question: %s", question)
	out, err := c.client.Complete(ctx, llm.Request{System: composePrompt, User: b.String()})
	if err != nil {
		return "", fmt.Errorf("llm compose: %w", err)
	}
	return strings.TrimSpace(out), nil
}
