package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/pkg/utils"
)

// DefaultStructuredTerms signal questions about counts, amounts and business records.
var DefaultStructuredTerms = []string{
	"how many", "number of", "count", "total", "sum", "average", "avg", "mean",
	"top", "highest", "lowest", "most", "least", "rank", "trend",
	"sales", "sold", "revenue", "margin", "price", "prices", "volume",
	"dealer", "dealers", "inventory", "stock", "car", "cars", "vehicles in stock",
	"transaction", "transactions", "lead", "leads", "conversion", "converted",
	"employee", "employees", "rep", "reps", "quota", "kpi", "turnover", "churn",
	"data", "numbers", "figures", "per month", "last month", "this year",
}

// DefaultDocumentTerms signal questions answered by policy documents.
var DefaultDocumentTerms = []string{
	"policy", "policies", "warranty", "return", "returns", "returned", "refund",
	"discount", "discounts", "authorize", "allowed", "compliance", "incentive",
	"incentives", "rule", "rules", "guideline", "guidelines", "procedure",
	"handbook", "terms", "conditions", "document", "documents",
}

// KeywordClassifier routes by counting vocabulary hits.
// Single words match whole tokens; multi-word phrases match as substrings.
type KeywordClassifier struct {
	structured vocabulary
	document   vocabulary
}

type vocabulary struct {
	words   map[string]struct{}
	phrases []string
}

func newVocabulary(terms []string) vocabulary {
	v := vocabulary{words: make(map[string]struct{})}
	for _, t := range terms {
		t = utils.NormalizeQuestion(t)
		if t == "" {
			continue
		}
		if strings.Contains(t, " ") {
			v.phrases = append(v.phrases, t)
		} else {
			v.words[t] = struct{}{}
		}
	}
	return v
}

func (v vocabulary) hits(tokens []string, normalized string) []string {
	var matched []string
	for _, tok := range tokens {
		if _, ok := v.words[tok]; ok {
			matched = append(matched, tok)
		}
	}
	for _, p := range v.phrases {
		if strings.Contains(normalized, " "+p+" ") {
			matched = append(matched, p)
		}
	}
	return matched
}

// NewKeywordClassifier creates a classifier. Empty term lists use the defaults.
func NewKeywordClassifier(structured, document []string) *KeywordClassifier {
	if len(structured) == 0 {
		structured = DefaultStructuredTerms
	}
	if len(document) == 0 {
		document = DefaultDocumentTerms
	}
	return &KeywordClassifier{
		structured: newVocabulary(structured),
		document:   newVocabulary(document),
	}
}

// Classify picks structured-data only when its vocabulary strictly outscores the document vocabulary.
func (k *KeywordClassifier) Classify(ctx context.Context, q models.Question) (models.RouteDecision, error) {
	s, d := k.score(q.Text)
	dec := models.RouteDecision{Classifier: "keyword"}
	switch {
	case len(s) > len(d):
		dec.Route = models.RouteStructured
		dec.Confidence = float64(len(s)) / float64(len(s)+len(d))
		dec.Rationale = fmt.Sprintf("structured terms %v", s)
	case len(d) > 0:
		dec.Route = models.RouteDocument
		dec.Confidence = float64(len(d)) / float64(len(s)+len(d))
		dec.Rationale = fmt.Sprintf("document terms %v", d)
	default:
		dec.Route = models.RouteDocument
		dec.Rationale = "no vocabulary matched"
		dec.Fallback = true
	}
	return dec, nil
}

// Matched reports whether any vocabulary term occurs in text.
func (k *KeywordClassifier) Matched(text string) bool {
	s, d := k.score(text)
	return len(s)+len(d) > 0
}

func (k *KeywordClassifier) score(text string) (structured, document []string) {
	tokens := utils.Tokens(text)
	normalized := " " + strings.Join(tokens, " ") + " "
	return k.structured.hits(tokens, normalized), k.document.hits(tokens, normalized)
}
