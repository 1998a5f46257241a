// Package guard answers questions over the business data store through generated, validated, read-only queries.
package guard

import (
	"fmt"
	"strings"

	"github.com/hyperjump/hubagent/internal/models"
)

// DefaultDenylist covers write and administrative verbs, statement and comment
// sequences, and credential-bearing names.
var DefaultDenylist = []string{
	"DELETE", "DROP", "UPDATE", "INSERT", "ALTER", "TRUNCATE", "GRANT", "REVOKE",
	";", "--", "/*",
	"ATTACH", "DETACH", "PRAGMA", "VACUUM",
	"PASSWORD", "CREDENTIAL", "SECRET",
}

// Rule is one denylisted pattern.
type Rule struct {
	ID      string
	Pattern string
}

var symbolSlugs = map[string]string{
	";":  "semicolon",
	"--": "line-comment",
	"/*": "block-comment",
	"*/": "block-comment-end",
	"#":  "hash-comment",
}

func ruleID(pattern string) string {
	if s, ok := symbolSlugs[pattern]; ok {
		return "deny." + s
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(pattern) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = fmt.Sprintf("%x", pattern)
	}
	return "deny." + slug
}

// Validator rejects query plans that contain any denylisted pattern.
type Validator struct {
	rules []Rule
}

// NewValidator builds a validator from patterns in priority order; blank patterns are ignored.
// An empty list uses DefaultDenylist.
func NewValidator(patterns []string) *Validator {
	if len(patterns) == 0 {
		patterns = DefaultDenylist
	}
	v := &Validator{}
	seen := make(map[string]bool)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToUpper(p)] {
			continue
		}
		seen[strings.ToUpper(p)] = true
		v.rules = append(v.rules, Rule{ID: ruleID(p), Pattern: p})
	}
	return v
}

// Rules returns the active rules.
func (v *Validator) Rules() []Rule {
	return append([]Rule(nil), v.rules...)
}

// Validate checks the full plan text, and the raw generator output when present,
// with case-insensitive substring matching. The first matching rule decides the verdict.
func (v *Validator) Validate(plan models.QueryPlan) models.SecurityVerdict {
	if strings.TrimSpace(plan.SQL) == "" {
		return models.SecurityVerdict{Rule: "deny.empty", Reason: "Security Violation: empty query is not allowed."}
	}
	text := strings.ToUpper(plan.SQL)
	if plan.Raw != "" && plan.Raw != plan.SQL {
		text += "\n" + strings.ToUpper(plan.Raw)
	}
	for _, r := range v.rules {
		if strings.Contains(text, strings.ToUpper(r.Pattern)) {
			return models.SecurityVerdict{
				Rule:   r.ID,
				Reason: fmt.Sprintf("Security Violation: '%s' is not allowed.", r.Pattern),
			}
		}
	}
	return models.SecurityVerdict{Allowed: true}
}
