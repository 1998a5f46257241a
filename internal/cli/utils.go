// Package cli provides CLI output helpers for hubagent.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/retrieval"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteAnswer writes an answer to w in the given format.
func WriteAnswer(w io.Writer, ans models.AgentAnswer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	fmt.Fprintf(w, "\n%s\n\n", ans.Answer)
	fmt.Fprintf(w, "responder: %s | outcome: %s | success: %t\n", ans.Responder, ans.Outcome, ans.Success)
	if len(ans.Sources) > 0 {
		fmt.Fprintf(w, "sources: %s\n", strings.Join(ans.Sources, ", "))
	}
	if ans.Verdict != nil && !ans.Verdict.Allowed {
		fmt.Fprintf(w, "blocked by: %s\n", ans.Verdict.Rule)
	}
	if ans.Error != "" {
		fmt.Fprintf(w, "error: %s\n", ans.Error)
	}
	return nil
}

// WriteStatus writes the document index status to w in the given format.
func WriteStatus(w io.Writer, st retrieval.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	state := "not loaded"
	if st.Ready {
		state = "ready"
	}
	fmt.Fprintf(w, "Index:       %s\n", state)
	if st.Generation != "" {
		fmt.Fprintf(w, "Generation:  %s (built %s)\n", st.Generation, st.BuiltAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Documents:   %d\n", st.Documents)
	fmt.Fprintf(w, "Chunks:      %d\n", st.Chunks)
	fmt.Fprintf(w, "Source:      %s\n", st.SourceDir)
	fmt.Fprintf(w, "Index path:  %s\n", st.IndexPath)
	fmt.Fprintf(w, "Ranker:      %s\n", st.Ranker)
	fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(st.DiskUsage))
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error:  %s\n", st.LastError)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
