package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/retrieval"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteAnswer_JSON(t *testing.T) {
	ans := models.AgentAnswer{
		Answer:    "Security Violation: 'DELETE' is not allowed.",
		Success:   false,
		Responder: models.RouteStructured,
		Outcome:   models.OutcomeBlocked,
		Error:     "validate query: rule deny.delete: Security Violation: 'DELETE' is not allowed.",
		Verdict:   &models.SecurityVerdict{Rule: "deny.delete", Reason: "Security Violation: 'DELETE' is not allowed."},
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, ans, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.AgentAnswer
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Responder != ans.Responder || decoded.Outcome != ans.Outcome || decoded.Verdict == nil {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteAnswer_text(t *testing.T) {
	var buf bytes.Buffer
	ans := models.AgentAnswer{
		Answer:    "Return Policy: All vehicles can be returned within 14 days. (source: returns.md)",
		Success:   true,
		Responder: models.RouteDocument,
		Outcome:   models.OutcomeAnswered,
		Sources:   []string{"returns.md"},
	}
	if err := WriteAnswer(&buf, ans, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"14 days", "responder: document", "sources: returns.md"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "error:") || strings.Contains(out, "blocked by") {
		t.Errorf("successful answer should not print error lines:\n%s", out)
	}
}

func TestWriteAnswer_textBlocked(t *testing.T) {
	var buf bytes.Buffer
	ans := models.Failed(models.RouteStructured, models.OutcomeBlocked, "Security Violation: 'DROP' is not allowed.", "validate query: rule deny.drop")
	ans.Verdict = &models.SecurityVerdict{Rule: "deny.drop"}
	_ = WriteAnswer(&buf, ans, OutputText)
	if !strings.Contains(buf.String(), "blocked by: deny.drop") || !strings.Contains(buf.String(), "error: validate query") {
		t.Errorf("output:\n%s", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	st := retrieval.Status{
		Ready:      true,
		Generation: "gen-abc",
		BuiltAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Documents:  3,
		Chunks:     7,
		Ranker:     "lexical",
		DiskUsage:  2048,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"ready", "gen-abc", "2024-05-01T12:00:00Z", "Chunks:      7", "2.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteStatus(&buf, retrieval.Status{LastError: "no policy documents found"}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "not loaded") || !strings.Contains(buf.String(), "Last error") {
		t.Errorf("output:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteStatus(&buf, st, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded retrieval.Status
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil || decoded.Generation != "gen-abc" {
		t.Errorf("decoded = %+v, err=%v", decoded, err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KiB",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
		3 << 30: "3.0 GiB",
	}
	for n, want := range tests {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
