package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/reqlens/internal/cache"
	"github.com/TobiSchelling/reqlens/internal/health"
	"github.com/TobiSchelling/reqlens/internal/model"
)

func init() {
	color.NoColor = true
}

func fixture() []*model.Requirement {
	improved := "The system shall display the login screen within 3 seconds of power-on."
	return []*model.Requirement{
		{
			ID: "R1", ItemCode: "SYS-1", Description: "The system shall start quickly.",
			Tables: []model.Table{{Title: "Limits", Rows: [][]string{{"metric", "value"}, {"boot", "3 s"}}}},
			Analysis: &model.AnalysisRecord{
				IsAnalyzed:   true,
				QualityScore: 4,
				Issues: []model.Issue{
					{Category: "Clarity", Severity: model.SeverityHigh, Description: "'quickly' is vague", Fix: "state a time"},
					{Category: "Testability", Severity: model.SeverityLow, Description: "no condition", Fix: "add trigger"},
				},
				Recommendations: []model.Recommendation{
					{Category: "Measurability", Description: "Add a bound", Rationale: "testable"},
				},
				FreeformFeedback:    "Needs a measurable target.",
				ImprovedRequirement: &improved,
				Source:              "ollama",
				Timestamp:           time.Now().UTC(),
			},
		},
		{ID: "R2", Description: "The system shall log in.", Analysis: model.FailedRecord("analysis service unavailable", "")},
		{ID: "R3", Description: "The system shall log out."},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(fixture())
	if s.Total != 3 || s.Analyzed != 1 || s.Failed != 1 || s.Pending != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.AverageScore != 4 {
		t.Errorf("expected average 4, got %v", s.AverageScore)
	}
	if s.IssuesBySeverity[model.SeverityHigh] != 1 || s.IssuesBySeverity[model.SeverityLow] != 1 {
		t.Errorf("unexpected severity counts %v", s.IssuesBySeverity)
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMarkdown(&buf, fixture()); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# Requirement Quality Report",
		"| 3 | 1 | 1 | 1 | 4.0 |",
		"## SYS-1",
		"**Quality score:** 4/10 _(ollama)_",
		"- **Clarity** (High): 'quickly' is vague",
		"_Fix:_ state a time",
		"### Improved requirement",
		"**Analysis failed:** analysis service unavailable",
		"_Not analyzed yet._",
		"| metric | value |",
		"|---|---|",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, fixture()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if len(doc.Requirements) != 3 || doc.Summary.Analyzed != 1 {
		t.Errorf("unexpected document %+v", doc.Summary)
	}
	if doc.Requirements[0].Analysis.Issues[0].Fix != "state a time" {
		t.Error("issue fix not exported")
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, fixture()); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}

	var doc Document
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if len(doc.Requirements) != 3 || doc.Requirements[1].Analysis.Error() != "analysis service unavailable" {
		t.Errorf("unexpected document %+v", doc.Requirements)
	}
}

func TestWriteJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, nil); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !strings.Contains(buf.String(), `"requirements": []`) {
		t.Errorf("expected empty list, got %s", buf.String())
	}
}

func TestPrintRequirement(t *testing.T) {
	var buf bytes.Buffer
	PrintRequirement(&buf, fixture()[0])
	out := buf.String()

	for _, want := range []string{"SYS-1", "QUALITY SCORE: 4/10", "[High] Clarity", "Fix: state a time", "IMPROVED REQUIREMENT:", "boot | 3 s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintList(t *testing.T) {
	reqs := fixture()
	var buf bytes.Buffer
	PrintList(&buf, reqs, reqs[1])
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[1], "* ") {
		t.Errorf("expected selection marker on second line, got %q", lines[1])
	}
	if !strings.Contains(lines[0], " 4/10") || !strings.Contains(lines[1], "err") {
		t.Errorf("unexpected badges:\n%s", buf.String())
	}

	buf.Reset()
	PrintList(&buf, nil, nil)
	if !strings.Contains(buf.String(), "No requirements") {
		t.Error("expected empty-state hint")
	}
}

func TestPrintHealthAndCache(t *testing.T) {
	var buf bytes.Buffer
	PrintHealth(&buf, health.Report{Status: health.StatusDegraded, ServiceType: "ollama", Samples: 4, Failures: 1, LastError: "timeout"})
	if !strings.Contains(buf.String(), "Backend ollama: DEGRADED") || !strings.Contains(buf.String(), "timeout") {
		t.Errorf("unexpected health output %q", buf.String())
	}

	buf.Reset()
	PrintCacheStats(&buf, cache.Stats{TotalRequests: 4, CacheHits: 1, Misses: 3, HitRate: 0.25, Entries: 3})
	if !strings.Contains(buf.String(), "Hit rate:       25.0%") {
		t.Errorf("unexpected cache output %q", buf.String())
	}
}

func TestWrap(t *testing.T) {
	got := wrap("one two three four", 10, "  ")
	want := "  one two\n  three\n  four"
	if got != want {
		t.Errorf("wrap = %q, want %q", got, want)
	}
}
