// Package report exports analyzed requirements and renders them for the
// terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/reqlens/internal/model"
)

// Summary aggregates analysis results over a set of requirements.
type Summary struct {
	Total            int                    `json:"total" yaml:"total"`
	Analyzed         int                    `json:"analyzed" yaml:"analyzed"`
	Failed           int                    `json:"failed" yaml:"failed"`
	Pending          int                    `json:"pending" yaml:"pending"`
	AverageScore     float64                `json:"average_score" yaml:"average_score"`
	IssuesBySeverity map[model.Severity]int `json:"issues_by_severity" yaml:"issues_by_severity"`
}

// Summarize counts analysis results.
func Summarize(reqs []*model.Requirement) Summary {
	s := Summary{Total: len(reqs), IssuesBySeverity: map[model.Severity]int{}}
	var scoreSum int
	for _, r := range reqs {
		switch {
		case r.Analysis == nil:
			s.Pending++
		case r.Analysis.Failed():
			s.Failed++
		default:
			s.Analyzed++
			scoreSum += r.Analysis.QualityScore
			for sev, n := range r.Analysis.IssueCounts() {
				s.IssuesBySeverity[sev] += n
			}
		}
	}
	if s.Analyzed > 0 {
		s.AverageScore = float64(scoreSum) / float64(s.Analyzed)
	}
	return s
}

// Document is the machine-readable export.
type Document struct {
	GeneratedAt  time.Time            `json:"generated_at" yaml:"generated_at"`
	Summary      Summary              `json:"summary" yaml:"summary"`
	Requirements []*model.Requirement `json:"requirements" yaml:"requirements"`
}

func newDocument(reqs []*model.Requirement) Document {
	if reqs == nil {
		reqs = []*model.Requirement{}
	}
	return Document{
		GeneratedAt:  time.Now().UTC(),
		Summary:      Summarize(reqs),
		Requirements: reqs,
	}
}

// WriteJSON writes reqs with their analyses as indented JSON.
func WriteJSON(w io.Writer, reqs []*model.Requirement) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newDocument(reqs))
}

// WriteYAML writes reqs with their analyses as YAML.
func WriteYAML(w io.Writer, reqs []*model.Requirement) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newDocument(reqs)); err != nil {
		return err
	}
	return enc.Close()
}

// WriteMarkdown writes a human-readable report.
func WriteMarkdown(w io.Writer, reqs []*model.Requirement) error {
	s := Summarize(reqs)

	var b strings.Builder
	b.WriteString("# Requirement Quality Report\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", time.Now().UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "| Requirements | Analyzed | Failed | Pending | Average score |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %.1f |\n", s.Total, s.Analyzed, s.Failed, s.Pending, s.AverageScore)

	for _, r := range reqs {
		b.WriteString("\n---\n\n")
		b.WriteString(RequirementMarkdown(r))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RequirementMarkdown renders one requirement and its analysis.
func RequirementMarkdown(r *model.Requirement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", r.Label())
	if r.ItemCode != "" && r.ItemCode != r.ID {
		fmt.Fprintf(&b, "ID: `%s`\n\n", r.ID)
	}
	fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(r.Description, "\n", "\n> "))
	for _, p := range r.Paragraphs {
		fmt.Fprintf(&b, "%s\n\n", p)
	}
	for _, t := range r.Tables {
		writeTable(&b, t)
	}

	b.WriteString(AnalysisMarkdown(r.Analysis))
	return b.String()
}

// AnalysisMarkdown renders an analysis record.
func AnalysisMarkdown(rec *model.AnalysisRecord) string {
	var b strings.Builder
	switch {
	case rec == nil:
		b.WriteString("_Not analyzed yet._\n")
		return b.String()
	case rec.Failed():
		fmt.Fprintf(&b, "**Analysis failed:** %s\n", rec.Error())
		return b.String()
	}

	fmt.Fprintf(&b, "**Quality score:** %d/10", rec.QualityScore)
	if rec.Source != "" {
		fmt.Fprintf(&b, " _(%s)_", rec.Source)
	}
	b.WriteString("\n\n")

	if len(rec.Issues) > 0 {
		b.WriteString("### Issues\n\n")
		for _, is := range rec.Issues {
			fmt.Fprintf(&b, "- **%s** (%s): %s  \n  _Fix:_ %s\n", is.Category, is.Severity, is.Description, is.Fix)
		}
		b.WriteString("\n")
	}

	if len(rec.Recommendations) > 0 {
		b.WriteString("### Recommendations\n\n")
		for _, rc := range rec.Recommendations {
			fmt.Fprintf(&b, "- **%s**: %s", rc.Category, rc.Description)
			if rc.Rationale != "" {
				fmt.Fprintf(&b, "  \n  _Rationale:_ %s", rc.Rationale)
			}
			if rc.SuggestedEdit != "" {
				fmt.Fprintf(&b, "  \n  _Suggested edit:_ %s", rc.SuggestedEdit)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if rec.FreeformFeedback != "" {
		fmt.Fprintf(&b, "### Overall assessment\n\n%s\n\n", rec.FreeformFeedback)
	}
	if improved := rec.Improved(); improved != "" {
		fmt.Fprintf(&b, "### Improved requirement\n\n> %s\n\n", strings.ReplaceAll(improved, "\n", "\n> "))
	}
	if len(rec.Warnings) > 0 {
		b.WriteString("<details><summary>Unparsed lines</summary>\n\n")
		for _, wn := range rec.Warnings {
			fmt.Fprintf(&b, "- %s\n", wn)
		}
		b.WriteString("\n</details>\n")
	}
	return b.String()
}

func writeTable(b *strings.Builder, t model.Table) {
	if len(t.Rows) == 0 {
		return
	}
	if t.Title != "" {
		fmt.Fprintf(b, "**%s**\n\n", t.Title)
	}
	width := 0
	for _, row := range t.Rows {
		width = max(width, len(row))
	}
	for i, row := range t.Rows {
		cells := make([]string, width)
		copy(cells, row)
		for j := range cells {
			cells[j] = strings.ReplaceAll(cells[j], "|", `\|`)
		}
		fmt.Fprintf(b, "| %s |\n", strings.Join(cells, " | "))
		if i == 0 {
			fmt.Fprintf(b, "|%s\n", strings.Repeat("---|", width))
		}
	}
	b.WriteString("\n")
}
