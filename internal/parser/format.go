package parser

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/reqlens/internal/model"
)

// Format renders a record in the section layout Parse understands.
// Parsing the output yields an equivalent record.
func Format(rec *model.AnalysisRecord) string {
	if rec == nil || !rec.IsAnalyzed {
		return ""
	}
	var b strings.Builder

	fmt.Fprintf(&b, "QUALITY SCORE: %d\n", rec.QualityScore)

	if len(rec.Issues) > 0 {
		b.WriteString("ISSUES FOUND:\n")
		for _, issue := range rec.Issues {
			fmt.Fprintf(&b, "* %s Issue (%s): %s | Fix: %s\n",
				issue.Category, issue.Severity, oneLine(issue.Description), oneLine(issue.Fix))
		}
	}

	if len(rec.Recommendations) > 0 {
		b.WriteString("RECOMMENDATIONS:\n")
		for _, r := range rec.Recommendations {
			if r.LowConfidence {
				fmt.Fprintf(&b, "* %s\n", oneLine(r.Description))
				continue
			}
			fmt.Fprintf(&b, "* Category: %s | Description: %s", r.Category, oneLine(r.Description))
			if r.Rationale != "" {
				fmt.Fprintf(&b, " | Rationale: %s", oneLine(r.Rationale))
			}
			if r.SuggestedEdit != "" {
				fmt.Fprintf(&b, " | Suggested Edit: %s", oneLine(r.SuggestedEdit))
			}
			b.WriteString("\n")
		}
	}

	if rec.FreeformFeedback != "" {
		fmt.Fprintf(&b, "OVERALL ASSESSMENT: %s\n", oneLine(rec.FreeformFeedback))
	}

	if improved := rec.Improved(); improved != "" {
		fmt.Fprintf(&b, "IMPROVED REQUIREMENT:\n%s\n", oneLine(improved))
	}

	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
