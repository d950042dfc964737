package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/TobiSchelling/reqlens/internal/model"
	"github.com/TobiSchelling/reqlens/internal/parser"
)

// SourceFallback marks records produced without the backend.
const SourceFallback = "fallback"

var vagueTerms = []string{
	"user-friendly", "user friendly", "fast", "quick", "easy", "simple",
	"appropriate", "adequate", "sufficient", "reasonable",
	"as needed", "as required", "etc.", "and/or", "tbd", "flexible",
	"efficient", "robust", "seamless", "intuitive", "minimal", "several",
}

var (
	bindingRe  = regexp.MustCompile(`(?i)\b(?:shall|must)\b`)
	numberRe   = regexp.MustCompile(`\d`)
	compoundRe = regexp.MustCompile(`(?i)\b(?:and|or)\s+(?:shall|must|will|should)\b|;`)
)

type finding struct {
	category string
	severity model.Severity
	desc     string
	fix      string
}

// heuristicFindings runs offline wording checks on a requirement.
func heuristicFindings(req *model.Requirement) []finding {
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return []finding{{
			category: "Completeness",
			severity: model.SeverityHigh,
			desc:     "the requirement has no description",
			fix:      "write the requirement as a single shall statement",
		}}
	}

	var out []finding
	lower := " " + strings.ToLower(desc) + " "

	if !bindingRe.MatchString(desc) {
		out = append(out, finding{
			category: "Clarity",
			severity: model.SeverityMedium,
			desc:     "no binding keyword such as shall or must",
			fix:      "state the obligation with shall",
		})
	}

	for _, term := range vagueTerms {
		if containsTerm(lower, term) {
			out = append(out, finding{
				category: "Clarity",
				severity: model.SeverityHigh,
				desc:     fmt.Sprintf("vague term '%s'", term),
				fix:      fmt.Sprintf("replace '%s' with a measurable criterion", term),
			})
		}
	}

	if len(bindingRe.FindAllString(desc, -1)) > 1 || compoundRe.MatchString(desc) {
		out = append(out, finding{
			category: "Atomicity",
			severity: model.SeverityMedium,
			desc:     "several obligations in one statement",
			fix:      "split into one requirement per obligation",
		})
	}

	if !numberRe.MatchString(req.AnalyzableText()) {
		out = append(out, finding{
			category: "Testability",
			severity: model.SeverityMedium,
			desc:     "no measurable value or threshold",
			fix:      "add a quantified acceptance criterion",
		})
	}

	if len(strings.Fields(desc)) < 5 {
		out = append(out, finding{
			category: "Completeness",
			severity: model.SeverityHigh,
			desc:     "statement too short to be verifiable",
			fix:      "name the actor, the action and the condition",
		})
	}
	return out
}

// containsTerm matches term on word boundaries inside a padded, lowercased text.
func containsTerm(padded, term string) bool {
	idx := strings.Index(padded, term)
	for idx >= 0 {
		before := padded[idx-1]
		end := idx + len(term)
		after := byte(' ')
		if end < len(padded) {
			after = padded[end]
		}
		if !isWordByte(before) && !isWordByte(after) {
			return true
		}
		next := strings.Index(padded[idx+1:], term)
		if next < 0 {
			return false
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// heuristicResponse renders the offline checks in the response layout so
// they flow through the same parser as backend answers.
func heuristicResponse(req *model.Requirement) string {
	findings := heuristicFindings(req)

	score := 10
	for _, f := range findings {
		switch f.severity {
		case model.SeverityHigh:
			score -= 3
		case model.SeverityMedium:
			score -= 2
		default:
			score--
		}
	}
	if score < 0 {
		score = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "QUALITY SCORE: %d\n", score)
	if len(findings) > 0 {
		b.WriteString("ISSUES FOUND:\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "* %s Issue (%s): %s | Fix: %s\n", f.category, f.severity, f.desc, f.fix)
		}
	}
	b.WriteString("RECOMMENDATIONS:\n")
	b.WriteString("* Category: General | Description: Re-run the analysis when the backend is available | Rationale: offline checks cover wording only\n")
	fmt.Fprintf(&b, "OVERALL ASSESSMENT: Offline heuristic review found %d issue(s).\n", len(findings))
	return b.String()
}

// fallbackRecord returns an analyzed record built from offline checks.
func fallbackRecord(req *model.Requirement, reason string) *model.AnalysisRecord {
	rec := parser.Parse(heuristicResponse(req), parser.Options{Source: SourceFallback}).Record
	if reason != "" {
		rec.Warnings = append(rec.Warnings, reason)
	}
	return rec
}
