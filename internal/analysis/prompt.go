package analysis

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/reqlens/internal/model"
)

const promptHeader = `You are reviewing a single engineering requirement for quality.

Assess clarity, testability, completeness, atomicity and actionability.
Respond using exactly these sections:

QUALITY SCORE: <integer 0-10>
ISSUES FOUND:
* <Category> Issue (<Low|Medium|High>): <description> | Fix: <concrete fix>
RECOMMENDATIONS:
* Category: <category> | Description: <what to change> | Rationale: <why> | Suggested Edit: <replacement text>
OVERALL ASSESSMENT: <one or two sentences>
`

const improvedSection = `IMPROVED REQUIREMENT:
<the requirement rewritten to resolve every issue, on one line>
`

const promptRules = `
Every issue must include a Fix. Do not invent information the requirement does not imply.

`

// buildPrompt renders the analysis prompt. The requirement text is cut to
// maxChars runes when maxChars > 0; truncated reports whether that happened.
func buildPrompt(req *model.Requirement, maxChars int, withImproved bool) (prompt string, truncated bool) {
	text := req.AnalyzableText()
	if runes := []rune(text); maxChars > 0 && len(runes) > maxChars {
		omitted := len(runes) - maxChars
		text = string(runes[:maxChars]) +
			fmt.Sprintf("\n[... truncated: %d of %d characters omitted]", omitted, len(runes))
		truncated = true
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	if withImproved {
		b.WriteString(improvedSection)
	}
	b.WriteString(promptRules)
	fmt.Fprintf(&b, "REQUIREMENT %s:\n%s\n", req.Label(), text)
	return b.String(), truncated
}
