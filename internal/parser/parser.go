// Package parser turns free-form analysis responses into structured records.
//
// The same heuristics serve two producers: the integrated backend, which
// usually follows the requested layout, and text pasted back from an
// external tool, which may not. Parsing never fails. Lines that cannot be
// interpreted are returned as Unparsed so callers can show them.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/TobiSchelling/reqlens/internal/model"
)

type section int

const (
	sectionNone section = iota
	sectionScore
	sectionIssues
	sectionRecommendations
	sectionOverall
	sectionImproved
)

func (s section) String() string {
	switch s {
	case sectionScore:
		return "quality score"
	case sectionIssues:
		return "issues"
	case sectionRecommendations:
		return "recommendations"
	case sectionOverall:
		return "overall assessment"
	case sectionImproved:
		return "improved requirement"
	default:
		return "preamble"
	}
}

// Header prefixes, matched case-insensitively against the start of a
// non-bullet line.
var headers = []struct {
	prefix  string
	section section
}{
	{"QUALITY SCORE", sectionScore},
	{"ISSUES FOUND", sectionIssues},
	{"ISSUES:", sectionIssues},
	{"RECOMMENDATIONS", sectionRecommendations},
	{"OVERALL ASSESSMENT", sectionOverall},
	{"OVERALL:", sectionOverall},
	{"IMPROVED REQUIREMENT", sectionImproved},
}

const fixKeyword = `\b(?:suggested\s+fix|fix|remedy)\s*:\s*`

// issueTemplates are tried in order of decreasing specificity.
var issueTemplates = []struct {
	name string
	re   *regexp.Regexp
	// submatch indexes; 0 means the template has no such group
	category, severity, description, fix int
}{
	{
		name:     "category-issue-severity-pipe",
		re:       regexp.MustCompile(`(?i)^(.+?)\s+issue\s*\(([^)]*)\)\s*:\s*(.+?)\s*\|\s*` + fixKeyword + `(.*)$`),
		category: 1, severity: 2, description: 3, fix: 4,
	},
	{
		name:     "category-severity-sentence",
		re:       regexp.MustCompile(`(?i)^(.+?)\s*\(([^)]*)\)\s*:\s*(.+?)\s*[.;|]?\s*` + fixKeyword + `(.*)$`),
		category: 1, severity: 2, description: 3, fix: 4,
	},
	{
		name:     "category-pipe",
		re:       regexp.MustCompile(`(?i)^([A-Za-z][\w &/-]{0,40}?)\s*:\s*(.+?)\s*[.;|]?\s*` + fixKeyword + `(.*)$`),
		category: 1, description: 2, fix: 3,
	},
	{
		name:        "bare-fix",
		re:          regexp.MustCompile(`(?i)^(.*?)\s*[.;|,]?\s*` + fixKeyword + `(.*)$`),
		description: 1, fix: 2,
	},
}

var (
	bulletRe  = regexp.MustCompile(`^\s*(?:[*\-]\s+|•\s*|\d+[.)]\s+)`)
	integerRe = regexp.MustCompile(`-?\d+`)
	cueRe     = regexp.MustCompile(`(?i)\b(?:shall|must|system|should|will)\b`)
)

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"Clarity", []string{"ambigu", "unclear", "vague", "clarity", "clarif", "undefined", "interpret"}},
	{"Testability", []string{"testab", "verif", "measur", "quantif", "test "}},
	{"Completeness", []string{"complete", "missing", "omit", "unspecified", "not specified"}},
	{"Atomicity", []string{"atomic", "compound", "multiple requirement", "split"}},
	{"Actionability", []string{"actionab", "action", "implement"}},
	{"Consistency", []string{"consisten", "conflict", "contradict"}},
}

// Minimum lengths used when looking for a rewritten requirement.
const (
	minImprovedLength     = 50
	minCuedImprovedLength = 20
)

// Options controls optional parsing steps.
type Options struct {
	// ExtractImproved enables improved-requirement extraction, used for
	// responses pasted from an external tool.
	ExtractImproved bool
	// Source is copied into the resulting record.
	Source string
}

// UnparsedLine is a candidate line that could not be interpreted.
type UnparsedLine struct {
	Section string `json:"section"`
	Line    string `json:"line"`
	Reason  string `json:"reason"`
}

func (u UnparsedLine) String() string {
	return fmt.Sprintf("%s: %q (%s)", u.Section, u.Line, u.Reason)
}

// Result is the outcome of a parse.
type Result struct {
	Record     *model.AnalysisRecord
	Unparsed   []UnparsedLine
	ScoreFound bool
}

type block struct {
	section section
	lines   []string
}

// Parse extracts an analysis record from text.
func Parse(text string, opts Options) Result {
	if obj := decodeJSONObject(text); obj != nil {
		if _, ok := obj["quality_score"]; ok {
			return parseJSON(obj, opts)
		}
	}

	blocks := scanSections(splitLines(text))

	rec := &model.AnalysisRecord{Source: opts.Source, Timestamp: time.Now().UTC()}
	var res Result

	for _, b := range blocks {
		switch b.section {
		case sectionScore:
			if res.ScoreFound {
				continue
			}
			if score, ok := extractScore(b.lines); ok {
				rec.QualityScore = score
				res.ScoreFound = true
			}
		case sectionIssues:
			for _, line := range b.lines {
				content, ok := bulletContent(line)
				if !ok {
					if text := strings.TrimSpace(line); text != "" && !bulletRe.MatchString(line) {
						res.Unparsed = append(res.Unparsed, UnparsedLine{
							Section: b.section.String(),
							Line:    text,
							Reason:  "not a bullet",
						})
					}
					continue
				}
				issue, reason := parseIssue(content)
				if issue == nil {
					res.Unparsed = append(res.Unparsed, UnparsedLine{
						Section: b.section.String(),
						Line:    strings.TrimSpace(line),
						Reason:  reason,
					})
					continue
				}
				rec.Issues = append(rec.Issues, *issue)
			}
		case sectionRecommendations:
			for _, line := range b.lines {
				content, ok := bulletContent(line)
				if !ok {
					continue
				}
				rec.Recommendations = append(rec.Recommendations, parseRecommendation(content))
			}
		case sectionOverall:
			if rec.FreeformFeedback != "" {
				continue
			}
			rec.FreeformFeedback = joinNonEmpty(b.lines)
		}
	}

	if opts.ExtractImproved {
		if improved := ExtractImproved(text); improved != "" {
			rec.ImprovedRequirement = &improved
		}
	}

	res.Record = finalize(rec, res, opts)
	return res
}

// finalize applies the analyzed/failed invariant.
func finalize(rec *model.AnalysisRecord, res Result, opts Options) *model.AnalysisRecord {
	extracted := res.ScoreFound || len(rec.Issues) > 0 || len(rec.Recommendations) > 0 ||
		rec.FreeformFeedback != "" || rec.ImprovedRequirement != nil
	if !extracted {
		return model.FailedRecord("response could not be interpreted", opts.Source)
	}
	rec.IsAnalyzed = true
	for _, u := range res.Unparsed {
		rec.Warnings = append(rec.Warnings, "unparsed "+u.String())
	}
	return rec
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// scanSections groups lines under the most recent header. Same-line text
// after the header's colon becomes the first line of the section.
func scanSections(lines []string) []block {
	var blocks []block
	current := block{section: sectionNone}
	for _, line := range lines {
		if sec, rest, ok := matchHeader(line); ok {
			blocks = append(blocks, current)
			current = block{section: sec}
			if rest != "" {
				current.lines = append(current.lines, rest)
			}
			continue
		}
		current.lines = append(current.lines, line)
	}
	return append(blocks, current)
}

func matchHeader(line string) (section, string, bool) {
	if bulletRe.MatchString(line) {
		return sectionNone, "", false
	}
	stripped := strings.TrimLeft(strings.TrimSpace(line), "#*_ \t")
	upper := strings.ToUpper(stripped)
	for _, h := range headers {
		if !strings.HasPrefix(upper, h.prefix) {
			continue
		}
		rest := ""
		if idx := strings.Index(stripped, ":"); idx >= 0 {
			rest = strings.Trim(stripped[idx+1:], "*_ \t")
		} else if h.section == sectionScore {
			// "Quality score - 8 out of 10"
			rest = strings.Trim(stripped[len(h.prefix):], "*_ \t")
		}
		return h.section, rest, true
	}
	return sectionNone, "", false
}

func isHeader(line string) bool {
	_, _, ok := matchHeader(line)
	return ok
}

func bulletContent(line string) (string, bool) {
	loc := bulletRe.FindStringIndex(line)
	if loc == nil {
		return "", false
	}
	content := strings.TrimSpace(strings.ReplaceAll(line[loc[1]:], "**", ""))
	return content, content != ""
}

func extractScore(lines []string) (int, bool) {
	for _, line := range lines {
		m := integerRe.FindString(line)
		if m == "" {
			continue
		}
		if m[0] == '-' {
			return 0, true
		}
		n := 0
		for _, r := range m {
			n = n*10 + int(r-'0')
			if n > 10 {
				return 10, true
			}
		}
		return n, true
	}
	return 0, false
}

// parseIssue returns the issue or the reason the line was rejected.
func parseIssue(content string) (*model.Issue, string) {
	matchedAny := false
	for _, tpl := range issueTemplates {
		m := tpl.re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		matchedAny = true
		fix := cleanField(m[tpl.fix])
		if fix == "" {
			continue
		}

		issue := &model.Issue{
			Description: cleanField(m[tpl.description]),
			Fix:         fix,
			Severity:    model.SeverityMedium,
		}
		if tpl.severity > 0 {
			issue.Severity = ParseSeverity(m[tpl.severity])
		}
		if tpl.category > 0 {
			issue.Category = titleCase(cleanField(m[tpl.category]))
		}
		if issue.Category == "" {
			issue.Category = InferCategory(issue.Description)
		}
		return issue, ""
	}
	if matchedAny {
		return nil, "empty fix"
	}
	return nil, "no fix clause"
}

func parseRecommendation(content string) model.Recommendation {
	fields := map[string]string{}
	for _, part := range strings.Split(content, "|") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.Join(strings.Fields(key), " "))
		fields[key] = cleanField(value)
	}

	category := fields["category"]
	description := fields["description"]
	if category == "" || description == "" {
		return model.Recommendation{
			Category:      "General",
			Description:   content,
			LowConfidence: true,
		}
	}

	edit := fields["suggested edit"]
	if edit == "" {
		edit = fields["suggested_edit"]
	}
	return model.Recommendation{
		Category:      titleCase(category),
		Description:   description,
		Rationale:     fields["rationale"],
		SuggestedEdit: edit,
	}
}

// ParseSeverity maps free-form priority text onto a Severity.
func ParseSeverity(text string) model.Severity {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "critical", "high", "major", "severe"):
		return model.SeverityHigh
	case containsAny(lower, "low", "minor", "trivial"):
		return model.SeverityLow
	default:
		return model.SeverityMedium
	}
}

// InferCategory picks a quality category from keywords in a description.
func InferCategory(description string) string {
	lower := strings.ToLower(description) + " "
	for _, ck := range categoryKeywords {
		if containsAny(lower, ck.words...) {
			return ck.category
		}
	}
	return "General"
}

// ExtractImproved finds a rewritten requirement in an external response.
// It returns "" when nothing plausible is present.
func ExtractImproved(text string) string {
	lines := splitLines(text)
	for i, line := range lines {
		upper := strings.ToUpper(line)
		if !strings.Contains(upper, "IMPROVED") || !strings.Contains(upper, "REQUIREMENT") {
			continue
		}

		if _, after, ok := strings.Cut(line, ":"); ok {
			if same := cleanImproved(after); runeLen(same) >= minImprovedLength {
				return same
			}
		}

		for _, next := range lines[i+1:] {
			if isHeader(next) {
				break
			}
			cand := cleanImproved(next)
			n := runeLen(cand)
			if n >= minImprovedLength || (n >= minCuedImprovedLength && cueRe.MatchString(cand)) {
				return cand
			}
		}
	}
	return ""
}

func cleanImproved(s string) string {
	s = strings.TrimSpace(s)
	if loc := bulletRe.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}
	s = strings.ReplaceAll(s, "**", "")
	return strings.Trim(strings.TrimSpace(s), "\"'“”`")
}

func cleanField(s string) string {
	return strings.Trim(strings.TrimSpace(s), "*_` ")
}

func joinNonEmpty(lines []string) string {
	var parts []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return len([]rune(s))
}
