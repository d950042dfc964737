package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/reqlens/internal/model"
)

// decodeJSONObject decodes a JSON object, handling markdown code fences.
// It returns nil for anything that is not a JSON object.
func decodeJSONObject(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines) - 1
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		if endIdx < 1 {
			return nil
		}
		text = strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
	}

	if !strings.HasPrefix(text, "{") {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil
	}
	return result
}

// parseJSON maps a structured response onto a record using the same
// invariants as the text path: issues without a fix are rejected.
func parseJSON(obj map[string]any, opts Options) Result {
	rec := &model.AnalysisRecord{Source: opts.Source, Timestamp: time.Now().UTC()}
	var res Result

	if score, ok := obj["quality_score"].(float64); ok {
		rec.QualityScore = clampScore(int(score))
		res.ScoreFound = true
	}

	if items, ok := obj["issues"].([]any); ok {
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				res.Unparsed = append(res.Unparsed, UnparsedLine{
					Section: sectionIssues.String(),
					Line:    fmt.Sprint(item),
					Reason:  "not an object",
				})
				continue
			}
			fix := getString(m, "fix")
			desc := getString(m, "description")
			if fix == "" {
				res.Unparsed = append(res.Unparsed, UnparsedLine{
					Section: sectionIssues.String(),
					Line:    desc,
					Reason:  "no fix clause",
				})
				continue
			}
			issue := model.Issue{
				Category:    titleCase(getString(m, "category")),
				Severity:    ParseSeverity(getString(m, "severity")),
				Description: desc,
				Fix:         fix,
			}
			if issue.Category == "" {
				issue.Category = InferCategory(desc)
			}
			rec.Issues = append(rec.Issues, issue)
		}
	}

	if items, ok := obj["recommendations"].([]any); ok {
		for _, item := range items {
			switch v := item.(type) {
			case string:
				rec.Recommendations = append(rec.Recommendations, parseRecommendation(v))
			case map[string]any:
				r := model.Recommendation{
					Category:      titleCase(getString(v, "category")),
					Description:   getString(v, "description"),
					Rationale:     getString(v, "rationale"),
					SuggestedEdit: getString(v, "suggested_edit"),
				}
				if r.Category == "" {
					r.Category = "General"
					r.LowConfidence = true
				}
				if r.Description != "" {
					rec.Recommendations = append(rec.Recommendations, r)
				}
			}
		}
	}

	rec.FreeformFeedback = getString(obj, "overall_assessment")

	if opts.ExtractImproved {
		if improved := getString(obj, "improved_requirement"); improved != "" {
			rec.ImprovedRequirement = &improved
		}
	}

	res.Record = finalize(rec, res, opts)
	return res
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}
