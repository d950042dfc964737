package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/TobiSchelling/reqlens/internal/cache"
	"github.com/TobiSchelling/reqlens/internal/health"
	"github.com/TobiSchelling/reqlens/internal/model"
	"github.com/TobiSchelling/reqlens/internal/parser"
)

// PrintList writes one line per requirement with its score.
func PrintList(w io.Writer, reqs []*model.Requirement, selected *model.Requirement) {
	if len(reqs) == 0 {
		fmt.Fprintln(w, "No requirements imported. Run 'reqlens import <file>' first.")
		return
	}
	for _, r := range reqs {
		marker := " "
		if selected != nil && selected.ID == r.ID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-14s %s  %s\n", marker, r.Label(), scoreBadge(r.Analysis), truncate(r.Description, 70))
	}
}

func scoreBadge(rec *model.AnalysisRecord) string {
	switch {
	case rec == nil:
		return color.HiBlackString("  -  ")
	case rec.Failed():
		return color.RedString(" err ")
	}
	return scoreColor(rec.QualityScore).Sprintf("%2d/10", rec.QualityScore)
}

func scoreColor(score int) *color.Color {
	switch {
	case score >= 8:
		return color.New(color.FgGreen, color.Bold)
	case score >= 5:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func severityColor(sev model.Severity) *color.Color {
	switch sev {
	case model.SeverityHigh:
		return color.New(color.FgRed, color.Bold)
	case model.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

// PrintRequirement writes a requirement and its analysis.
func PrintRequirement(w io.Writer, r *model.Requirement) {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(w, "%s\n", r.Label())
	if r.ItemCode != "" && r.ItemCode != r.ID {
		fmt.Fprintf(w, "%s\n", color.HiBlackString("id: "+r.ID))
	}
	fmt.Fprintf(w, "\n%s\n", wrap(r.Description, 80, "  "))
	for _, p := range r.Paragraphs {
		fmt.Fprintf(w, "\n%s\n", wrap(p, 80, "  "))
	}
	for _, t := range r.Tables {
		if t.Title != "" {
			fmt.Fprintf(w, "\n  %s\n", color.New(color.Bold).Sprint(t.Title))
		}
		for _, row := range t.Rows {
			fmt.Fprintf(w, "    %s\n", strings.Join(row, " | "))
		}
	}
	fmt.Fprintln(w)
	PrintAnalysis(w, r.Analysis)
}

// PrintAnalysis writes an analysis record.
func PrintAnalysis(w io.Writer, rec *model.AnalysisRecord) {
	if rec == nil {
		fmt.Fprintln(w, color.HiBlackString("Not analyzed yet."))
		return
	}
	if rec.Failed() {
		color.New(color.FgRed, color.Bold).Fprintf(w, "Analysis failed: %s\n", rec.Error())
		return
	}

	scoreColor(rec.QualityScore).Fprintf(w, "QUALITY SCORE: %d/10", rec.QualityScore)
	if rec.Source != "" {
		fmt.Fprintf(w, " %s", color.HiBlackString("(%s)", rec.Source))
	}
	fmt.Fprintln(w)

	if len(rec.Issues) > 0 {
		color.New(color.FgYellow, color.Bold).Fprintln(w, "\nISSUES FOUND:")
		for i, is := range rec.Issues {
			fmt.Fprintf(w, "  %d. %s %s\n", i+1, severityColor(is.Severity).Sprintf("[%s]", is.Severity), is.Category)
			fmt.Fprintf(w, "%s\n", wrap(is.Description, 80, "     "))
			fmt.Fprintf(w, "     Fix: %s\n", color.GreenString(is.Fix))
		}
	}

	if len(rec.Recommendations) > 0 {
		color.New(color.FgCyan, color.Bold).Fprintln(w, "\nRECOMMENDATIONS:")
		for i, rc := range rec.Recommendations {
			fmt.Fprintf(w, "  %d. %s: %s\n", i+1, rc.Category, rc.Description)
			if rc.Rationale != "" {
				fmt.Fprintf(w, "     Why: %s\n", rc.Rationale)
			}
			if rc.SuggestedEdit != "" {
				fmt.Fprintf(w, "     Edit: %s\n", color.CyanString(rc.SuggestedEdit))
			}
		}
	}

	if rec.FreeformFeedback != "" {
		color.New(color.FgWhite, color.Bold).Fprintln(w, "\nOVERALL ASSESSMENT:")
		fmt.Fprintln(w, wrap(rec.FreeformFeedback, 80, "  "))
	}
	if improved := rec.Improved(); improved != "" {
		color.New(color.FgGreen, color.Bold).Fprintln(w, "\nIMPROVED REQUIREMENT:")
		fmt.Fprintln(w, wrap(improved, 80, "  "))
	}
	if len(rec.Warnings) > 0 {
		fmt.Fprintf(w, "\n%s\n", color.YellowString("%d line(s) could not be parsed:", len(rec.Warnings)))
		for _, wn := range rec.Warnings {
			fmt.Fprintf(w, "  %s\n", color.HiBlackString(wn))
		}
	}
}

// PrintUnparsed lists lines the parser skipped.
func PrintUnparsed(w io.Writer, lines []parser.UnparsedLine) {
	if len(lines) == 0 {
		return
	}
	color.New(color.FgYellow).Fprintf(w, "%d line(s) could not be parsed:\n", len(lines))
	for _, l := range lines {
		fmt.Fprintf(w, "  %s\n", l.String())
	}
}

// PrintCacheStats writes cache statistics.
func PrintCacheStats(w io.Writer, s cache.Stats) {
	color.New(color.FgCyan, color.Bold).Fprintln(w, "Analysis cache")
	fmt.Fprintf(w, "  Entries:        %d\n", s.Entries)
	fmt.Fprintf(w, "  Requests:       %d\n", s.TotalRequests)
	fmt.Fprintf(w, "  Hits:           %d\n", s.CacheHits)
	fmt.Fprintf(w, "  Misses:         %d\n", s.Misses)
	fmt.Fprintf(w, "  Hit rate:       %.1f%%\n", s.HitRate*100)
	fmt.Fprintf(w, "  Time saved:     %s\n", s.TotalTimeSaved)
	fmt.Fprintf(w, "  Invalidations:  %d\n", s.Invalidations)
	fmt.Fprintf(w, "  Clears:         %d\n", s.Clears)
}

// PrintHealth writes a health report.
func PrintHealth(w io.Writer, r health.Report) {
	var c *color.Color
	switch r.Status {
	case health.StatusHealthy:
		c = color.New(color.FgGreen, color.Bold)
	case health.StatusDegraded:
		c = color.New(color.FgYellow, color.Bold)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	fmt.Fprintf(w, "Backend %s: %s\n", r.ServiceType, c.Sprint(strings.ToUpper(string(r.Status))))
	fmt.Fprintf(w, "  Samples:        %d (%d failed)\n", r.Samples, r.Failures)
	if r.MedianLatency > 0 {
		fmt.Fprintf(w, "  Median latency: %s\n", r.MedianLatency)
	}
	if r.LastError != "" {
		fmt.Fprintf(w, "  Last error:     %s\n", color.RedString(r.LastError))
	}
}

// PrintSummary writes aggregate counts.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintf(w, "Requirements: %d  analyzed: %d  failed: %d  pending: %d",
		s.Total, s.Analyzed, s.Failed, s.Pending)
	if s.Analyzed > 0 {
		fmt.Fprintf(w, "  average score: %.1f", s.AverageScore)
	}
	fmt.Fprintln(w)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func wrap(text string, width int, indent string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		words := strings.Fields(line)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		cur := indent
		for _, word := range words {
			switch {
			case cur == indent:
				cur += word
			case len(cur)+len(word)+1 > width:
				out = append(out, cur)
				cur = indent + word
			default:
				cur += " " + word
			}
		}
		out = append(out, cur)
	}
	return strings.Join(out, "\n")
}
