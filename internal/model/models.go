package model

import (
	"strings"
	"time"
)

// Severity ranks how much an issue hurts a requirement.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Table is a supplemental table attached to a requirement.
type Table struct {
	Title string     `json:"title,omitempty" yaml:"title,omitempty"`
	Rows  [][]string `json:"rows" yaml:"rows"`
}

// Requirement is a single imported engineering requirement.
type Requirement struct {
	ID          string          `json:"id" yaml:"id"`
	ItemCode    string          `json:"item_code,omitempty" yaml:"item_code,omitempty"`
	Description string          `json:"description" yaml:"description"`
	Tables      []Table         `json:"tables,omitempty" yaml:"tables,omitempty"`
	Paragraphs  []string        `json:"paragraphs,omitempty" yaml:"paragraphs,omitempty"`
	Analysis    *AnalysisRecord `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

// AnalyzableText returns the text an analysis is computed from: the
// description followed by paragraphs and tables, one block per line.
func (r *Requirement) AnalyzableText() string {
	parts := []string{r.Description}
	parts = append(parts, r.Paragraphs...)
	for _, t := range r.Tables {
		if t.Title != "" {
			parts = append(parts, t.Title)
		}
		for _, row := range t.Rows {
			parts = append(parts, strings.Join(row, " | "))
		}
	}
	return strings.Join(parts, "\n")
}

// Label returns the item code when present, otherwise the ID.
func (r *Requirement) Label() string {
	if r.ItemCode != "" {
		return r.ItemCode
	}
	return r.ID
}

// Issue is a single quality problem. Fix is never empty.
type Issue struct {
	Category    string   `json:"category" yaml:"category"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description" yaml:"description"`
	Fix         string   `json:"fix" yaml:"fix"`
}

// Recommendation is advisory feedback attached to an analysis.
type Recommendation struct {
	Category      string `json:"category" yaml:"category"`
	Description   string `json:"description" yaml:"description"`
	Rationale     string `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	SuggestedEdit string `json:"suggested_edit,omitempty" yaml:"suggested_edit,omitempty"`
	LowConfidence bool   `json:"low_confidence,omitempty" yaml:"low_confidence,omitempty"`
}

// AnalysisRecord is the structured result of analyzing one requirement.
//
// When IsAnalyzed is false only ErrorMessage, Source and Timestamp carry
// data. Use FailedRecord to build such a record.
type AnalysisRecord struct {
	IsAnalyzed          bool             `json:"is_analyzed" yaml:"is_analyzed"`
	QualityScore        int              `json:"quality_score" yaml:"quality_score"`
	Issues              []Issue          `json:"issues,omitempty" yaml:"issues,omitempty"`
	Recommendations     []Recommendation `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
	FreeformFeedback    string           `json:"freeform_feedback,omitempty" yaml:"freeform_feedback,omitempty"`
	ImprovedRequirement *string          `json:"improved_requirement,omitempty" yaml:"improved_requirement,omitempty"`
	ErrorMessage        *string          `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Warnings            []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Source              string           `json:"source,omitempty" yaml:"source,omitempty"`
	Timestamp           time.Time        `json:"timestamp" yaml:"timestamp"`
}

// FailedRecord returns a record describing an analysis attempt that
// produced no usable result.
func FailedRecord(msg, source string) *AnalysisRecord {
	return &AnalysisRecord{
		ErrorMessage: &msg,
		Source:       source,
		Timestamp:    time.Now().UTC(),
	}
}

// Failed reports whether the record carries an error instead of an analysis.
func (a *AnalysisRecord) Failed() bool {
	return a != nil && !a.IsAnalyzed
}

// Error returns the error message or an empty string.
func (a *AnalysisRecord) Error() string {
	if a == nil || a.ErrorMessage == nil {
		return ""
	}
	return *a.ErrorMessage
}

// Improved returns the improved requirement text or an empty string.
func (a *AnalysisRecord) Improved() string {
	if a == nil || a.ImprovedRequirement == nil {
		return ""
	}
	return *a.ImprovedRequirement
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing slices.
func (a *AnalysisRecord) Clone() *AnalysisRecord {
	if a == nil {
		return nil
	}
	c := *a
	c.Issues = append([]Issue(nil), a.Issues...)
	c.Recommendations = append([]Recommendation(nil), a.Recommendations...)
	c.Warnings = append([]string(nil), a.Warnings...)
	if a.ImprovedRequirement != nil {
		s := *a.ImprovedRequirement
		c.ImprovedRequirement = &s
	}
	if a.ErrorMessage != nil {
		s := *a.ErrorMessage
		c.ErrorMessage = &s
	}
	return &c
}

// IssueCounts returns the number of issues per severity.
func (a *AnalysisRecord) IssueCounts() map[Severity]int {
	counts := map[Severity]int{}
	if a == nil {
		return counts
	}
	for _, issue := range a.Issues {
		counts[issue.Severity]++
	}
	return counts
}
