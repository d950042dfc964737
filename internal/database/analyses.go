package database

import (
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/reqlens/internal/model"
)

// HistoryEntry is one past analysis of a requirement.
type HistoryEntry struct {
	ID            int64
	RequirementID string
	IsAnalyzed    bool
	QualityScore  int
	IssueCount    int
	Source        *string
	ErrorMessage  *string
	AnalyzedAt    *string
}

// SaveAnalysis replaces the current analysis of a requirement and appends
// it to the history.
func (db *DB) SaveAnalysis(requirementID string, rec *model.AnalysisRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO analyses (requirement_id, is_analyzed, quality_score, source, record, analyzed_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		requirementID, boolToInt(rec.IsAnalyzed), rec.QualityScore, rec.Source, string(data),
	)
	if err != nil {
		return fmt.Errorf("saving analysis of %s: %w", requirementID, err)
	}

	_, err = tx.Exec(
		`INSERT INTO analysis_history (requirement_id, is_analyzed, quality_score, issue_count, source, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		requirementID, boolToInt(rec.IsAnalyzed), rec.QualityScore, len(rec.Issues), rec.Source, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("recording history of %s: %w", requirementID, err)
	}

	return tx.Commit()
}

// GetAnalysisHistory returns past analyses of a requirement, newest first.
func (db *DB) GetAnalysisHistory(requirementID string) ([]HistoryEntry, error) {
	rows, err := db.conn.Query(
		`SELECT id, requirement_id, is_analyzed, quality_score, issue_count, source, error_message, analyzed_at
		FROM analysis_history WHERE requirement_id = ? ORDER BY id DESC`, requirementID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var analyzed int
		if err := rows.Scan(&h.ID, &h.RequirementID, &analyzed, &h.QualityScore, &h.IssueCount,
			&h.Source, &h.ErrorMessage, &h.AnalyzedAt); err != nil {
			return nil, err
		}
		h.IsAnalyzed = analyzed == 1
		out = append(out, h)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DeleteAnalysis removes the current analysis of a requirement. History is kept.
func (db *DB) DeleteAnalysis(requirementID string) error {
	_, err := db.conn.Exec("DELETE FROM analyses WHERE requirement_id = ?", requirementID)
	return err
}
