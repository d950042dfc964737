package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TobiSchelling/reqlens/internal/model"
)

// SaveRequirement inserts or updates a requirement. New requirements are
// appended after the existing ones; updates keep their position.
func (db *DB) SaveRequirement(req *model.Requirement) error {
	paragraphs, err := json.Marshal(req.Paragraphs)
	if err != nil {
		return fmt.Errorf("encoding paragraphs: %w", err)
	}
	tables, err := json.Marshal(req.Tables)
	if err != nil {
		return fmt.Errorf("encoding tables: %w", err)
	}

	_, err = db.conn.Exec(
		`INSERT INTO requirements (id, item_code, description, paragraphs, tables, position)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM requirements))
		ON CONFLICT(id) DO UPDATE SET
			item_code = excluded.item_code,
			description = excluded.description,
			paragraphs = excluded.paragraphs,
			tables = excluded.tables,
			updated_at = datetime('now')`,
		req.ID, req.ItemCode, req.Description, string(paragraphs), string(tables),
	)
	if err != nil {
		return fmt.Errorf("saving requirement %s: %w", req.ID, err)
	}
	return nil
}

// ListRequirements returns all requirements in import order, each with its
// latest analysis attached.
func (db *DB) ListRequirements() ([]*model.Requirement, error) {
	rows, err := db.conn.Query(
		`SELECT r.id, r.item_code, r.description, r.paragraphs, r.tables, a.record
		FROM requirements r LEFT JOIN analyses a ON a.requirement_id = r.id
		ORDER BY r.position, r.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*model.Requirement
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// GetRequirement returns a requirement by ID, or nil if not found.
func (db *DB) GetRequirement(id string) (*model.Requirement, error) {
	row := db.conn.QueryRow(
		`SELECT r.id, r.item_code, r.description, r.paragraphs, r.tables, a.record
		FROM requirements r LEFT JOIN analyses a ON a.requirement_id = r.id
		WHERE r.id = ?`, id,
	)
	req, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

// DeleteRequirement removes a requirement together with its analyses.
func (db *DB) DeleteRequirement(id string) error {
	_, err := db.conn.Exec("DELETE FROM requirements WHERE id = ?", id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequirement(s scanner) (*model.Requirement, error) {
	var (
		req                     model.Requirement
		itemCode, paras, tables sql.NullString
		record                  sql.NullString
	)
	if err := s.Scan(&req.ID, &itemCode, &req.Description, &paras, &tables, &record); err != nil {
		return nil, err
	}
	req.ItemCode = itemCode.String
	if paras.Valid && paras.String != "" {
		if err := json.Unmarshal([]byte(paras.String), &req.Paragraphs); err != nil {
			return nil, fmt.Errorf("decoding paragraphs of %s: %w", req.ID, err)
		}
	}
	if tables.Valid && tables.String != "" {
		if err := json.Unmarshal([]byte(tables.String), &req.Tables); err != nil {
			return nil, fmt.Errorf("decoding tables of %s: %w", req.ID, err)
		}
	}
	if record.Valid && record.String != "" {
		var rec model.AnalysisRecord
		if err := json.Unmarshal([]byte(record.String), &rec); err != nil {
			return nil, fmt.Errorf("decoding analysis of %s: %w", req.ID, err)
		}
		req.Analysis = &rec
	}
	return &req, nil
}
