package database

import (
	"database/sql"
	"errors"
)

// GetState returns a stored project setting, or "" if unset.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM project_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetState stores a project setting. An empty value removes it.
func (db *DB) SetState(key, value string) error {
	if value == "" {
		_, err := db.conn.Exec("DELETE FROM project_state WHERE key = ?", key)
		return err
	}
	_, err := db.conn.Exec(
		`INSERT INTO project_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value,
	)
	return err
}
