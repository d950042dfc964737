package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/reqlens/internal/cache"
	"github.com/TobiSchelling/reqlens/internal/model"
)

// SaveCacheEntry persists a cache entry, replacing any previous one.
func (db *DB) SaveCacheEntry(e cache.Entry) error {
	data, err := json.Marshal(e.Record)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO cache_entries (fingerprint, record, created_at) VALUES (?, ?, ?)",
		e.Fingerprint, string(data), e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// DeleteCacheEntry removes one persisted entry.
func (db *DB) DeleteCacheEntry(fingerprint string) error {
	_, err := db.conn.Exec("DELETE FROM cache_entries WHERE fingerprint = ?", fingerprint)
	return err
}

// ClearCacheEntries removes every persisted entry.
func (db *DB) ClearCacheEntries() error {
	_, err := db.conn.Exec("DELETE FROM cache_entries")
	return err
}

// LoadCacheEntries returns entries created at or after since. A zero since
// returns everything. Undecodable rows are skipped.
func (db *DB) LoadCacheEntries(since time.Time) ([]cache.Entry, error) {
	rows, err := db.conn.Query(
		"SELECT fingerprint, record, created_at FROM cache_entries WHERE created_at >= ? ORDER BY created_at",
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cache.Entry
	for rows.Next() {
		var fp, data, created string
		if err := rows.Scan(&fp, &data, &created); err != nil {
			return nil, err
		}
		var rec model.AnalysisRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			logrus.Warnf("Skipping corrupt cache entry %s: %v", fp, err)
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, created)
		out = append(out, cache.Entry{Fingerprint: fp, Record: &rec, CreatedAt: createdAt})
	}
	return out, rows.Err()
}

// PruneCacheEntries deletes entries created before the cutoff.
func (db *DB) PruneCacheEntries(before time.Time) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM cache_entries WHERE created_at < ?", before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
