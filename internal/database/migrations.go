package database

import "database/sql"

// schemaStep is one versioned change to the schema. marker names a table
// the step creates; it identifies databases that have the step applied but
// no recorded version.
type schemaStep struct {
	version int
	desc    string
	marker  string
	apply   func(tx *sql.Tx) error
}

// migrations must stay ordered by version, starting at 1 without gaps.
var migrations = []schemaStep{
	{
		version: 1,
		desc:    "requirements and analyses",
		marker:  "requirements",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS requirements (
    id TEXT PRIMARY KEY,
    item_code TEXT,
    description TEXT NOT NULL,
    paragraphs TEXT,
    tables TEXT,
    position INTEGER NOT NULL DEFAULT 0,
    imported_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analyses (
    requirement_id TEXT PRIMARY KEY REFERENCES requirements(id) ON DELETE CASCADE,
    is_analyzed INTEGER NOT NULL DEFAULT 0,
    quality_score INTEGER DEFAULT 0,
    source TEXT,
    record TEXT NOT NULL,
    analyzed_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_requirements_position ON requirements(position);
CREATE INDEX IF NOT EXISTS idx_requirements_item_code ON requirements(item_code);
`)
			return err
		},
	},
	{
		version: 2,
		desc:    "persisted cache and analysis history",
		marker:  "cache_entries",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS cache_entries (
    fingerprint TEXT PRIMARY KEY,
    record TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    requirement_id TEXT NOT NULL REFERENCES requirements(id) ON DELETE CASCADE,
    is_analyzed INTEGER NOT NULL DEFAULT 0,
    quality_score INTEGER DEFAULT 0,
    issue_count INTEGER DEFAULT 0,
    source TEXT,
    error_message TEXT,
    analyzed_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_created ON cache_entries(created_at);
CREATE INDEX IF NOT EXISTS idx_analysis_history_requirement ON analysis_history(requirement_id);
`)
			return err
		},
	},
	{
		version: 3,
		desc:    "project state",
		marker:  "project_state",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS project_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT DEFAULT (datetime('now'))
);
`)
			return err
		},
	},
}

// latestVersion returns the version a fully migrated database has.
func latestVersion() int {
	return len(migrations)
}
