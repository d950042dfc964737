package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateNewDB(t *testing.T) {
	db := openTestDB(t)

	version, err := getSchemaVersion(db.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigrateLegacyDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// Simulate a pre-migration database: create tables without setting user_version.
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	_, err = raw.Exec(`CREATE TABLE requirements (
		id TEXT PRIMARY KEY,
		item_code TEXT,
		description TEXT NOT NULL,
		paragraphs TEXT,
		tables TEXT,
		position INTEGER NOT NULL DEFAULT 0,
		imported_at TEXT DEFAULT (datetime('now')),
		updated_at TEXT DEFAULT (datetime('now'))
	);
	CREATE TABLE analyses (
		requirement_id TEXT PRIMARY KEY REFERENCES requirements(id) ON DELETE CASCADE,
		is_analyzed INTEGER NOT NULL DEFAULT 0,
		quality_score INTEGER DEFAULT 0,
		source TEXT,
		record TEXT NOT NULL,
		analyzed_at TEXT DEFAULT (datetime('now'))
	)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	raw.Close()

	// Now open via the migration system.
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	version, err := getSchemaVersion(db.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d after legacy migration, got %d", latestVersion(), version)
	}

	// Migration 2 must still have run on the stamped database.
	if err := db.ClearCacheEntries(); err != nil {
		t.Errorf("expected cache_entries table after legacy migration: %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idem.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	version, err := getSchemaVersion(db2.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestGetSchemaVersionNewDB(t *testing.T) {
	conn := openRaw(t, "empty.db")

	version, err := getSchemaVersion(conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 on new db, got %d", version)
	}
}

func TestIsLegacyDBFalseOnNew(t *testing.T) {
	conn := openRaw(t, "fresh.db")

	legacy, err := isLegacyDB(conn)
	if err != nil {
		t.Fatalf("isLegacyDB: %v", err)
	}
	if legacy {
		t.Error("expected isLegacyDB=false on empty database")
	}
}

func TestDetectVersionStopsAtFirstMissingTable(t *testing.T) {
	conn := openRaw(t, "partial.db")

	// cache_entries exists but requirements does not, so nothing counts.
	if _, err := conn.Exec("CREATE TABLE cache_entries (fingerprint TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if v, err := detectVersion(conn); err != nil || v != 0 {
		t.Errorf("expected version 0, got %d (%v)", v, err)
	}

	if _, err := conn.Exec("CREATE TABLE requirements (id TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if v, err := detectVersion(conn); err != nil || v != 2 {
		t.Errorf("expected version 2, got %d (%v)", v, err)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "future.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := setSchemaVersion(conn, latestVersion()+1); err != nil {
		t.Fatalf("setSchemaVersion: %v", err)
	}
	conn.Close()

	if _, err := Open(dbPath); !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("expected ErrSchemaTooNew, got %v", err)
	}
}

func openRaw(t *testing.T, name string) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
