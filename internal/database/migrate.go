package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrSchemaTooNew is returned when the database was written by a newer
// build with migrations this build does not know.
var ErrSchemaTooNew = errors.New("database schema is newer than this build")

func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(conn *sql.DB, version int) error {
	// PRAGMA does not take bind parameters.
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("setting schema version %d: %w", version, err)
	}
	return nil
}

func tableExists(conn *sql.DB, name string) (bool, error) {
	var n int
	err := conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("looking up table %s: %w", name, err)
	}
	return n > 0, nil
}

// detectVersion infers the version of a database that has tables but no
// recorded version: the last step whose marker table exists, counting only
// an unbroken run from version 1.
func detectVersion(conn *sql.DB) (int, error) {
	version := 0
	for _, step := range migrations {
		ok, err := tableExists(conn, step.marker)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		version = step.version
	}
	return version, nil
}

// isLegacyDB reports whether tables exist although no version was recorded.
func isLegacyDB(conn *sql.DB) (bool, error) {
	v, err := detectVersion(conn)
	return v > 0, err
}

// migrate applies every step above the database's version. Each step runs
// in its own transaction; the version is recorded after the commit because
// the driver does not allow PRAGMA user_version inside a transaction. Steps
// use IF NOT EXISTS so a step interrupted before the version was recorded
// can run again.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}

	latest := latestVersion()
	if current > latest {
		return fmt.Errorf("%w: version %d, supported up to %d", ErrSchemaTooNew, current, latest)
	}

	if current == 0 {
		detected, err := detectVersion(conn)
		if err != nil {
			return err
		}
		if detected > 0 {
			logrus.WithField("version", detected).Info("Unversioned database found, recording detected schema version")
			if err := setSchemaVersion(conn, detected); err != nil {
				return err
			}
			current = detected
		}
	}

	for _, step := range migrations[current:] {
		log := logrus.WithFields(logrus.Fields{"version": step.version, "step": step.desc})
		log.Info("Applying schema migration")

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", step.version, err)
		}
		if err := step.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", step.version, step.desc, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", step.version, err)
		}

		if err := setSchemaVersion(conn, step.version); err != nil {
			return err
		}
	}
	return nil
}
