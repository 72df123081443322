package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one forward schema step.
type Migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Switch events",
		Up: `
CREATE TABLE IF NOT EXISTS switches (
    id          TEXT PRIMARY KEY,
    at_ns       INTEGER NOT NULL,
    key_code    INTEGER NOT NULL,
    input_key   TEXT NOT NULL,
    source      TEXT NOT NULL,
    app         TEXT,
    result      TEXT NOT NULL,
    error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_switches_at ON switches(at_ns);
`,
	},
	{
		Version:     2,
		Description: "Settings revisions",
		Up: `
CREATE TABLE IF NOT EXISTS revisions (
    id          TEXT PRIMARY KEY,
    at_ns       INTEGER NOT NULL,
    origin      TEXT NOT NULL,
    document    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revisions_at ON revisions(at_ns);
`,
	},
}

// migrate applies pending migrations in order.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}
