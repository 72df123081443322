// Package journal keeps a local SQLite history of input source switches
// and settings revisions.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Switch results.
const (
	ResultSwitched = "switched"
	ResultExcluded = "excluded"
	ResultFailed   = "failed"
)

// Revision origins.
const (
	OriginUpdate = "update"
	OriginReload = "reload"
)

// Switch is one trigger handled by the dispatcher.
type Switch struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	KeyCode  uint16    `json:"key_code"`
	InputKey string    `json:"input_key"`
	Source   string    `json:"source"`
	App      string    `json:"app,omitempty"`
	Result   string    `json:"result"`
	Error    string    `json:"error,omitempty"`
}

// Revision is a settings document that became current.
type Revision struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Origin   string    `json:"origin"`
	Document string    `json:"document"`
}

// Store is the journal database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer; the runtime and cmdimectl may share the file.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Ping checks that the database still answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RecordSwitch stores sw, filling in ID and At when empty.
func (s *Store) RecordSwitch(ctx context.Context, sw Switch) (Switch, error) {
	if sw.ID == "" {
		sw.ID = newID()
	}
	if sw.At.IsZero() {
		sw.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO switches (id, at_ns, key_code, input_key, source, app, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.At.UnixNano(), int(sw.KeyCode), sw.InputKey, sw.Source,
		nullString(sw.App), sw.Result, nullString(sw.Error),
	)
	if err != nil {
		return sw, fmt.Errorf("insert switch: %w", err)
	}
	return sw, nil
}

// RecordRevision stores rev, filling in ID and At when empty.
func (s *Store) RecordRevision(ctx context.Context, rev Revision) (Revision, error) {
	if rev.ID == "" {
		rev.ID = newID()
	}
	if rev.At.IsZero() {
		rev.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revisions (id, at_ns, origin, document)
		VALUES (?, ?, ?, ?)`,
		rev.ID, rev.At.UnixNano(), rev.Origin, rev.Document,
	)
	if err != nil {
		return rev, fmt.Errorf("insert revision: %w", err)
	}
	return rev, nil
}

// Switches returns up to limit switches, newest first. A limit of zero or
// less returns all of them.
func (s *Store) Switches(ctx context.Context, limit int) ([]Switch, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at_ns, key_code, input_key, source, app, result, error
		FROM switches ORDER BY at_ns DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query switches: %w", err)
	}
	defer rows.Close()

	var out []Switch
	for rows.Next() {
		var (
			sw       Switch
			atNs     int64
			keyCode  int
			app, msg sql.NullString
		)
		if err := rows.Scan(&sw.ID, &atNs, &keyCode, &sw.InputKey, &sw.Source, &app, &sw.Result, &msg); err != nil {
			return nil, fmt.Errorf("scan switch: %w", err)
		}
		sw.At = time.Unix(0, atNs)
		sw.KeyCode = uint16(keyCode)
		sw.App = app.String
		sw.Error = msg.String
		out = append(out, sw)
	}
	return out, rows.Err()
}

// Revisions returns up to limit revisions, newest first.
func (s *Store) Revisions(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at_ns, origin, document
		FROM revisions ORDER BY at_ns DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var (
			rev  Revision
			atNs int64
		)
		if err := rows.Scan(&rev.ID, &atNs, &rev.Origin, &rev.Document); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		rev.At = time.Unix(0, atNs)
		out = append(out, rev)
	}
	return out, rows.Err()
}

// Prune deletes entries older than before and returns how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"switches", "revisions"} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE at_ns < ?", before.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return total, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
