// Package ledger records which input objects have been processed, so
// scheduled prefix scans and redelivered events skip finished work.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Status values stored per entry.
const (
	StatusSuccess = "success"
	StatusEmpty   = "empty" // decoded fine but produced no rows
	StatusFailed  = "failed"
)

// Entry is one processed (object, table) pair. Object-level outcomes such
// as decode failures or empty objects leave Table blank.
type Entry struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	ObjectKey    string    `json:"object_key"`
	LastModified time.Time `json:"last_modified"`
	Table        string    `json:"table,omitempty"`
	Rows         int       `json:"rows"`
	Output       string    `json:"output,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Ledger is a SQLite-backed processed-object log.
type Ledger struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Open opens (creating if needed) the ledger database at dbPath. Use
// ":memory:" for an ephemeral ledger.
func Open(dbPath string, logger zerolog.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db, logger: logger.With().Str("component", "ledger").Logger()}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS processed_objects (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		object_key TEXT NOT NULL,
		last_modified TEXT NOT NULL,
		table_name TEXT NOT NULL DEFAULT '',
		rows INTEGER NOT NULL DEFAULT 0,
		output TEXT,
		status TEXT NOT NULL,
		error_message TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_processed_objects_key ON processed_objects(object_key, last_modified);
	CREATE INDEX IF NOT EXISTS idx_processed_objects_run ON processed_objects(run_id);
	`)
	return err
}

// Record stores e, assigning an ID when it has none.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_objects
			(id, run_id, object_key, last_modified, table_name, rows, output, status, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.ObjectKey, formatTime(e.LastModified), e.Table, e.Rows,
		nullString(e.Output), e.Status, nullString(e.Error),
		formatTime(e.StartedAt), formatTime(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry for %s: %w", e.ObjectKey, err)
	}
	l.logger.Debug().Str("run_id", e.RunID).Str("key", e.ObjectKey).Str("table", e.Table).
		Str("status", e.Status).Msg("Recorded ledger entry")
	return nil
}

// Seen reports whether the object version identified by key and
// lastModified was already processed without failure.
func (l *Ledger) Seen(ctx context.Context, key string, lastModified time.Time) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_objects
		WHERE object_key = ? AND last_modified = ? AND status IN (?, ?)
		AND NOT EXISTS (
			SELECT 1 FROM processed_objects f
			WHERE f.object_key = processed_objects.object_key
			AND f.last_modified = processed_objects.last_modified
			AND f.run_id = processed_objects.run_id
			AND f.status = ?
		)`,
		key, formatTime(lastModified), StatusSuccess, StatusEmpty, StatusFailed,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return n > 0, nil
}

// Recent returns the latest entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, object_key, last_modified, table_name, rows,
			COALESCE(output, ''), status, COALESCE(error_message, ''), started_at, finished_at
		FROM processed_objects
		ORDER BY finished_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var lastModified, started, finished string
		if err := rows.Scan(&e.ID, &e.RunID, &e.ObjectKey, &lastModified, &e.Table, &e.Rows,
			&e.Output, &e.Status, &e.Error, &started, &finished); err != nil {
			return nil, err
		}
		e.LastModified = parseTime(lastModified)
		e.StartedAt = parseTime(started)
		e.FinishedAt = parseTime(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// fixed-width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
