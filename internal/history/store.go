// Package history keeps a local record of migration and sync runs in an
// embedded SQLite database. It exists for operators: listing past runs and
// their outcomes without touching either production database. The engine
// never reads history to make decisions.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run matches the given id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded migration or sync invocation.
type Run struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"` // "migrate" or "sync"
	Source       string     `json:"source"`
	Target       string     `json:"target"`
	Status       string     `json:"status"` // "running", "ok", "error"
	RowsInserted int64      `json:"rows_inserted"`
	Batches      int        `json:"batches"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Store is the SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db %s: %w", path, err)
	}
	// SQLite handles one writer at a time; the CLI is single-process, so a
	// single connection avoids SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			source        TEXT NOT NULL,
			target        TEXT NOT NULL,
			status        TEXT NOT NULL,
			rows_inserted INTEGER NOT NULL DEFAULT 0,
			batches       INTEGER NOT NULL DEFAULT 0,
			error         TEXT NOT NULL DEFAULT '',
			started_at    TIMESTAMP NOT NULL,
			finished_at   TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring runs table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart inserts a new run in "running" state and returns its id.
func (s *Store) RecordStart(ctx context.Context, kind, source, target string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, source, target, status, started_at)
		VALUES (?, ?, ?, ?, 'running', ?)`,
		id, kind, source, target, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// Complete finalizes a run. errMsg is empty on success.
func (s *Store) Complete(ctx context.Context, id string, rowsInserted int64, batches int, errMsg string) error {
	status := "ok"
	if errMsg != "" {
		status = "error"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, rows_inserted = ?, batches = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, rowsInserted, batches, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("completing run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, kind, source, target, status, rows_inserted, batches, error, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Kind, &r.Source, &r.Target, &r.Status,
		&r.RowsInserted, &r.Batches, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	return scanRun(row)
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
