// Package worker persists the identity, configuration, and last-run
// diagnostics of each incremental-sync table pair. One row per pair lives
// in the target database; the sync engine updates it after every pass and
// operators read it to observe and trigger runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/datakeel/mssql-pg-sync/internal/migrate"
	"github.com/datakeel/mssql-pg-sync/internal/target"
)

// ErrAmbiguousKey is returned when a worker is created without a pk column
// and the source table has zero or composite primary-key columns.
var ErrAmbiguousKey = errors.New("cannot auto-detect primary key column")

// ErrNotFound is returned when no worker matches the given id or identity.
var ErrNotFound = errors.New("worker not found")

// Identity is the five-tuple key of a sync worker.
type Identity struct {
	SourceDatabase string
	SourceSchema   string
	SourceTable    string
	TargetSchema   string
	TargetTable    string
}

// Worker is one persisted sync table pair with its run diagnostics.
type Worker struct {
	ID int64
	Identity

	PKColumn        string
	Enabled         bool
	IntervalSeconds int
	Owner           string
	NotifyOnSuccess bool
	NotifyOnError   bool

	LastRunStartedAt   *time.Time
	LastRunFinishedAt  *time.Time
	LastRunStatus      string
	LastError          string
	LastSourceRowCount *int64
	LastTargetRowCount *int64
	LastInsertedCount  int64
	LastMaxPKSource    int64
	LastMaxPKTarget    int64
}

// KeyDetector resolves a single-column primary key on the source side.
// Implemented by source.Pool.
type KeyDetector interface {
	SinglePrimaryKey(ctx context.Context, database, schema, table string) (string, bool, error)
}

// Store is the Postgres-backed worker state store. It shares the target
// client's connection pool.
type Store struct {
	tc *target.Client
}

// NewStore creates a store on the target client.
func NewStore(tc *target.Client) *Store {
	return &Store{tc: tc}
}

// EnsureTable creates the state table when missing.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.tc.Pool().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS public.sync_workers (
			id                    bigserial PRIMARY KEY,
			source_database       text NOT NULL DEFAULT '',
			source_schema         text NOT NULL,
			source_table          text NOT NULL,
			target_schema         text NOT NULL,
			target_table          text NOT NULL,
			pk_column             text NOT NULL,
			enabled               boolean NOT NULL DEFAULT true,
			interval_seconds      integer NOT NULL DEFAULT 300,
			owner                 text NOT NULL DEFAULT '',
			notify_on_success     boolean NOT NULL DEFAULT false,
			notify_on_error       boolean NOT NULL DEFAULT true,
			created_at            timestamptz NOT NULL DEFAULT now(),
			updated_at            timestamptz NOT NULL DEFAULT now(),
			last_run_started_at   timestamptz,
			last_run_finished_at  timestamptz,
			last_run_status       text NOT NULL DEFAULT '',
			last_error            text NOT NULL DEFAULT '',
			last_source_row_count bigint,
			last_target_row_count bigint,
			last_inserted_count   bigint NOT NULL DEFAULT 0,
			last_max_pk_source    bigint NOT NULL DEFAULT 0,
			last_max_pk_target    bigint NOT NULL DEFAULT 0,
			UNIQUE (source_database, source_schema, source_table, target_schema, target_table)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensuring sync_workers table: %w", err)
	}
	return nil
}

const workerColumns = `
	id, source_database, source_schema, source_table, target_schema, target_table,
	pk_column, enabled, interval_seconds, owner, notify_on_success, notify_on_error,
	last_run_started_at, last_run_finished_at, last_run_status, last_error,
	last_source_row_count, last_target_row_count, last_inserted_count,
	last_max_pk_source, last_max_pk_target`

func scanWorker(row pgx.Row) (*Worker, error) {
	var w Worker
	err := row.Scan(
		&w.ID, &w.SourceDatabase, &w.SourceSchema, &w.SourceTable, &w.TargetSchema, &w.TargetTable,
		&w.PKColumn, &w.Enabled, &w.IntervalSeconds, &w.Owner, &w.NotifyOnSuccess, &w.NotifyOnError,
		&w.LastRunStartedAt, &w.LastRunFinishedAt, &w.LastRunStatus, &w.LastError,
		&w.LastSourceRowCount, &w.LastTargetRowCount, &w.LastInsertedCount,
		&w.LastMaxPKSource, &w.LastMaxPKTarget,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// Get returns a worker by surrogate id.
func (s *Store) Get(ctx context.Context, id int64) (*Worker, error) {
	row := s.tc.Pool().QueryRow(ctx,
		"SELECT"+workerColumns+" FROM public.sync_workers WHERE id = $1", id)
	return scanWorker(row)
}

// Find returns a worker by its five-tuple identity.
func (s *Store) Find(ctx context.Context, ident Identity) (*Worker, error) {
	row := s.tc.Pool().QueryRow(ctx,
		"SELECT"+workerColumns+` FROM public.sync_workers
		WHERE source_database = $1 AND source_schema = $2 AND source_table = $3
		  AND target_schema = $4 AND target_table = $5`,
		ident.SourceDatabase, ident.SourceSchema, ident.SourceTable,
		ident.TargetSchema, ident.TargetTable)
	return scanWorker(row)
}

// List returns all workers ordered by identity.
func (s *Store) List(ctx context.Context) ([]Worker, error) {
	rows, err := s.tc.Pool().Query(ctx,
		"SELECT"+workerColumns+` FROM public.sync_workers
		ORDER BY source_schema, source_table, target_schema, target_table`)
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	defer rows.Close()

	var workers []Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

// UpsertParams configures an Upsert. Pointer fields mean "leave unchanged"
// on update and "use the default" on insert.
type UpsertParams struct {
	Identity
	PKColumn        string
	Enabled         *bool
	IntervalSeconds *int
	Owner           *string
	NotifyOnSuccess *bool
	NotifyOnError   *bool
}

// Upsert creates or updates a worker by identity. On insert with no pk
// column given, the source's single primary key is auto-detected; zero or
// composite keys are a hard error rather than a guess. On update the owner
// is preserved unless explicitly supplied.
func (s *Store) Upsert(ctx context.Context, p UpsertParams, detector KeyDetector) (*Worker, error) {
	existing, err := s.Find(ctx, p.Identity)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if p.PKColumn != "" {
			existing.PKColumn = p.PKColumn
		}
		if p.Enabled != nil {
			existing.Enabled = *p.Enabled
		}
		if p.IntervalSeconds != nil {
			existing.IntervalSeconds = *p.IntervalSeconds
		}
		if p.Owner != nil {
			existing.Owner = *p.Owner
		}
		if p.NotifyOnSuccess != nil {
			existing.NotifyOnSuccess = *p.NotifyOnSuccess
		}
		if p.NotifyOnError != nil {
			existing.NotifyOnError = *p.NotifyOnError
		}
		_, err = s.tc.Pool().Exec(ctx, `
			UPDATE public.sync_workers
			SET pk_column = $2, enabled = $3, interval_seconds = $4, owner = $5,
			    notify_on_success = $6, notify_on_error = $7, updated_at = now()
			WHERE id = $1`,
			existing.ID, existing.PKColumn, existing.Enabled, existing.IntervalSeconds,
			existing.Owner, existing.NotifyOnSuccess, existing.NotifyOnError)
		if err != nil {
			return nil, fmt.Errorf("updating worker %d: %w", existing.ID, err)
		}
		return s.Get(ctx, existing.ID)
	}

	pkCol := p.PKColumn
	if pkCol == "" {
		detected, ok, err := detector.SinglePrimaryKey(ctx, p.SourceDatabase, p.SourceSchema, p.SourceTable)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w for %s.%s: zero or composite primary key",
				ErrAmbiguousKey, p.SourceSchema, p.SourceTable)
		}
		pkCol = detected
	}

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	interval := 300
	if p.IntervalSeconds != nil {
		interval = *p.IntervalSeconds
	}
	owner := ""
	if p.Owner != nil {
		owner = *p.Owner
	}
	notifySuccess := false
	if p.NotifyOnSuccess != nil {
		notifySuccess = *p.NotifyOnSuccess
	}
	notifyError := true
	if p.NotifyOnError != nil {
		notifyError = *p.NotifyOnError
	}

	var id int64
	err = s.tc.Pool().QueryRow(ctx, `
		INSERT INTO public.sync_workers
			(source_database, source_schema, source_table, target_schema, target_table,
			 pk_column, enabled, interval_seconds, owner, notify_on_success, notify_on_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.SourceDatabase, p.SourceSchema, p.SourceTable, p.TargetSchema, p.TargetTable,
		pkCol, enabled, interval, owner, notifySuccess, notifyError).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting worker: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete removes a worker. Operator action only; the sync engine never
// deletes state rows.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.tc.Pool().Exec(ctx, "DELETE FROM public.sync_workers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting worker %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordRun writes run diagnostics to the worker's state row. Called on
// every exit path of a sync pass, success or failure. The start timestamp
// is stamped per run.
func (s *Store) RecordRun(ctx context.Context, workerID int64, rec migrate.WorkerRunRecord) error {
	_, err := s.tc.Pool().Exec(ctx, `
		UPDATE public.sync_workers
		SET last_run_started_at = $2,
		    last_run_finished_at = $3,
		    last_run_status = $4,
		    last_error = $5,
		    last_source_row_count = $6,
		    last_target_row_count = $7,
		    last_inserted_count = $8,
		    last_max_pk_source = $9,
		    last_max_pk_target = $10,
		    updated_at = now()
		WHERE id = $1`,
		workerID, rec.StartedAt, rec.FinishedAt, rec.Status, rec.Error,
		rec.SourceRowCount, rec.TargetRowCount, rec.InsertedCount,
		rec.MaxPKSource, rec.MaxPKTarget)
	if err != nil {
		return fmt.Errorf("recording run for worker %d: %w", workerID, err)
	}
	return nil
}
