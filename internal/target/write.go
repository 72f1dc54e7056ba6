package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// InsertSpec describes one batch insert into a target table.
type InsertSpec struct {
	Schema  string
	Table   string
	Columns []string
	// ConflictColumn adds ON CONFLICT (col) DO NOTHING. Callers must only
	// set it after HasUniqueOrPK confirmed a matching constraint.
	ConflictColumn string
	Rows           [][]any
}

// BuildInsertSQL renders the parameterized insert statement for a spec.
func BuildInsertSQL(spec InsertSpec) string {
	quoted := make([]string, len(spec.Columns))
	params := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		quoted[i] = QuoteIdent(col)
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QualifyTable(spec.Schema, spec.Table),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "))

	if spec.ConflictColumn != "" {
		sql += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", QuoteIdent(spec.ConflictColumn))
	}
	return sql
}

// InsertBatch writes all rows of the spec inside a single transaction and
// returns the number of rows actually inserted (conflict-skipped rows are
// not counted). Atomicity is per batch only; earlier committed batches
// stay committed if a later one fails.
func (c *Client) InsertBatch(ctx context.Context, spec InsertSpec) (int64, error) {
	if len(spec.Rows) == 0 {
		return 0, nil
	}

	query := BuildInsertSQL(spec)

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range spec.Rows {
		batch.Queue(query, row...)
	}

	br := tx.SendBatch(ctx, batch)
	var inserted int64
	for range spec.Rows {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("inserting into %s.%s: %w", spec.Schema, spec.Table, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return inserted, nil
}

// Truncate empties a table, resetting identity sequences and cascading to
// dependents. Runs in its own implicit transaction, before any batch loop.
func (c *Client) Truncate(ctx context.Context, schema, table string) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", QualifyTable(schema, table))
	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("truncating %s.%s: %w", schema, table, err)
	}
	return nil
}

// TryAdvisoryLock attempts a session advisory lock on key. On success it
// returns a release function that unlocks and returns the connection to
// the pool. ok=false means another session holds the lock.
func (c *Client) TryAdvisoryLock(ctx context.Context, key int64) (release func(), ok bool, err error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("acquiring advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Unlock on the same connection that took the lock; a dropped
		// connection releases it server-side anyway.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
	}
	return release, true, nil
}
