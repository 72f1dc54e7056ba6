package target

import (
	"context"
	"fmt"
)

// Column is target-side column metadata.
type Column struct {
	Name       string
	IsNullable bool
	HasDefault bool
}

// Columns returns column metadata for a table in ordinal order. A missing
// table yields an empty slice, not an error; callers interpret that as
// "table does not exist".
func (c *Client) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT
			column_name,
			is_nullable = 'YES',
			column_default IS NOT NULL
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying target columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.IsNullable, &col.HasDefault); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// HasUniqueOrPK reports whether the column is covered by a single-column
// primary-key or unique constraint. ON CONFLICT on an unconstrained column
// is a runtime error in PostgreSQL, so this is checked before every insert
// statement is built; constraints can change between runs.
func (c *Client) HasUniqueOrPK(ctx context.Context, schema, table, column string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_index i
			JOIN pg_class t ON t.oid = i.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
			WHERE (i.indisprimary OR i.indisunique)
			  AND i.indnkeyatts = 1
			  AND n.nspname = $1
			  AND t.relname = $2
			  AND a.attname = $3
		)
	`, schema, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking constraint on %s.%s(%s): %w", schema, table, column, err)
	}
	return exists, nil
}

// MaxPK returns COALESCE(MAX(pkColumn), 0): the watermark for incremental
// sync. The target table's own data is the checkpoint.
func (c *Client) MaxPK(ctx context.Context, schema, table, pkColumn string) (int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s",
		QuoteIdent(pkColumn), QualifyTable(schema, table))
	var max int64
	if err := c.pool.QueryRow(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("reading max %s from %s.%s: %w", pkColumn, schema, table, err)
	}
	return max, nil
}

// RowCount returns the exact row count via COUNT(*).
func (c *Client) RowCount(ctx context.Context, schema, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", QualifyTable(schema, table))
	var count int64
	if err := c.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s.%s: %w", schema, table, err)
	}
	return count, nil
}
