package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column is source-side column metadata.
type Column struct {
	Name         string
	IsPrimaryKey bool
}

// Columns returns column metadata for a table, in ordinal order, including
// primary-key membership. A missing table yields an empty slice, not an
// error, so validation can report it as a structured issue.
func (p *Pool) Columns(ctx context.Context, database, schema, table string) ([]Column, error) {
	prefix := catalogPrefix(database)
	query := fmt.Sprintf(`
		SELECT
			c.COLUMN_NAME,
			CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END
		FROM %sINFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT kcu.COLUMN_NAME
			FROM %sINFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN %sINFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
				ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
				AND kcu.TABLE_SCHEMA = tc.TABLE_SCHEMA
				AND kcu.TABLE_NAME = tc.TABLE_NAME
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			  AND tc.TABLE_SCHEMA = @schema
			  AND tc.TABLE_NAME = @table
		) pk ON pk.COLUMN_NAME = c.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = @schema AND c.TABLE_NAME = @table
		ORDER BY c.ORDINAL_POSITION
	`, prefix, prefix, prefix)

	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table))
	if err != nil {
		return nil, fmt.Errorf("querying source columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var isPK int
		if err := rows.Scan(&c.Name, &isPK); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		c.IsPrimaryKey = isPK == 1
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// SinglePrimaryKey returns the primary-key column name when the table has
// exactly one PK column. Zero or composite keys yield ok=false; the caller
// must fail explicitly rather than guess.
func (p *Pool) SinglePrimaryKey(ctx context.Context, database, schema, table string) (string, bool, error) {
	cols, err := p.Columns(ctx, database, schema, table)
	if err != nil {
		return "", false, err
	}
	var pk []string
	for _, c := range cols {
		if c.IsPrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	if len(pk) == 1 {
		return pk[0], true, nil
	}
	return "", false, nil
}

// CountRows returns SELECT COUNT(*) with an optional raw filter appended.
// The filter must already have passed sqlguard vetting.
func (p *Pool) CountRows(ctx context.Context, database, schema, table, filter string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", QualifyTable(database, schema, table))
	if strings.TrimSpace(filter) != "" {
		query += " WHERE " + filter
	}
	var count int64
	if err := p.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s.%s: %w", schema, table, err)
	}
	return count, nil
}

// CountRowsAbove returns the number of rows with pkColumn strictly greater
// than the watermark.
func (p *Pool) CountRowsAbove(ctx context.Context, database, schema, table, pkColumn string, watermark int64) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s WHERE %s > @watermark",
		QualifyTable(database, schema, table), QuoteIdent(pkColumn))
	var count int64
	err := p.db.QueryRowContext(ctx, query, sql.Named("watermark", watermark)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rows above watermark in %s.%s: %w", schema, table, err)
	}
	return count, nil
}

// MaxPK returns COALESCE(MAX(pkColumn), 0) for a source table.
func (p *Pool) MaxPK(ctx context.Context, database, schema, table, pkColumn string) (int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s",
		QuoteIdent(pkColumn), QualifyTable(database, schema, table))
	var max int64
	if err := p.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("reading max %s from %s.%s: %w", pkColumn, schema, table, err)
	}
	return max, nil
}
