package source

import (
	"context"
	"database/sql"
	"fmt"
)

// RowSet is one fetched batch: column names in SELECT order plus row values.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Map returns row i keyed by column name.
func (r *RowSet) Map(i int) map[string]any {
	m := make(map[string]any, len(r.Columns))
	for j, c := range r.Columns {
		m[c] = r.Rows[i][j]
	}
	return m
}

// FetchBatch executes one page of the spec's query. An empty RowSet marks
// the end of pagination.
func (p *Pool) FetchBatch(ctx context.Context, spec FetchSpec) (*RowSet, error) {
	query := buildFetchQuery(spec)

	args := []any{
		sql.Named("offset", spec.Offset),
		sql.Named("limit", spec.Limit),
	}
	if spec.PKColumn != "" && spec.PKAfter != nil {
		args = append(args, sql.Named("watermark", *spec.PKAfter))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching batch from %s.%s: %w", spec.Schema, spec.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	rs := &RowSet{Columns: cols}
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for j := range row {
			ptrs[j] = &row[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}
