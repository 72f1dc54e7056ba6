package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/datakeel/mssql-pg-sync/internal/source"
	"github.com/datakeel/mssql-pg-sync/internal/target"
)

// fakeSource serves one in-memory source table. Rows are stored aligned
// with columns; FetchBatch applies the watermark predicate, ordering, and
// pagination the way the real query would.
type fakeSource struct {
	columns []source.Column
	rows    [][]any

	// exprs computes expression extras by alias from a row keyed by
	// source column name.
	exprs map[string]func(map[string]any) any

	fetchCalls int
	countErr   error
}

func (f *fakeSource) colIndex(name string) int {
	for i, c := range f.columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

func (f *fakeSource) Columns(ctx context.Context, database, schema, table string) ([]source.Column, error) {
	return f.columns, nil
}

func (f *fakeSource) SinglePrimaryKey(ctx context.Context, database, schema, table string) (string, bool, error) {
	var pks []string
	for _, c := range f.columns {
		if c.IsPrimaryKey {
			pks = append(pks, c.Name)
		}
	}
	if len(pks) == 1 {
		return pks[0], true, nil
	}
	return "", false, nil
}

func (f *fakeSource) CountRows(ctx context.Context, database, schema, table, filter string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.rows)), nil
}

func (f *fakeSource) CountRowsAbove(ctx context.Context, database, schema, table, pkColumn string, watermark int64) (int64, error) {
	idx := f.colIndex(pkColumn)
	var n int64
	for _, r := range f.rows {
		if pk, ok := asInt64(r[idx]); ok && pk > watermark {
			n++
		}
	}
	return n, nil
}

func (f *fakeSource) MaxPK(ctx context.Context, database, schema, table, pkColumn string) (int64, error) {
	idx := f.colIndex(pkColumn)
	var max int64
	for _, r := range f.rows {
		if pk, ok := asInt64(r[idx]); ok && pk > max {
			max = pk
		}
	}
	return max, nil
}

func (f *fakeSource) FetchBatch(ctx context.Context, spec source.FetchSpec) (*source.RowSet, error) {
	f.fetchCalls++

	var matched [][]any
	for _, r := range f.rows {
		if spec.PKColumn != "" && spec.PKAfter != nil {
			pk, _ := asInt64(r[f.colIndex(spec.PKColumn)])
			if pk <= *spec.PKAfter {
				continue
			}
		}
		matched = append(matched, r)
	}

	orderBy := spec.OrderBy
	if orderBy == "" && len(spec.Columns) > 0 {
		orderBy = spec.Columns[0]
	}
	oi := f.colIndex(orderBy)
	sort.SliceStable(matched, func(a, b int) bool {
		x, _ := asInt64(matched[a][oi])
		y, _ := asInt64(matched[b][oi])
		return x < y
	})

	if spec.Offset >= len(matched) {
		return &source.RowSet{Columns: spec.Columns}, nil
	}
	end := spec.Offset + spec.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[spec.Offset:end]

	outCols := append([]string{}, spec.Columns...)
	for _, e := range spec.Extras {
		outCols = append(outCols, e.Alias)
	}

	out := make([][]any, len(page))
	for i, r := range page {
		byName := make(map[string]any, len(f.columns))
		for j, c := range f.columns {
			byName[c.Name] = r[j]
		}
		row := make([]any, 0, len(outCols))
		for _, c := range spec.Columns {
			row = append(row, r[f.colIndex(c)])
		}
		for _, e := range spec.Extras {
			fn, ok := f.exprs[e.Alias]
			if !ok {
				return nil, fmt.Errorf("no fake expression for alias %q", e.Alias)
			}
			row = append(row, fn(byName))
		}
		out[i] = row
	}
	return &source.RowSet{Columns: outCols, Rows: out}, nil
}

// fakeTarget serves one in-memory target table. Rows are stored keyed by
// column name so inserts with different column orders compose.
type fakeTarget struct {
	columns    []target.Column
	uniqueCols map[string]bool

	rows      []map[string]any
	specs     []target.InsertSpec
	truncated bool
	lockHeld  bool
}

func (f *fakeTarget) Columns(ctx context.Context, schema, table string) ([]target.Column, error) {
	return f.columns, nil
}

func (f *fakeTarget) HasUniqueOrPK(ctx context.Context, schema, table, column string) (bool, error) {
	return f.uniqueCols[column], nil
}

func (f *fakeTarget) MaxPK(ctx context.Context, schema, table, pkColumn string) (int64, error) {
	var max int64
	for _, r := range f.rows {
		if pk, ok := asInt64(r[pkColumn]); ok && pk > max {
			max = pk
		}
	}
	return max, nil
}

func (f *fakeTarget) RowCount(ctx context.Context, schema, table string) (int64, error) {
	return int64(len(f.rows)), nil
}

func (f *fakeTarget) InsertBatch(ctx context.Context, spec target.InsertSpec) (int64, error) {
	f.specs = append(f.specs, spec)

	var inserted int64
	for _, row := range spec.Rows {
		m := make(map[string]any, len(spec.Columns))
		for i, c := range spec.Columns {
			m[c] = row[i]
		}
		if spec.ConflictColumn != "" && f.contains(spec.ConflictColumn, m[spec.ConflictColumn]) {
			continue
		}
		f.rows = append(f.rows, m)
		inserted++
	}
	return inserted, nil
}

func (f *fakeTarget) contains(col string, v any) bool {
	want, _ := asInt64(v)
	for _, r := range f.rows {
		if got, ok := asInt64(r[col]); ok && got == want {
			return true
		}
	}
	return false
}

func (f *fakeTarget) Truncate(ctx context.Context, schema, table string) error {
	f.truncated = true
	f.rows = nil
	return nil
}

func (f *fakeTarget) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if f.lockHeld {
		return nil, false, nil
	}
	f.lockHeld = true
	return func() { f.lockHeld = false }, true, nil
}

// fakeStates records every worker-state write.
type fakeStates struct {
	records []WorkerRunRecord
	ids     []int64
}

func (f *fakeStates) RecordRun(ctx context.Context, workerID int64, rec WorkerRunRecord) error {
	f.ids = append(f.ids, workerID)
	f.records = append(f.records, rec)
	return nil
}
