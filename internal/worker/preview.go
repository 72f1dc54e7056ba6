package worker

import (
	"context"
	"fmt"
)

// PreviewCounter is the read-only slice of the source side that a preview
// needs. Implemented by source.Pool.
type PreviewCounter interface {
	CountRows(ctx context.Context, database, schema, table, filter string) (int64, error)
	CountRowsAbove(ctx context.Context, database, schema, table, pkColumn string, watermark int64) (int64, error)
	MaxPK(ctx context.Context, database, schema, table, pkColumn string) (int64, error)
}

// TargetReader is the read-only slice of the target side that a preview
// needs. Implemented by target.Client.
type TargetReader interface {
	MaxPK(ctx context.Context, schema, table, pkColumn string) (int64, error)
	RowCount(ctx context.Context, schema, table string) (int64, error)
}

// Preview is a dry-run report for one worker: what a sync pass would do,
// computed without moving any data.
type Preview struct {
	WorkerID       int64  `json:"worker_id"`
	SourceRowCount int64  `json:"source_row_count"`
	TargetRowCount int64  `json:"target_row_count"`
	SourceMaxPK    int64  `json:"source_max_pk"`
	TargetMaxPK    int64  `json:"target_max_pk"`
	RowsToCopy     int64  `json:"rows_to_copy"`
	PKColumn       string `json:"pk_column"`
}

// PreviewRun computes the pending work for a worker. RowsToCopy is the
// exact count of source rows above the target watermark, not the
// difference of the two totals, so deleted source rows do not skew it.
func (s *Store) PreviewRun(ctx context.Context, w *Worker, src PreviewCounter, tgt TargetReader) (*Preview, error) {
	p := &Preview{WorkerID: w.ID, PKColumn: w.PKColumn}

	var err error
	if p.SourceRowCount, err = src.CountRows(ctx, w.SourceDatabase, w.SourceSchema, w.SourceTable, ""); err != nil {
		return nil, fmt.Errorf("counting source rows: %w", err)
	}
	if p.SourceMaxPK, err = src.MaxPK(ctx, w.SourceDatabase, w.SourceSchema, w.SourceTable, w.PKColumn); err != nil {
		return nil, fmt.Errorf("reading source max pk: %w", err)
	}
	if p.TargetRowCount, err = tgt.RowCount(ctx, w.TargetSchema, w.TargetTable); err != nil {
		return nil, fmt.Errorf("counting target rows: %w", err)
	}
	if p.TargetMaxPK, err = tgt.MaxPK(ctx, w.TargetSchema, w.TargetTable, w.PKColumn); err != nil {
		return nil, fmt.Errorf("reading target max pk: %w", err)
	}
	if p.RowsToCopy, err = src.CountRowsAbove(ctx, w.SourceDatabase, w.SourceSchema, w.SourceTable, w.PKColumn, p.TargetMaxPK); err != nil {
		return nil, fmt.Errorf("counting rows above watermark: %w", err)
	}
	return p, nil
}
