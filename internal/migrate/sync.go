package migrate

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/datakeel/mssql-pg-sync/internal/logging"
	"github.com/datakeel/mssql-pg-sync/internal/source"
	"github.com/datakeel/mssql-pg-sync/internal/target"
)

// SyncRequest describes one incremental replication pass for a table pair.
type SyncRequest struct {
	SourceDatabase string
	SourceSchema   string
	SourceTable    string
	TargetSchema   string
	TargetTable    string
	PKColumn       string
	BatchSize      int

	// WorkerID, when non-nil, selects the worker-state row that receives
	// run diagnostics on every exit path.
	WorkerID *int64

	// MaxSeconds bounds wall-clock time. Checked only between batches and
	// never before the first batch completed, so a short budget still
	// makes progress. Zero means unbounded.
	MaxSeconds int
}

// SyncResult reports one pass. A time-boxed partial pass is a success;
// the watermark makes the next invocation resume automatically.
type SyncResult struct {
	Status              string `json:"status"`
	RowsInserted        int64  `json:"rows_inserted"`
	Batches             int    `json:"batches"`
	SourceRowCount      *int64 `json:"source_row_count,omitempty"`
	TargetRowCount      *int64 `json:"target_row_count,omitempty"`
	PreviousTargetMaxPK int64  `json:"previous_target_max_pk"`
	NewTargetMaxPK      int64  `json:"new_target_max_pk"`
	LastSourcePK        int64  `json:"last_source_pk"`
}

// RunIncremental replicates source rows newer than the target watermark.
// The target table's own MAX(pk) is the only checkpoint; there is no
// separate progress record to drift out of sync.
//
// A Postgres advisory lock scoped to the table-pair identity serializes
// concurrent invocations (manual trigger racing the scheduler); the loser
// fails fast with ErrSyncInProgress.
func (e *Engine) RunIncremental(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	started := e.now()

	res, err := e.runIncremental(ctx, req)

	if req.WorkerID != nil && e.states != nil {
		rec := WorkerRunRecord{
			StartedAt:  started,
			FinishedAt: e.now(),
		}
		if err != nil {
			rec.Status = "error"
			rec.Error = err.Error()
		} else {
			rec.Status = res.Status
			rec.SourceRowCount = res.SourceRowCount
			rec.TargetRowCount = res.TargetRowCount
			rec.InsertedCount = res.RowsInserted
			rec.MaxPKSource = res.LastSourcePK
			rec.MaxPKTarget = res.NewTargetMaxPK
		}
		if werr := e.states.RecordRun(ctx, *req.WorkerID, rec); werr != nil {
			logging.Error("Failed to record worker %d state: %v", *req.WorkerID, werr)
		}
	}

	return res, err
}

func (e *Engine) runIncremental(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if strings.TrimSpace(req.PKColumn) == "" {
		return nil, fmt.Errorf("%w: pk column is required", ErrNoPrimaryKey)
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	release, ok, err := e.tgt.TryAdvisoryLock(ctx, SyncLockKey(req))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s -> %s.%s", ErrSyncInProgress,
			req.SourceSchema, req.SourceTable, req.TargetSchema, req.TargetTable)
	}
	defer release()

	watermark, err := e.tgt.MaxPK(ctx, req.TargetSchema, req.TargetTable, req.PKColumn)
	if err != nil {
		return nil, err
	}

	srcCols, err := e.src.Columns(ctx, req.SourceDatabase, req.SourceSchema, req.SourceTable)
	if err != nil {
		return nil, err
	}
	pkCol := ""
	for _, c := range srcCols {
		if strings.EqualFold(c.Name, req.PKColumn) {
			pkCol = c.Name
			break
		}
	}
	if pkCol == "" {
		return nil, fmt.Errorf("%w: %q not in source table %s.%s",
			ErrNoPrimaryKey, req.PKColumn, req.SourceSchema, req.SourceTable)
	}

	tgtCols, err := e.tgt.Columns(ctx, req.TargetSchema, req.TargetTable)
	if err != nil {
		return nil, err
	}
	if len(tgtCols) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrTargetTableMissing, req.TargetSchema, req.TargetTable)
	}

	cols := replicationColumns(srcCols, tgtCols, pkCol)
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s.%s vs %s.%s", ErrEmptyColumnSet,
			req.SourceSchema, req.SourceTable, req.TargetSchema, req.TargetTable)
	}

	// Re-checked every run: constraints can change between runs, and
	// ON CONFLICT against an unconstrained column is a database error.
	conflictCol := ""
	hasConstraint, err := e.tgt.HasUniqueOrPK(ctx, req.TargetSchema, req.TargetTable, pkCol)
	if err != nil {
		return nil, err
	}
	if hasConstraint {
		conflictCol = pkCol
	}

	res := &SyncResult{Status: "ok", PreviousTargetMaxPK: watermark, LastSourcePK: watermark}
	pkIdx := indexOfFold(cols, pkCol)
	deadline := time.Time{}
	if req.MaxSeconds > 0 {
		deadline = e.now().Add(time.Duration(req.MaxSeconds) * time.Second)
	}

	offset := 0
	for {
		rs, err := e.src.FetchBatch(ctx, source.FetchSpec{
			Database: req.SourceDatabase,
			Schema:   req.SourceSchema,
			Table:    req.SourceTable,
			Columns:  cols,
			PKColumn: pkCol,
			PKAfter:  &watermark,
			OrderBy:  pkCol,
			Offset:   offset,
			Limit:    batchSize,
		})
		if err != nil {
			return nil, err
		}
		if len(rs.Rows) == 0 {
			break
		}

		inserted, err := e.tgt.InsertBatch(ctx, target.InsertSpec{
			Schema:         req.TargetSchema,
			Table:          req.TargetTable,
			Columns:        cols,
			ConflictColumn: conflictCol,
			Rows:           rs.Rows,
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", res.Batches+1, err)
		}

		res.Batches++
		res.RowsInserted += inserted
		for _, row := range rs.Rows {
			if pk, ok := asInt64(row[pkIdx]); ok && pk > res.LastSourcePK {
				res.LastSourcePK = pk
			}
		}
		offset += len(rs.Rows)

		if e.OnBatch != nil {
			e.OnBatch(res.Batches, len(rs.Rows), res.RowsInserted)
		}

		// Budget check happens after a completed batch only: a caller with
		// a tight budget still gets at least one batch of progress.
		if !deadline.IsZero() && !e.now().Before(deadline) {
			logging.Info("Sync %s.%s -> %s.%s time-boxed after %d batches",
				req.SourceSchema, req.SourceTable, req.TargetSchema, req.TargetTable, res.Batches)
			break
		}
	}

	newMark, err := e.tgt.MaxPK(ctx, req.TargetSchema, req.TargetTable, req.PKColumn)
	if err != nil {
		return nil, err
	}
	res.NewTargetMaxPK = newMark

	if count, err := e.tgt.RowCount(ctx, req.TargetSchema, req.TargetTable); err == nil {
		res.TargetRowCount = &count
	}
	// Diagnostic only; a failing source count must never fail the run.
	if count, err := e.src.CountRows(ctx, req.SourceDatabase, req.SourceSchema, req.SourceTable, ""); err == nil {
		res.SourceRowCount = &count
	} else {
		logging.Debug("Best-effort source row count failed: %v", err)
	}

	logging.Info("Sync %s.%s -> %s.%s: %d rows in %d batches (watermark %d -> %d)",
		req.SourceSchema, req.SourceTable, req.TargetSchema, req.TargetTable,
		res.RowsInserted, res.Batches, res.PreviousTargetMaxPK, res.NewTargetMaxPK)
	return res, nil
}

// replicationColumns intersects source and target column names, preserving
// source order. The pk column is force-included even if the intersection
// somehow dropped it.
func replicationColumns(srcCols []source.Column, tgtCols []target.Column, pkCol string) []string {
	tgtNames := make(map[string]bool, len(tgtCols))
	for _, c := range tgtCols {
		tgtNames[strings.ToLower(c.Name)] = true
	}

	var cols []string
	for _, c := range srcCols {
		if tgtNames[strings.ToLower(c.Name)] || strings.EqualFold(c.Name, pkCol) {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// SyncLockKey derives the advisory-lock key from the table-pair identity.
func SyncLockKey(req SyncRequest) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		req.SourceDatabase, req.SourceSchema, req.SourceTable, req.TargetSchema, req.TargetTable)
	return int64(h.Sum64())
}

func indexOfFold(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return 0
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
