package migrate

import (
	"context"
	"errors"
	"time"

	"github.com/datakeel/mssql-pg-sync/internal/source"
	"github.com/datakeel/mssql-pg-sync/internal/target"
)

// Sentinel errors for configuration failures. All of them occur before any
// data movement.
var (
	ErrUnsupportedKind    = errors.New("unsupported database kind")
	ErrTargetTableMissing = errors.New("target table does not exist")
	ErrValidationFailed   = errors.New("command validation failed")
	ErrNoPrimaryKey       = errors.New("primary key column not found")
	ErrEmptyColumnSet     = errors.New("no columns shared between source and target")
	ErrSyncInProgress     = errors.New("a sync for this table pair is already running")
)

// SourceClient is the read side: SQL Server catalog introspection, counts,
// and paginated fetches. Implemented by source.Pool.
type SourceClient interface {
	Columns(ctx context.Context, database, schema, table string) ([]source.Column, error)
	SinglePrimaryKey(ctx context.Context, database, schema, table string) (string, bool, error)
	CountRows(ctx context.Context, database, schema, table, filter string) (int64, error)
	CountRowsAbove(ctx context.Context, database, schema, table, pkColumn string, watermark int64) (int64, error)
	MaxPK(ctx context.Context, database, schema, table, pkColumn string) (int64, error)
	FetchBatch(ctx context.Context, spec source.FetchSpec) (*source.RowSet, error)
}

// TargetClient is the write side: PostgreSQL introspection, idempotent
// batch inserts, truncation, and advisory locks. Implemented by
// target.Client.
type TargetClient interface {
	Columns(ctx context.Context, schema, table string) ([]target.Column, error)
	HasUniqueOrPK(ctx context.Context, schema, table, column string) (bool, error)
	MaxPK(ctx context.Context, schema, table, pkColumn string) (int64, error)
	RowCount(ctx context.Context, schema, table string) (int64, error)
	InsertBatch(ctx context.Context, spec target.InsertSpec) (int64, error)
	Truncate(ctx context.Context, schema, table string) error
	TryAdvisoryLock(ctx context.Context, key int64) (release func(), ok bool, err error)
}

// WorkerRunRecord carries the diagnostics written back to a worker's state
// row after a sync pass, success or failure.
type WorkerRunRecord struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	Status         string // "ok" or "error"
	Error          string
	SourceRowCount *int64
	TargetRowCount *int64
	InsertedCount  int64
	MaxPKSource    int64
	MaxPKTarget    int64
}

// WorkerStateWriter persists run diagnostics. Implemented by worker.Store.
type WorkerStateWriter interface {
	RecordRun(ctx context.Context, workerID int64, rec WorkerRunRecord) error
}

// Engine binds the two database clients and executes validation, batch
// migration, and incremental sync.
type Engine struct {
	src    SourceClient
	tgt    TargetClient
	states WorkerStateWriter

	// OnBatch, when set, is invoked after every committed batch with the
	// number of rows fetched in the batch and the running inserted total.
	OnBatch func(batch int, fetched int, inserted int64)

	now func() time.Time
}

// New creates an Engine. states may be nil when no worker-state
// persistence is wanted (ad-hoc sync invocations).
func New(src SourceClient, tgt TargetClient, states WorkerStateWriter) *Engine {
	return &Engine{src: src, tgt: tgt, states: states, now: time.Now}
}
