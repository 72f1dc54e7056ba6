package migrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/datakeel/mssql-pg-sync/internal/logging"
	"github.com/datakeel/mssql-pg-sync/internal/source"
	"github.com/datakeel/mssql-pg-sync/internal/target"
)

// RunResult is the outcome of one batch migration run. Ephemeral: returned
// to the caller, never persisted by the engine.
type RunResult struct {
	ValidationResult
	RowsInserted int64    `json:"rows_inserted"`
	Batches      int      `json:"batches"`
	BatchLogs    []string `json:"batch_logs"`
}

// Run executes a validated command: paginated read, rule-driven mapping,
// idempotent batched write. It re-validates first so a stale client-side
// validation cannot slip a bad command through.
//
// Failure semantics: a per-batch error aborts the run. Earlier batches
// stay committed; rerunning the same append-mode command is safe because
// reads re-derive from offset zero and the insert skips conflicting rows.
func (e *Engine) Run(ctx context.Context, cmd *Command) (*RunResult, error) {
	vr, err := e.Validate(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !vr.OK {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, vr.Issues)
	}

	src := NormalizeEndpoint(cmd.Source, "")
	tgt := NormalizeEndpoint(cmd.Target, "")

	srcCols, err := e.src.Columns(ctx, src.Database, src.Schema, src.Table)
	if err != nil {
		return nil, err
	}
	if len(srcCols) == 0 {
		return nil, fmt.Errorf("source table %s has no columns", vr.SourceSummary)
	}
	srcNames := make([]string, len(srcCols))
	for i, c := range srcCols {
		srcNames[i] = c.Name
	}

	targetCols := sortedMappingKeys(cmd.Mapping)
	rawCol := cmd.RawPayload.Column()
	insertCols := append(append([]string{}, targetCols...), filterEmpty(rawCol)...)

	// Expression rules are computed server-side; each one becomes an extra
	// aliased SELECT item. Column and constant rules resolve client-side.
	var extras []source.SelectExpr
	exprPos := make(map[string]int) // target column -> result position
	for _, col := range targetCols {
		rule := cmd.Mapping[col]
		if rule.Type == RuleExpression {
			exprPos[col] = len(srcNames) + len(extras)
			extras = append(extras, source.SelectExpr{SQL: rule.SQL, Alias: col})
		}
	}

	conflictCol, err := e.conflictColumn(ctx, tgt, targetCols)
	if err != nil {
		return nil, err
	}

	if cmd.EffectiveMode() == ModeTruncateAndInsert {
		logging.Info("Truncating %s before transfer", vr.TargetSummary)
		if err := e.tgt.Truncate(ctx, tgt.Schema, tgt.Table); err != nil {
			return nil, err
		}
	}

	res := &RunResult{ValidationResult: *vr}
	batchSize := cmd.EffectiveBatchSize()
	offset := 0

	for {
		rs, err := e.src.FetchBatch(ctx, source.FetchSpec{
			Database: src.Database,
			Schema:   src.Schema,
			Table:    src.Table,
			Columns:  srcNames,
			Extras:   extras,
			Filter:   cmd.Filter,
			Offset:   offset,
			Limit:    batchSize,
		})
		if err != nil {
			return nil, err
		}
		if len(rs.Rows) == 0 {
			break
		}

		rows := make([][]any, len(rs.Rows))
		for i := range rs.Rows {
			row, err := resolveRow(cmd, rs, i, targetCols, exprPos, srcNames, rawCol)
			if err != nil {
				return nil, err
			}
			rows[i] = row
		}

		inserted, err := e.tgt.InsertBatch(ctx, target.InsertSpec{
			Schema:         tgt.Schema,
			Table:          tgt.Table,
			Columns:        insertCols,
			ConflictColumn: conflictCol,
			Rows:           rows,
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", res.Batches+1, err)
		}

		res.Batches++
		res.RowsInserted += inserted
		res.BatchLogs = append(res.BatchLogs,
			fmt.Sprintf("batch %d: fetched %d rows at offset %d, inserted %d",
				res.Batches, len(rs.Rows), offset, inserted))
		logging.Debug("%s -> %s: %s", res.SourceSummary, res.TargetSummary, res.BatchLogs[len(res.BatchLogs)-1])

		if e.OnBatch != nil {
			e.OnBatch(res.Batches, len(rs.Rows), res.RowsInserted)
		}

		// Advance by the fetched row count so a final partial batch
		// terminates the loop on the next empty fetch.
		offset += len(rs.Rows)
	}

	logging.Info("Migration %s -> %s complete: %d rows in %d batches",
		res.SourceSummary, res.TargetSummary, res.RowsInserted, res.Batches)
	return res, nil
}

// conflictColumn picks the idempotency column for the insert: the first
// mapped target column that carries a single-column unique or primary-key
// constraint, "id" checked first. Derived from actual schema metadata on
// every run, never from naming convention.
func (e *Engine) conflictColumn(ctx context.Context, tgt Endpoint, targetCols []string) (string, error) {
	candidates := make([]string, 0, len(targetCols))
	for _, c := range targetCols {
		if c == "id" {
			candidates = append([]string{"id"}, candidates...)
		} else {
			candidates = append(candidates, c)
		}
	}
	for _, c := range candidates {
		ok, err := e.tgt.HasUniqueOrPK(ctx, tgt.Schema, tgt.Table, c)
		if err != nil {
			return "", err
		}
		if ok {
			return c, nil
		}
	}
	return "", nil
}

// resolveRow computes the insert values for one fetched source row.
func resolveRow(cmd *Command, rs *source.RowSet, i int, targetCols []string, exprPos map[string]int, srcNames []string, rawCol string) ([]any, error) {
	byName := make(map[string]any, len(srcNames))
	for j, name := range srcNames {
		byName[name] = rs.Rows[i][j]
	}

	row := make([]any, 0, len(targetCols)+1)
	for _, col := range targetCols {
		rule := cmd.Mapping[col]
		switch rule.Type {
		case RuleColumn:
			v, ok := byName[rule.Source]
			if !ok {
				return nil, fmt.Errorf("mapping for %q: source column %q not in result", col, rule.Source)
			}
			row = append(row, v)
		case RuleExpression:
			row = append(row, rs.Rows[i][exprPos[col]])
		case RuleConstant:
			row = append(row, rule.Value)
		default:
			return nil, fmt.Errorf("mapping for %q: unknown rule type %q", col, rule.Type)
		}
	}

	if rawCol != "" {
		payload, err := json.Marshal(byName)
		if err != nil {
			return nil, fmt.Errorf("serializing raw payload: %w", err)
		}
		row = append(row, string(payload))
	}
	return row, nil
}

func filterEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
