package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/datakeel/mssql-pg-sync/internal/sqlguard"
	"github.com/datakeel/mssql-pg-sync/internal/source"
	"github.com/datakeel/mssql-pg-sync/internal/target"
)

// ValidationResult is the structured report for one command. Soft issues
// never raise; configuration errors do.
type ValidationResult struct {
	OK                   bool     `json:"ok"`
	Issues               []string `json:"issues"`
	EstimatedRows        *int64   `json:"estimated_rows,omitempty"`
	SourceSummary        string   `json:"source_summary"`
	TargetSummary        string   `json:"target_summary"`
	MissingTargetColumns []string `json:"missing_target_columns"`
}

// Validate checks a command without writing anything. It does run one
// COUNT(*) against the source, filter applied, because the row estimate is
// part of the contract. Hard errors: unsupported endpoint kinds, a missing
// target table, or a failing count query. Everything else lands in Issues.
func (e *Engine) Validate(ctx context.Context, cmd *Command) (*ValidationResult, error) {
	src := NormalizeEndpoint(cmd.Source, "")
	tgt := NormalizeEndpoint(cmd.Target, "")

	if src.Kind != KindSource {
		return nil, fmt.Errorf("source endpoint: %w: %q", ErrUnsupportedKind, src.Kind)
	}
	if tgt.Kind != KindTarget {
		return nil, fmt.Errorf("target endpoint: %w: %q", ErrUnsupportedKind, tgt.Kind)
	}

	res := &ValidationResult{
		SourceSummary: source.QualifyTable(src.Database, src.Schema, src.Table),
		TargetSummary: target.QualifyTable(tgt.Schema, tgt.Table),
	}

	if cmd.Filter != "" {
		if err := sqlguard.CheckExpression(cmd.Filter); err != nil {
			res.Issues = append(res.Issues, fmt.Sprintf("filter rejected: %v", err))
		}
	}

	for _, col := range sortedMappingKeys(cmd.Mapping) {
		rule := cmd.Mapping[col]
		if err := rule.Validate(); err != nil {
			res.Issues = append(res.Issues, fmt.Sprintf("mapping for %q: %v", col, err))
			continue
		}
		if rule.Type == RuleExpression {
			if err := sqlguard.CheckExpression(rule.SQL); err != nil {
				res.Issues = append(res.Issues, fmt.Sprintf("mapping for %q: expression rejected: %v", col, err))
			}
		}
	}

	rawCol := cmd.RawPayload.Column()
	if rawCol != "" {
		if _, mapped := cmd.Mapping[rawCol]; mapped {
			res.Issues = append(res.Issues,
				fmt.Sprintf("raw payload column %q collides with a mapping rule", rawCol))
		}
	}

	targetCols, err := e.tgt.Columns(ctx, tgt.Schema, tgt.Table)
	if err != nil {
		return nil, err
	}
	if len(targetCols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTargetTableMissing, res.TargetSummary)
	}

	for _, tc := range targetCols {
		if tc.IsNullable || tc.HasDefault {
			continue
		}
		if _, mapped := cmd.Mapping[tc.Name]; mapped {
			continue
		}
		if tc.Name == rawCol {
			continue
		}
		res.MissingTargetColumns = append(res.MissingTargetColumns, tc.Name)
	}
	if len(res.MissingTargetColumns) > 0 {
		res.Issues = append(res.Issues,
			fmt.Sprintf("target columns with no mapping, no default, and NOT NULL: %v", res.MissingTargetColumns))
	}

	// The estimate is load-bearing: callers size the transfer decision on
	// it, so a failing count is a hard error rather than a soft issue.
	filter := cmd.Filter
	if hasFilterIssue(res.Issues) {
		filter = ""
	}
	count, err := e.src.CountRows(ctx, src.Database, src.Schema, src.Table, filter)
	if err != nil {
		return nil, err
	}
	res.EstimatedRows = &count

	res.OK = len(res.Issues) == 0
	return res, nil
}

// hasFilterIssue reports whether the filter itself was rejected; a
// rejected filter is never interpolated, not even for the row estimate.
func hasFilterIssue(issues []string) bool {
	for _, is := range issues {
		if strings.HasPrefix(is, "filter rejected") {
			return true
		}
	}
	return false
}

// sortedMappingKeys returns mapping keys in deterministic order.
func sortedMappingKeys(m map[string]MappingRule) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
