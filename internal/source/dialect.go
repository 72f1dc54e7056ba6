package source

import (
	"fmt"
	"strings"
)

// QuoteIdent safely quotes a SQL Server identifier, escaping embedded ].
func QuoteIdent(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

// QualifyTable returns [schema].[table], prefixed with [database] when set.
func QualifyTable(database, schema, table string) string {
	if database != "" {
		return QuoteIdent(database) + "." + QuoteIdent(schema) + "." + QuoteIdent(table)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// catalogPrefix returns the prefix for INFORMATION_SCHEMA / sys queries
// against a specific database. Empty database means the connection default.
func catalogPrefix(database string) string {
	if database == "" {
		return ""
	}
	return QuoteIdent(database) + "."
}

// SelectExpr is one item of a SELECT list: a raw source-side SQL expression
// and the alias it is returned under.
type SelectExpr struct {
	SQL   string
	Alias string
}

// FetchSpec describes one paginated read against a source table.
//
// Filter is interpolated as-is; callers are responsible for vetting it
// (see the sqlguard package). PKAfter, when set, adds a bound-parameter
// predicate on PKColumn instead.
type FetchSpec struct {
	Database string
	Schema   string
	Table    string
	Columns  []string     // plain column selects, bracketed by the builder
	Extras   []SelectExpr // raw expressions with aliases
	Filter   string       // raw WHERE fragment (batch migration path)
	PKColumn string       // watermark predicate column (sync path)
	PKAfter  *int64       // watermark value; nil disables the predicate
	OrderBy  string       // column name; defaults to the first plain column
	Offset   int
	Limit    int
}

// buildFetchQuery renders the OFFSET/FETCH pagination query for a spec.
// Offset and limit travel as named parameters.
func buildFetchQuery(s FetchSpec) string {
	var sel []string
	for _, c := range s.Columns {
		sel = append(sel, QuoteIdent(c))
	}
	for _, e := range s.Extras {
		sel = append(sel, fmt.Sprintf("%s AS %s", e.SQL, QuoteIdent(e.Alias)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(sel, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(QualifyTable(s.Database, s.Schema, s.Table))

	var where []string
	if s.Filter != "" {
		where = append(where, "("+s.Filter+")")
	}
	if s.PKColumn != "" && s.PKAfter != nil {
		where = append(where, QuoteIdent(s.PKColumn)+" > @watermark")
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	orderBy := s.OrderBy
	if orderBy == "" && len(s.Columns) > 0 {
		orderBy = s.Columns[0]
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(QuoteIdent(orderBy))
	sb.WriteString(" OFFSET @offset ROWS FETCH NEXT @limit ROWS ONLY")

	return sb.String()
}
