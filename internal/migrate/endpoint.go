// Package migrate implements the cross-database transfer core: declarative
// batch migration commands (validate + run) and the watermark-based
// incremental sync engine. It talks to the two databases through the
// SourceClient and TargetClient interfaces so the pieces stay testable
// without live connections.
package migrate

import "strings"

// Kind identifies which of the two supported database families an
// endpoint refers to.
type Kind string

const (
	// KindSource is the SQL-Server-family side.
	KindSource Kind = "source_sql"
	// KindTarget is the Postgres-family side.
	KindTarget Kind = "target_sql"
)

// Endpoint is a loosely specified (database, schema, table) triple.
type Endpoint struct {
	Kind     Kind   `yaml:"db_kind" json:"db_kind"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	Schema   string `yaml:"schema,omitempty" json:"schema,omitempty"`
	Table    string `yaml:"table" json:"table"`
}

// defaultSchema returns the dialect default schema for the endpoint kind.
func (k Kind) defaultSchema() string {
	if k == KindTarget {
		return "public"
	}
	return "dbo"
}

// NormalizeEndpoint resolves an endpoint into fully qualified form.
// If no schema was given and the table carries a "schema.table" prefix,
// the table is split on the first dot; otherwise the dialect default
// applies. The database falls back to defaultDatabase when absent.
// Pure best-effort data transformation; garbage in, normalized out.
func NormalizeEndpoint(e Endpoint, defaultDatabase string) Endpoint {
	out := e
	if out.Schema == "" {
		if before, after, found := strings.Cut(out.Table, "."); found {
			out.Schema = before
			out.Table = after
		} else {
			out.Schema = out.Kind.defaultSchema()
		}
	}
	if out.Database == "" {
		out.Database = defaultDatabase
	}
	return out
}
