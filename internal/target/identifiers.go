package target

import "strings"

// QuoteIdent safely quotes a PostgreSQL identifier, escaping embedded quotes.
func QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QualifyTable returns "schema"."table".
func QualifyTable(schema, table string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}
