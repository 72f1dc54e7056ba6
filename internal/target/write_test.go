package target

import "testing"

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"users", `"users"`},
		{"order details", `"order details"`},
		{`weird"name`, `"weird""name"`},
	}
	for _, tt := range tests {
		if got := QuoteIdent(tt.in); got != tt.want {
			t.Errorf("QuoteIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Run("with conflict column", func(t *testing.T) {
		got := BuildInsertSQL(InsertSpec{
			Schema:         "public",
			Table:          "users",
			Columns:        []string{"id", "name"},
			ConflictColumn: "id",
		})
		want := `INSERT INTO "public"."users" ("id", "name") VALUES ($1, $2) ON CONFLICT ("id") DO NOTHING`
		if got != want {
			t.Errorf("got %q\nwant %q", got, want)
		}
	})

	t.Run("without conflict column", func(t *testing.T) {
		got := BuildInsertSQL(InsertSpec{
			Schema:  "public",
			Table:   "users",
			Columns: []string{"id"},
		})
		want := `INSERT INTO "public"."users" ("id") VALUES ($1)`
		if got != want {
			t.Errorf("got %q\nwant %q", got, want)
		}
	})
}
