// Package builtin contains the table transformers used by the cleaner.
package builtin

import (
	"fmt"

	"tradepipe/internal/table"
	"tradepipe/internal/transformer"
)

// Require removes any row with a null in one of Fields.
type Require struct {
	Fields []string
	Reject transformer.RejectFunc
}

// Apply returns a new table with only the rows that have every required
// field present. A field missing from the schema is an error.
func (r Require) Apply(in table.Table) (table.Table, error) {
	idx := make([]int, len(r.Fields))
	for i, f := range r.Fields {
		if idx[i] = in.Col(f); idx[i] < 0 {
			return table.Table{}, fmt.Errorf("require: %s has no column %q", in.Schema.Name, f)
		}
	}

	out := table.Empty(in.Schema)
	for _, row := range in.Rows {
		missing := ""
		for i, c := range idx {
			if !row[c].Valid {
				missing = r.Fields[i]
				break
			}
		}
		if missing != "" {
			r.Reject.Call("require", row, "null "+missing)
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
