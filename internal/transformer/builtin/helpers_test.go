package builtin

import (
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
	"tradepipe/internal/transformer"
)

// row builds a table.Row where "" means null.
func row(vals ...string) table.Row {
	r := make(table.Row, len(vals))
	for i, v := range vals {
		if v != "" {
			r[i] = table.Str(v)
		}
	}
	return r
}

func trades(rows ...table.Row) table.Table {
	return table.Table{Schema: schema.Trade, Rows: rows}
}

func clients(rows ...table.Row) table.Table {
	return table.Table{Schema: schema.Client, Rows: rows}
}

// collect returns a RejectFunc appending into *dst.
func collect(dst *[]transformer.Rejected) transformer.RejectFunc {
	return func(r transformer.Rejected) { *dst = append(*dst, r) }
}
