package builtin

import (
	"fmt"

	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
	"tradepipe/internal/transformer"
)

// InnerJoin joins the input (left) table with Right on the On column. Left
// rows whose key is null or has no match in Right are rejected. The output
// has the Output contract; each output column is taken from the left row when
// the left schema has it, otherwise from the matched right row.
//
// Right must hold at most one row per key; a repeated right key is a
// ConsistencyError since the join would multiply left rows.
type InnerJoin struct {
	Right  table.Table
	On     string
	Output schema.Contract
	Reject transformer.RejectFunc
}

func (j InnerJoin) Apply(in table.Table) (table.Table, error) {
	lk, rk := in.Col(j.On), j.Right.Col(j.On)
	if lk < 0 || rk < 0 {
		return table.Table{}, fmt.Errorf("join: %q missing from %s or %s", j.On, in.Schema.Name, j.Right.Schema.Name)
	}

	type src struct {
		right bool
		idx   int
	}
	plan := make([]src, len(j.Output.Fields))
	for i, f := range j.Output.Fields {
		if c := in.Col(f.Name); c >= 0 {
			plan[i] = src{idx: c}
			continue
		}
		c := j.Right.Col(f.Name)
		if c < 0 {
			return table.Table{}, fmt.Errorf("join: output column %q found in neither %s nor %s", f.Name, in.Schema.Name, j.Right.Schema.Name)
		}
		plan[i] = src{right: true, idx: c}
	}

	index := make(map[string]table.Row, len(j.Right.Rows))
	for _, r := range j.Right.Rows {
		k := r[rk]
		if !k.Valid {
			continue
		}
		if _, dup := index[k.String]; dup {
			return table.Table{}, &pipeerr.ConsistencyError{
				Dataset: j.Right.Schema.Name,
				Key:     k.String,
				Reason:  "join key is not unique",
			}
		}
		index[k.String] = r
	}

	out := table.Empty(j.Output)
	for _, l := range in.Rows {
		k := l[lk]
		if !k.Valid {
			j.Reject.Call("join", l, "null "+j.On)
			continue
		}
		r, ok := index[k.String]
		if !ok {
			j.Reject.Call("join", l, fmt.Sprintf("no %s with %s=%s", j.Right.Schema.Name, j.On, k.String))
			continue
		}
		row := make(table.Row, len(plan))
		for i, p := range plan {
			if p.right {
				row[i] = r[p.idx]
			} else {
				row[i] = l[p.idx]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
