package builtin

import (
	"fmt"
	"strings"

	"tradepipe/internal/pipeerr"
	"tradepipe/internal/table"
	"tradepipe/internal/transformer"
)

const (
	PolicyRejectConflict = "reject-conflict"
	PolicyKeepFirst      = "keep-first"
	PolicyKeepLast       = "keep-last"
)

// DeDup collapses rows that share a key. Rows that are identical in every
// column are always collapsed to their first occurrence. Rows that share a key
// but differ elsewhere are resolved by Policy:
//
//   - "reject-conflict": fail with a ConsistencyError (default)
//   - "keep-first"     : keep the earliest row
//   - "keep-last"      : keep the latest row, at the earliest row's position
//
// Output keeps first-occurrence order. A null key cell is a key value of its
// own, so rows with null keys are only collapsed with each other, unless
// SkipNullKeys passes them through untouched.
type DeDup struct {
	// Keys are the column names that form the business key.
	Keys   []string
	Policy string

	// SkipNullKeys keeps every row with a null key cell as is.
	SkipNullKeys bool

	Reject transformer.RejectFunc
}

func (d DeDup) Apply(in table.Table) (table.Table, error) {
	if len(d.Keys) == 0 {
		return table.Table{}, fmt.Errorf("dedup: %s: no key columns", in.Schema.Name)
	}
	idx := make([]int, len(d.Keys))
	for i, k := range d.Keys {
		if idx[i] = in.Col(k); idx[i] < 0 {
			return table.Table{}, fmt.Errorf("dedup: %s has no column %q", in.Schema.Name, k)
		}
	}
	policy := strings.ToLower(strings.TrimSpace(d.Policy))
	switch policy {
	case "":
		policy = PolicyRejectConflict
	case PolicyRejectConflict, PolicyKeepFirst, PolicyKeepLast:
	default:
		return table.Table{}, fmt.Errorf("dedup: unknown policy %q", d.Policy)
	}

	out := table.Empty(in.Schema)
	pos := make(map[string]int, len(in.Rows))
	var b strings.Builder
	for _, row := range in.Rows {
		if d.SkipNullKeys && hasNull(row, idx) {
			out.Rows = append(out.Rows, row)
			continue
		}
		b.Reset()
		for i, c := range idx {
			if i > 0 {
				b.WriteByte('\x1f')
			}
			if !row[c].Valid {
				b.WriteByte('\x00')
				continue
			}
			b.WriteString(row[c].String)
		}
		key := b.String()

		at, seen := pos[key]
		if !seen {
			pos[key] = len(out.Rows)
			out.Rows = append(out.Rows, row)
			continue
		}
		prev := out.Rows[at]
		if sameRow(prev, row) {
			d.Reject.Call("dedup", row, "duplicate row")
			continue
		}
		switch policy {
		case PolicyKeepFirst:
			d.Reject.Call("dedup", row, "superseded by earlier row")
		case PolicyKeepLast:
			d.Reject.Call("dedup", prev, "superseded by later row")
			out.Rows[at] = row
		default:
			return table.Table{}, &pipeerr.ConsistencyError{
				Dataset: in.Schema.Name,
				Key:     displayKey(row, idx),
				Reason:  "conflicting rows share the same key",
			}
		}
	}
	return out, nil
}

func hasNull(row table.Row, idx []int) bool {
	for _, c := range idx {
		if !row[c].Valid {
			return true
		}
	}
	return false
}

func sameRow(a, b table.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func displayKey(row table.Row, idx []int) string {
	parts := make([]string, len(idx))
	for i, c := range idx {
		if row[c].Valid {
			parts[i] = row[c].String
		} else {
			parts[i] = "<null>"
		}
	}
	return strings.Join(parts, ",")
}
