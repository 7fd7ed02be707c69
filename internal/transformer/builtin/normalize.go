package builtin

import (
	"strings"

	"tradepipe/internal/table"
)

const nbspace = "\u00a0"

// Normalize trims every non-null cell, replaces NO-BREAK SPACE with a plain
// space, and turns cells left blank into nulls.
type Normalize struct{}

func (Normalize) Apply(in table.Table) (table.Table, error) {
	out := table.Table{Schema: in.Schema, Rows: make([]table.Row, len(in.Rows))}
	for i, r := range in.Rows {
		nr := make(table.Row, len(r))
		for j, c := range r {
			if !c.Valid {
				continue
			}
			s := c.String
			if strings.Contains(s, nbspace) {
				s = strings.ReplaceAll(s, nbspace, " ")
			}
			if HasEdgeSpace(s) {
				s = strings.TrimSpace(s)
			}
			if s != "" {
				nr[j] = table.Str(s)
			}
		}
		out.Rows[i] = nr
	}
	return out, nil
}

// HasEdgeSpace reports whether s starts or ends with ASCII whitespace.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	isSpace := func(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}
