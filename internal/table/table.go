// Package table holds the in-memory representation of a layer snapshot: a
// schema contract plus positional rows of nullable text cells.
//
// Tables are values. Stages never mutate an input table; they build new rows
// and return a new Table, which keeps every stage a pure function of its
// inputs.
package table

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"

	"tradepipe/internal/schema"
)

// Cell is a nullable text value. The zero Cell is null.
type Cell struct {
	String string
	Valid  bool
}

// Str returns a non-null cell.
func Str(s string) Cell { return Cell{String: s, Valid: true} }

// Null returns a null cell.
func Null() Cell { return Cell{} }

// Row is a positional row aligned with the table's contract fields.
type Row []Cell

// Clone returns a copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Table is a full snapshot of one dataset.
type Table struct {
	Schema schema.Contract
	Rows   []Row
}

// New returns a table after checking every row has the contract's width.
func New(c schema.Contract, rows []Row) (Table, error) {
	t := Table{Schema: c, Rows: rows}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Empty returns a table with no rows.
func Empty(c schema.Contract) Table { return Table{Schema: c} }

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Col returns the index of the named column, or -1.
func (t Table) Col(name string) int { return t.Schema.Index(name) }

// MustCol is Col for names the caller knows are in the contract.
func (t Table) MustCol(name string) int {
	i := t.Col(name)
	if i < 0 {
		panic(fmt.Sprintf("table %s: no column %q", t.Schema.Name, name))
	}
	return i
}

// Get returns the named cell of row i; a missing column reads as null.
func (t Table) Get(i int, name string) Cell {
	c := t.Col(name)
	if c < 0 || i < 0 || i >= len(t.Rows) {
		return Cell{}
	}
	return t.Rows[i][c]
}

// Validate checks that every row matches the schema width.
func (t Table) Validate() error {
	w := len(t.Schema.Fields)
	for i, r := range t.Rows {
		if len(r) != w {
			return fmt.Errorf("table %s: row %d has %d cells, schema has %d", t.Schema.Name, i, len(r), w)
		}
	}
	return nil
}

// Clone returns a deep copy of t.
func (t Table) Clone() Table {
	out := Table{Schema: t.Schema, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// SortedBy returns a copy of t with rows ordered by the named columns
// (lexicographic on text, nulls first). Ties keep their input order.
func (t Table) SortedBy(cols ...string) Table {
	idx := make([]int, 0, len(cols))
	for _, c := range cols {
		if i := t.Col(c); i >= 0 {
			idx = append(idx, i)
		}
	}
	out := Table{Schema: t.Schema, Rows: make([]Row, len(t.Rows))}
	copy(out.Rows, t.Rows)
	sort.SliceStable(out.Rows, func(a, b int) bool {
		for _, i := range idx {
			ca, cb := out.Rows[a][i], out.Rows[b][i]
			if ca == cb {
				continue
			}
			if !ca.Valid || !cb.Valid {
				return !ca.Valid
			}
			return ca.String < cb.String
		}
		return false
	})
	return out
}

// Fingerprint returns an xxh3 hash of the schema and every cell in row
// order. Two tables with equal fingerprints are, for all practical purposes,
// byte-identical snapshots.
func (t Table) Fingerprint() uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(t.Schema.Name)
	for _, f := range t.Schema.Fields {
		_, _ = h.WriteString("\x1f" + f.Name + ":" + string(f.Type))
	}
	var lenBuf [20]byte
	for _, r := range t.Rows {
		_, _ = h.WriteString("\x1e")
		for _, c := range r {
			if !c.Valid {
				_, _ = h.WriteString("\x00")
				continue
			}
			// Length-prefix so ("ab","c") and ("a","bc") differ.
			_, _ = h.Write(strconv.AppendInt(lenBuf[:0], int64(len(c.String)), 10))
			_, _ = h.WriteString(":" + c.String)
		}
	}
	return h.Sum64()
}

// Equal reports whether a and b have equal schemas and identical rows.
func Equal(a, b Table) bool {
	if !a.Schema.Equal(b.Schema) || len(a.Rows) != len(b.Rows) {
		return false
	}
	for i := range a.Rows {
		if len(a.Rows[i]) != len(b.Rows[i]) {
			return false
		}
		for j := range a.Rows[i] {
			if a.Rows[i][j] != b.Rows[i][j] {
				return false
			}
		}
	}
	return true
}
