// Package transformer defines the table-to-table steps the cleaner chains
// together. Implementations live in transformer/builtin.
package transformer

import "tradepipe/internal/table"

// Transformer maps one table to a new table. The input must not be mutated.
// A returned error aborts the chain; row-level drops are reported through
// each step's Reject hook instead.
type Transformer interface {
	Apply(in table.Table) (table.Table, error)
}

// Rejected describes a row a step dropped.
type Rejected struct {
	Step   string
	Row    table.Row
	Reason string
}

// RejectFunc receives dropped rows. A nil RejectFunc discards them.
type RejectFunc func(Rejected)

// Call invokes f when it is non-nil.
func (f RejectFunc) Call(step string, row table.Row, reason string) {
	if f != nil {
		f(Rejected{Step: step, Row: row, Reason: reason})
	}
}

// Chain is an ordered list of transformers.
type Chain []Transformer

// Apply runs each step on the previous step's output.
func (c Chain) Apply(in table.Table) (table.Table, error) {
	out := in
	for _, t := range c {
		var err error
		if out, err = t.Apply(out); err != nil {
			return table.Table{}, err
		}
	}
	return out, nil
}

// Func adapts a plain function to Transformer.
type Func func(table.Table) (table.Table, error)

func (f Func) Apply(in table.Table) (table.Table, error) { return f(in) }

// Counter tallies rejected rows per step.
type Counter map[string]int

// Record returns a RejectFunc that counts into c and then calls next.
func (c Counter) Record(next RejectFunc) RejectFunc {
	return func(r Rejected) {
		c[r.Step]++
		next.Call(r.Step, r.Row, r.Reason)
	}
}
