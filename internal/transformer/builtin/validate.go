package builtin

import (
	"fmt"
	"strconv"
	"time"

	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
)

// Validate checks that a table satisfies Contract exactly: same schema, no
// null in required columns, and every typed cell already in canonical form.
// It never drops or repairs rows; the first violation is returned as a
// ConsistencyError. Stages run it on their own output before publishing.
type Validate struct {
	Contract schema.Contract
}

func (v Validate) Apply(in table.Table) (table.Table, error) {
	c := v.Contract
	if !in.Schema.Equal(c) {
		return table.Table{}, &pipeerr.ConsistencyError{Dataset: c.Name, Reason: fmt.Sprintf("schema %s does not match contract", in.Schema.Name)}
	}
	if err := in.Validate(); err != nil {
		return table.Table{}, &pipeerr.ConsistencyError{Dataset: c.Name, Reason: err.Error()}
	}
	keys := c.Keys()
	for i, row := range in.Rows {
		for j, f := range c.Fields {
			cell := row[j]
			if !cell.Valid {
				if f.Required {
					return table.Table{}, v.violation(in, i, keys, fmt.Sprintf("required column %s is null", f.Name))
				}
				continue
			}
			if err := checkCanonical(cell.String, f.Type); err != nil {
				return table.Table{}, v.violation(in, i, keys, fmt.Sprintf("%s: %v", f.Name, err))
			}
		}
	}
	return in, nil
}

func (v Validate) violation(t table.Table, i int, keys []string, reason string) error {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		idx = append(idx, t.MustCol(k))
	}
	return &pipeerr.ConsistencyError{Dataset: v.Contract.Name, Key: displayKey(t.Rows[i], idx), Reason: reason}
}

func checkCanonical(s string, k schema.Kind) error {
	switch k {
	case schema.KindDecimal:
		d, err := ParseDecimal(s)
		if err != nil {
			return err
		}
		if d.String() != s {
			return fmt.Errorf("decimal %q is not canonical", s)
		}
	case schema.KindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || strconv.FormatInt(n, 10) != s {
			return fmt.Errorf("integer %q is not canonical", s)
		}
	case schema.KindDate:
		if _, err := time.Parse(schema.DateLayout, s); err != nil {
			return fmt.Errorf("date %q is not %s", s, schema.DateLayout)
		}
	}
	return nil
}
