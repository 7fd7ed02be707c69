package builtin

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tradepipe/internal/schema"
	"tradepipe/internal/table"
	"tradepipe/internal/transformer"
)

// DefaultDateLayouts are tried in order when Coerce.DateLayouts is empty.
var DefaultDateLayouts = []string{schema.DateLayout, "02.01.2006", time.RFC3339}

// Coerce parses typed columns and rewrites them in canonical text form:
// decimals as decimal.Decimal.String(), dates as YYYY-MM-DD, ints in base 10.
// Rows with a value that does not parse, or a Positive column that is not
// greater than zero, are rejected. Nulls pass through untouched.
type Coerce struct {
	// Types maps column name to kind; string columns need no entry.
	Types map[string]schema.Kind

	// Positive lists decimal or int columns that must be > 0.
	Positive []string

	DateLayouts []string
	Reject      transformer.RejectFunc
}

// TypesOf returns the non-string kinds declared by c.
func TypesOf(c schema.Contract) map[string]schema.Kind {
	out := map[string]schema.Kind{}
	for _, f := range c.Fields {
		if f.Type != schema.KindString {
			out[f.Name] = f.Type
		}
	}
	return out
}

type coerceCol struct {
	idx      int
	name     string
	kind     schema.Kind
	positive bool
}

func (c Coerce) Apply(in table.Table) (table.Table, error) {
	positive := map[string]bool{}
	for _, p := range c.Positive {
		positive[p] = true
	}
	layouts := c.DateLayouts
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}

	var cols []coerceCol
	for _, f := range in.Schema.Fields {
		k, ok := c.Types[f.Name]
		if !ok || k == schema.KindString {
			continue
		}
		cols = append(cols, coerceCol{idx: in.Col(f.Name), name: f.Name, kind: k, positive: positive[f.Name]})
	}
	for name := range c.Types {
		if in.Col(name) < 0 {
			return table.Table{}, fmt.Errorf("coerce: %s has no column %q", in.Schema.Name, name)
		}
	}

	out := table.Empty(in.Schema)
rows:
	for _, row := range in.Rows {
		nr := row.Clone()
		for _, col := range cols {
			cell := row[col.idx]
			if !cell.Valid {
				continue
			}
			v, err := canonical(cell.String, col.kind, col.positive, layouts)
			if err != nil {
				c.Reject.Call("coerce", row, fmt.Sprintf("%s: %v", col.name, err))
				continue rows
			}
			nr[col.idx] = table.Str(v)
		}
		out.Rows = append(out.Rows, nr)
	}
	return out, nil
}

func canonical(s string, k schema.Kind, positive bool, layouts []string) (string, error) {
	switch k {
	case schema.KindDecimal:
		d, err := ParseDecimal(s)
		if err != nil {
			return "", err
		}
		if positive && !d.IsPositive() {
			return "", fmt.Errorf("%s is not positive", s)
		}
		return d.String(), nil
	case schema.KindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid integer %q", s)
		}
		if positive && n <= 0 {
			return "", fmt.Errorf("%s is not positive", s)
		}
		return strconv.FormatInt(n, 10), nil
	case schema.KindDate:
		t, err := ParseDate(s, layouts)
		if err != nil {
			return "", err
		}
		return t.Format(schema.DateLayout), nil
	default:
		return s, nil
	}
}

// ParseDecimal parses a plain decimal number. Exponent notation is refused so
// that quantities and prices keep their written precision.
func ParseDecimal(s string) (decimal.Decimal, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == 'e' || s[i] == 'E' {
			return decimal.Decimal{}, fmt.Errorf("invalid decimal %q", s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	return d, nil
}

// ParseDate tries each layout in turn. The calendar date is taken in the
// value's own offset for RFC3339 inputs.
func ParseDate(s string, layouts []string) (time.Time, error) {
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
