// Package schema defines the typed column contracts of every dataset the
// pipeline reads or writes.
//
// A Contract is the schema that travels with a table through each layer: the
// ingestor uses it to map header columns, the cleaner uses Required/Type to
// decide which rows survive, and storage backends derive their DDL and
// columnar schemas from it.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the logical type of a column. Cell values are always stored in the
// canonical text form of their kind.
type Kind string

const (
	KindString  Kind = "string"
	KindDecimal Kind = "decimal"
	KindDate    Kind = "date"
	KindInt     Kind = "int"
)

// DateLayout is the canonical layout of KindDate cells.
const DateLayout = "2006-01-02"

// Field describes one column of a dataset.
type Field struct {
	Name string `json:"name"`
	Type Kind   `json:"type"`

	// Required marks columns that participate in cleaning, joining, or
	// aggregation; such columns may never hold null past the raw layer.
	Required bool `json:"required,omitempty"`

	// Key marks the columns forming the dataset's unique key.
	Key bool `json:"key,omitempty"`
}

// Contract is an ordered list of fields plus the dataset name.
type Contract struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Columns returns field names in contract order.
func (c Contract) Columns() []string {
	out := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of the named field, or -1.
func (c Contract) Index(name string) int {
	for i, f := range c.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Field returns the named field.
func (c Contract) Field(name string) (Field, bool) {
	if i := c.Index(name); i >= 0 {
		return c.Fields[i], true
	}
	return Field{}, false
}

// Required returns the names of required fields in contract order.
func (c Contract) Required() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Keys returns the names of key fields in contract order.
func (c Contract) Keys() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Key {
			out = append(out, f.Name)
		}
	}
	return out
}

// Equal reports whether two contracts describe the same columns in the same
// order with the same types.
func (c Contract) Equal(o Contract) bool {
	if c.Name != o.Name || len(c.Fields) != len(o.Fields) {
		return false
	}
	for i := range c.Fields {
		if c.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

// Validate checks structural sanity: a name, at least one field, unique
// non-empty field names, and known kinds.
func (c Contract) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("schema: contract name must not be empty")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("schema %s: at least one field is required", c.Name)
	}
	seen := make(map[string]struct{}, len(c.Fields))
	for i, f := range c.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema %s: field[%d] has empty name", c.Name, i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema %s: duplicate field %q", c.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case KindString, KindDecimal, KindDate, KindInt:
		default:
			return fmt.Errorf("schema %s: field %q has unknown type %q", c.Name, f.Name, f.Type)
		}
	}
	return nil
}
