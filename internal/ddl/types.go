package ddl

import "tradepipe/internal/schema"

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., TEXT, NVARCHAR(MAX))
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression (e.g., CURRENT_TIMESTAMP)
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the fully-qualified table name (FQN) and an ordered list of
// columns. The FQN is expected in dotted form (e.g., "schema.table") and is
// quoted per segment by the dialect at render time.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// FromContract derives the data columns of a snapshot table from a dataset
// contract.
//
// Every column is nullable and uses the dialect's text type: cells are
// persisted in their canonical text form so a round trip through any backend
// is byte-exact. Keys are not enforced here since the raw layer may legally
// hold duplicates; backends add their own bookkeeping columns and key.
func FromContract(c schema.Contract, fqn string, d Dialect) TableDef {
	def := TableDef{FQN: fqn, Columns: make([]ColumnDef, 0, len(c.Fields))}
	for _, f := range c.Fields {
		def.Columns = append(def.Columns, ColumnDef{
			Name:     f.Name,
			SQLType:  d.TextType,
			Nullable: true,
		})
	}
	return def
}
