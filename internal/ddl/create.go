// Package ddl defines a small, backend-agnostic model for SQL DDL and the
// helpers to render CREATE TABLE statements from it.
//
// A Dialect carries what differs between the supported SQL backends:
// identifier quoting, bind placeholders, and the column types used for text,
// short keys, and integers.
// ColumnDef.Default is emitted as raw SQL; the caller is responsible for its
// safety and dialect correctness.
package ddl

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect describes how a backend quotes identifiers and stores text.
type Dialect struct {
	Name string

	// TextType holds cell values and other unbounded text.
	TextType string
	// KeyType holds short identifiers that take part in a primary key.
	KeyType string
	IntType string

	// QuoteIdent quotes a single identifier segment.
	QuoteIdent func(string) string
	// Bind returns the placeholder for the 1-based parameter i.
	Bind func(i int) string
}

var (
	SQLite = Dialect{
		Name: "sqlite", TextType: "TEXT", KeyType: "TEXT", IntType: "INTEGER",
		QuoteIdent: quoteANSI, Bind: func(int) string { return "?" },
	}
	Postgres = Dialect{
		Name: "postgres", TextType: "TEXT", KeyType: "TEXT", IntType: "BIGINT",
		QuoteIdent: quoteANSI, Bind: func(i int) string { return "$" + strconv.Itoa(i) },
	}
	MSSQL = Dialect{
		Name: "mssql", TextType: "NVARCHAR(MAX)", KeyType: "NVARCHAR(128)", IntType: "BIGINT",
		QuoteIdent: quoteBracket, Bind: func(i int) string { return "@p" + strconv.Itoa(i) },
	}
	// MySQL keys are VARCHAR(191) so a composite utf8mb4 key fits the index limit.
	MySQL = Dialect{
		Name: "mysql", TextType: "LONGTEXT", KeyType: "VARCHAR(191)", IntType: "BIGINT",
		QuoteIdent: quoteBacktick, Bind: func(int) string { return "?" },
	}
)

// Binds returns n placeholders starting at parameter from.
func (d Dialect) Binds(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.Bind(from + i)
	}
	return out
}

// QuoteFQN quotes a possibly schema-qualified name segment by segment:
//
//	"dbo.Users" -> [dbo].[Users]   (MSSQL)
//	"main.t"    -> "main"."t"      (SQLite)
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.QuoteIdent(p))
	}
	return strings.Join(out, ".")
}

// QuoteAll quotes each identifier in names.
func (d Dialect) QuoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return out
}

// BuildCreateTableSQL renders a CREATE TABLE statement for t.
//
// Rules:
//
//   - t.FQN must be non-empty.
//
//   - Each column must have a non-empty Name and SQLType.
//
//   - A column is rendered as:
//
//     <Name> <SQLType> [NOT NULL] [DEFAULT <Default>]
//
//   - Columns with PrimaryKey == true are collected into a trailing
//     PRIMARY KEY (...) clause.
//
// The statement carries no IF NOT EXISTS guard; backends check for the table
// first since T-SQL has no such clause.
func (d Dialect) BuildCreateTableSQL(t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s ddl: table FQN must not be empty", d.Name)
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s ddl: at least one column is required", d.Name)
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("%s ddl: column with empty name in table %s", d.Name, fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("%s ddl: column %s missing SQLType", d.Name, name)
		}

		var sb strings.Builder
		sb.WriteString(d.QuoteIdent(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)

		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}

		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.QuoteIdent(name))
		}
	}

	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	return fmt.Sprintf(
		"CREATE TABLE %s (\n  %s\n);",
		d.QuoteFQN(fqn),
		strings.Join(cols, ",\n  "),
	), nil
}

func quoteANSI(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func quoteBracket(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func quoteBacktick(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}
