package storage

// Helpers shared by the SQL backends.
//
// Each (layer, dataset) maps to one table holding versioned rows: the
// contract's columns plus VersionColumn and RowColumn. A publish inserts the
// rows of version N+1, bumps the manifest row, and deletes every other
// version, all in one transaction. Readers read the manifest and then only
// the rows of the version it names, inside a single read transaction.

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradepipe/internal/ddl"
	"tradepipe/internal/layer"
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
)

const (
	DefaultTablePrefix = "tp_"

	VersionColumn = "_version"
	RowColumn     = "_row"
)

// ManifestColumns is the column order of the manifest table.
var ManifestColumns = []string{
	"layer", "dataset", "version", "rows", "fingerprint", "schema_json", "run_id", "published_at",
}

func prefixOr(prefix string) string {
	if prefix == "" {
		return DefaultTablePrefix
	}
	return prefix
}

// SnapshotTable returns the table name holding dataset rows in l.
func SnapshotTable(prefix string, l layer.Layer, dataset string) string {
	return prefixOr(prefix) + string(l) + "_" + strings.ToLower(dataset)
}

// ManifestTable returns the manifest table name.
func ManifestTable(prefix string) string { return prefixOr(prefix) + "manifest" }

// SnapshotTableDef returns the DDL model of a snapshot table.
func SnapshotTableDef(prefix string, l layer.Layer, dataset string, c schema.Contract, d ddl.Dialect) ddl.TableDef {
	def := ddl.FromContract(c, SnapshotTable(prefix, l, dataset), d)
	def.Columns = append(def.Columns,
		ddl.ColumnDef{Name: VersionColumn, SQLType: d.IntType, PrimaryKey: true},
		ddl.ColumnDef{Name: RowColumn, SQLType: d.IntType, PrimaryKey: true},
	)
	return def
}

// ManifestTableDef returns the DDL model of the manifest table.
func ManifestTableDef(prefix string, d ddl.Dialect) ddl.TableDef {
	return ddl.TableDef{
		FQN: ManifestTable(prefix),
		Columns: []ddl.ColumnDef{
			{Name: "layer", SQLType: d.KeyType, PrimaryKey: true},
			{Name: "dataset", SQLType: d.KeyType, PrimaryKey: true},
			{Name: "version", SQLType: d.IntType},
			{Name: "rows", SQLType: d.IntType},
			{Name: "fingerprint", SQLType: d.KeyType},
			{Name: "schema_json", SQLType: d.TextType},
			{Name: "run_id", SQLType: d.KeyType},
			{Name: "published_at", SQLType: d.KeyType},
		},
	}
}

// ManifestRecord is a Manifest flattened into SQL-friendly scalars.
type ManifestRecord struct {
	Layer       string
	Dataset     string
	Version     int64
	Rows        int64
	Fingerprint string
	SchemaJSON  string
	RunID       string
	PublishedAt string
}

// Record flattens m.
func (m Manifest) Record() (ManifestRecord, error) {
	blob, err := json.Marshal(m.Schema)
	if err != nil {
		return ManifestRecord{}, fmt.Errorf("encode schema: %w", err)
	}
	return ManifestRecord{
		Layer:       string(m.Layer),
		Dataset:     m.Dataset,
		Version:     m.Version,
		Rows:        int64(m.Rows),
		Fingerprint: strconv.FormatUint(m.Fingerprint, 10),
		SchemaJSON:  string(blob),
		RunID:       m.RunID,
		PublishedAt: m.PublishedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// Args returns r's values in ManifestColumns order.
func (r ManifestRecord) Args() []any {
	return []any{r.Layer, r.Dataset, r.Version, r.Rows, r.Fingerprint, r.SchemaJSON, r.RunID, r.PublishedAt}
}

// Dest returns scan destinations in ManifestColumns order.
func (r *ManifestRecord) Dest() []any {
	return []any{&r.Layer, &r.Dataset, &r.Version, &r.Rows, &r.Fingerprint, &r.SchemaJSON, &r.RunID, &r.PublishedAt}
}

// Manifest rebuilds the manifest from r.
func (r ManifestRecord) Manifest() (Manifest, error) {
	l, err := layer.Parse(r.Layer)
	if err != nil {
		return Manifest{}, err
	}
	var c schema.Contract
	if err := json.Unmarshal([]byte(r.SchemaJSON), &c); err != nil {
		return Manifest{}, fmt.Errorf("decode schema: %w", err)
	}
	fp, err := strconv.ParseUint(r.Fingerprint, 10, 64)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode fingerprint: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, r.PublishedAt)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode published_at: %w", err)
	}
	return Manifest{
		Layer:       l,
		Dataset:     r.Dataset,
		Schema:      c,
		Rows:        int(r.Rows),
		Fingerprint: fp,
		Version:     r.Version,
		RunID:       r.RunID,
		PublishedAt: at,
	}, nil
}

// RowScanner is satisfied by *sql.Rows and pgx.Rows.
type RowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// nullText scans a nullable text column into a Cell. It accepts the types
// the supported drivers hand back for text columns.
type nullText struct{ c *table.Cell }

func (n nullText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n.c = table.Null()
	case string:
		*n.c = table.Str(v)
	case []byte:
		*n.c = table.Str(string(v))
	default:
		return fmt.Errorf("unsupported cell type %T", src)
	}
	return nil
}

// ScanTable drains rs into a table of contract c. The query must select the
// contract columns in order.
func ScanTable(rs RowScanner, c schema.Contract) (table.Table, error) {
	out := table.Empty(c)
	for rs.Next() {
		row := make(table.Row, len(c.Fields))
		dest := make([]any, len(row))
		for i := range row {
			dest[i] = nullText{c: &row[i]}
		}
		if err := rs.Scan(dest...); err != nil {
			return table.Table{}, err
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rs.Err(); err != nil {
		return table.Table{}, err
	}
	return out, nil
}

// SelectSnapshotSQL renders the query reading one version of a snapshot.
func SelectSnapshotSQL(d ddl.Dialect, fqn string, c schema.Contract) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		strings.Join(d.QuoteAll(c.Columns()), ", "),
		d.QuoteFQN(fqn),
		d.QuoteIdent(VersionColumn), d.Bind(1),
		d.QuoteIdent(RowColumn),
	)
}

// SelectManifestSQL renders the manifest lookup for (layer, dataset).
func SelectManifestSQL(d ddl.Dialect, prefix, suffix string) string {
	return strings.TrimSpace(fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s %s",
		strings.Join(d.QuoteAll(ManifestColumns), ", "),
		d.QuoteFQN(ManifestTable(prefix)),
		d.QuoteIdent("layer"), d.Bind(1),
		d.QuoteIdent("dataset"), d.Bind(2),
		suffix,
	))
}

// DeleteOtherVersionsSQL renders the statement dropping superseded rows.
func DeleteOtherVersionsSQL(d ddl.Dialect, fqn string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s <> %s",
		d.QuoteFQN(fqn), d.QuoteIdent(VersionColumn), d.Bind(1))
}

// InsertSQL renders a single-row INSERT for columns.
func InsertSQL(d ddl.Dialect, fqn string, columns []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteFQN(fqn),
		strings.Join(d.QuoteAll(columns), ", "),
		strings.Join(d.Binds(1, len(columns)), ", "),
	)
}
