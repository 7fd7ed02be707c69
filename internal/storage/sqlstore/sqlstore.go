// Package sqlstore implements storage.Accessor over database/sql. The sqlite,
// mssql and mysql backends configure it with their dialect and the few statements
// that differ between them.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tradepipe/internal/ddl"
	"tradepipe/internal/layer"
	"tradepipe/internal/logging"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/storage"
	"tradepipe/internal/table"
)

// Queryer is the subset of *sql.DB and *sql.Tx used by Hooks.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Hooks hold the backend-specific parts of the publish protocol.
type Hooks struct {
	// TableExists reports whether the named table exists.
	TableExists func(ctx context.Context, q Queryer, name string) (bool, error)

	// LockManifestSQL selects the manifest row for (layer, dataset) and
	// locks it until the transaction ends. Defaults to the plain select.
	LockManifestSQL string

	// UpsertManifestSQL writes a manifest row. Its parameters follow
	// storage.ManifestColumns.
	UpsertManifestSQL string

	// Copy bulk-inserts rows into fqn inside tx. Defaults to a prepared
	// INSERT executed per row.
	Copy func(ctx context.Context, tx *sql.Tx, fqn string, columns []string, rows [][]any) (int64, error)

	// ReadIsolation is the isolation level of read transactions.
	ReadIsolation sql.IsolationLevel

	// DDLCommits marks engines where CREATE/DROP TABLE end the current
	// transaction. Snapshot tables are then created before the publish
	// transaction opens, and a contract change is refused instead of
	// dropping the live table.
	DDLCommits bool
}

// Store is a database/sql backed storage.Accessor.
type Store struct {
	db        *sql.DB
	dialect   ddl.Dialect
	prefix    string
	hooks     Hooks
	batchSize int
	log       *logrus.Entry

	now func() time.Time
}

var _ storage.Accessor = (*Store)(nil)

// New wraps db and creates the manifest table when it is missing.
func New(ctx context.Context, db *sql.DB, d ddl.Dialect, prefix string, batchSize int, h Hooks) (*Store, error) {
	if h.TableExists == nil || h.UpsertManifestSQL == "" {
		return nil, fmt.Errorf("sqlstore: TableExists and UpsertManifestSQL are required")
	}
	if h.LockManifestSQL == "" {
		h.LockManifestSQL = storage.SelectManifestSQL(d, prefix, "")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	s := &Store{
		db: db, dialect: d, prefix: prefix, hooks: h, batchSize: batchSize,
		log: logging.For("storage." + d.Name),
		now: time.Now,
	}
	if h.Copy == nil {
		s.hooks.Copy = s.insertRows
	}
	if err := s.ensureTable(ctx, db, storage.ManifestTableDef(prefix, d)); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Stat(ctx context.Context, l layer.Layer, dataset string) (storage.Manifest, error) {
	return s.manifest(ctx, s.db, storage.SelectManifestSQL(s.dialect, s.prefix, ""), l, dataset)
}

func (s *Store) Read(ctx context.Context, l layer.Layer, dataset string) (table.Table, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.hooks.ReadIsolation})
	if err != nil {
		return table.Table{}, pipeerr.IO("begin read", err)
	}
	defer tx.Rollback()

	m, err := s.manifest(ctx, tx, storage.SelectManifestSQL(s.dialect, s.prefix, ""), l, dataset)
	if err != nil {
		return table.Table{}, err
	}

	fqn := storage.SnapshotTable(s.prefix, l, dataset)
	rows, err := tx.QueryContext(ctx, storage.SelectSnapshotSQL(s.dialect, fqn, m.Schema), m.Version)
	if err != nil {
		return table.Table{}, pipeerr.IO("read "+fqn, err)
	}
	defer rows.Close()

	t, err := storage.ScanTable(rows, m.Schema)
	if err != nil {
		return table.Table{}, pipeerr.IO("scan "+fqn, err)
	}
	if t.Len() != m.Rows {
		return table.Table{}, pipeerr.IO("read "+fqn, fmt.Errorf("manifest says %d rows, table has %d", m.Rows, t.Len()))
	}
	if err := tx.Commit(); err != nil {
		return table.Table{}, pipeerr.IO("commit read", err)
	}
	return t, nil
}

func (s *Store) Write(ctx context.Context, l layer.Layer, dataset string, t table.Table, meta storage.WriteMeta) (storage.Manifest, error) {
	if err := storage.CheckWrite(l, dataset, t); err != nil {
		return storage.Manifest{}, err
	}

	def := storage.SnapshotTableDef(s.prefix, l, dataset, t.Schema, s.dialect)
	if s.hooks.DDLCommits {
		if err := s.ensureTable(ctx, s.db, def); err != nil {
			return storage.Manifest{}, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Manifest{}, pipeerr.IO("begin write", err)
	}
	defer tx.Rollback()

	// Lock the manifest row before touching data so readers holding it finish
	// first and later readers wait for this publish.
	prev, err := s.manifest(ctx, tx, s.hooks.LockManifestSQL, l, dataset)
	if err != nil && !errors.Is(err, pipeerr.ErrNotFound) {
		return storage.Manifest{}, err
	}
	m := storage.NextManifest(prev, l, dataset, t, meta, s.now())

	rec, err := m.Record()
	if err != nil {
		return storage.Manifest{}, err
	}
	if _, err := tx.ExecContext(ctx, s.hooks.UpsertManifestSQL, rec.Args()...); err != nil {
		return storage.Manifest{}, pipeerr.IO("upsert manifest", err)
	}

	switch {
	case prev.Version > 0 && !prev.Schema.Equal(t.Schema) && s.hooks.DDLCommits:
		return storage.Manifest{}, pipeerr.IO("publish "+def.FQN,
			fmt.Errorf("contract changed from columns %v; the table must be migrated offline", prev.Schema.Columns()))
	case prev.Version > 0 && !prev.Schema.Equal(t.Schema):
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+s.dialect.QuoteFQN(def.FQN)); err != nil {
			return storage.Manifest{}, pipeerr.IO("drop "+def.FQN, err)
		}
	}
	if !s.hooks.DDLCommits {
		if err := s.ensureTable(ctx, tx, def); err != nil {
			return storage.Manifest{}, err
		}
	}

	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		return s.hooks.Copy(ctx, tx, def.FQN, columns, rows)
	}
	if _, err := storage.LoadBatches(ctx, t, m.Version, s.batchSize, copyFn); err != nil {
		return storage.Manifest{}, pipeerr.IO("load "+def.FQN, err)
	}
	if _, err := tx.ExecContext(ctx, storage.DeleteOtherVersionsSQL(s.dialect, def.FQN), m.Version); err != nil {
		return storage.Manifest{}, pipeerr.IO("prune "+def.FQN, err)
	}
	if err := tx.Commit(); err != nil {
		return storage.Manifest{}, pipeerr.IO("commit write", err)
	}

	s.log.WithFields(logrus.Fields{
		"layer": l, "dataset": dataset, "rows": m.Rows, "version": m.Version,
	}).Debug("sqlstore: snapshot published")
	return m, nil
}

func (s *Store) manifest(ctx context.Context, q Queryer, query string, l layer.Layer, dataset string) (storage.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return storage.Manifest{}, err
	}
	var rec storage.ManifestRecord
	err := q.QueryRowContext(ctx, query, string(l), dataset).Scan(rec.Dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Manifest{}, storage.NotFound(l, dataset)
	}
	if err != nil {
		return storage.Manifest{}, pipeerr.IO("read manifest", err)
	}
	m, err := rec.Manifest()
	if err != nil {
		return storage.Manifest{}, pipeerr.IO("decode manifest", err)
	}
	return m, nil
}

func (s *Store) ensureTable(ctx context.Context, q Queryer, def ddl.TableDef) error {
	ok, err := s.hooks.TableExists(ctx, q, def.FQN)
	if err != nil {
		return pipeerr.IO("inspect "+def.FQN, err)
	}
	if ok {
		return nil
	}
	stmt, err := s.dialect.BuildCreateTableSQL(def)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return pipeerr.IO("create "+def.FQN, err)
	}
	return nil
}

// insertRows is the default Copy: a prepared INSERT executed once per row.
func (s *Store) insertRows(ctx context.Context, tx *sql.Tx, fqn string, columns []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, storage.InsertSQL(s.dialect, fqn, columns))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(columns) {
			return inserted, fmt.Errorf("row length %d != columns length %d", len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return inserted, fmt.Errorf("insert: %w", err)
		}
		inserted++
	}
	return inserted, nil
}
