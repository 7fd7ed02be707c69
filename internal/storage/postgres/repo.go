// Package postgres implements a Postgres storage.Accessor using pgx v5.
// Snapshot rows are loaded with COPY inside the publish transaction and read
// back inside a REPEATABLE READ transaction, so a reader always sees one
// consistent manifest and its rows.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"tradepipe/internal/ddl"
	"tradepipe/internal/layer"
	"tradepipe/internal/logging"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/storage"
	"tradepipe/internal/table"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN         string // connection string for pgxpool
	TablePrefix string
	BatchSize   int
}

// Repository is a Postgres-backed storage.Accessor.
type Repository struct {
	pool  *pgxpool.Pool
	cfg   Config
	d     ddl.Dialect
	log   *logrus.Entry
	now   func() time.Time
	batch int
}

var _ storage.Accessor = (*Repository)(nil)

// querier is the subset of pgxpool.Pool and pgx.Tx used for manifest reads
// and DDL.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewRepository connects and creates the manifest table when missing.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	r := &Repository{
		pool:  pool,
		cfg:   cfg,
		d:     ddl.Postgres,
		log:   logging.For("storage.postgres"),
		now:   time.Now,
		batch: cfg.BatchSize,
	}
	if r.batch <= 0 {
		r.batch = 10000
	}
	if err := r.ensureTable(ctx, pool, storage.ManifestTableDef(cfg.TablePrefix, r.d)); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Stat(ctx context.Context, l layer.Layer, dataset string) (storage.Manifest, error) {
	return r.manifest(ctx, r.pool, storage.SelectManifestSQL(r.d, r.cfg.TablePrefix, ""), l, dataset)
}

func (r *Repository) Read(ctx context.Context, l layer.Layer, dataset string) (table.Table, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return table.Table{}, pipeerr.IO("begin read", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := r.manifest(ctx, tx, storage.SelectManifestSQL(r.d, r.cfg.TablePrefix, ""), l, dataset)
	if err != nil {
		return table.Table{}, err
	}

	fqn := storage.SnapshotTable(r.cfg.TablePrefix, l, dataset)
	rows, err := tx.Query(ctx, storage.SelectSnapshotSQL(r.d, fqn, m.Schema), m.Version)
	if err != nil {
		return table.Table{}, pipeerr.IO("read "+fqn, pgErr(err))
	}
	t, err := storage.ScanTable(rows, m.Schema)
	rows.Close()
	if err != nil {
		return table.Table{}, pipeerr.IO("scan "+fqn, pgErr(err))
	}
	if t.Len() != m.Rows {
		return table.Table{}, pipeerr.IO("read "+fqn, fmt.Errorf("manifest says %d rows, table has %d", m.Rows, t.Len()))
	}
	return t, tx.Commit(ctx)
}

func (r *Repository) Write(ctx context.Context, l layer.Layer, dataset string, t table.Table, meta storage.WriteMeta) (storage.Manifest, error) {
	if err := storage.CheckWrite(l, dataset, t); err != nil {
		return storage.Manifest{}, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storage.Manifest{}, pipeerr.IO("begin write", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := r.manifest(ctx, tx, storage.SelectManifestSQL(r.d, r.cfg.TablePrefix, "FOR UPDATE"), l, dataset)
	if err != nil && !errors.Is(err, pipeerr.ErrNotFound) {
		return storage.Manifest{}, err
	}
	m := storage.NextManifest(prev, l, dataset, t, meta, r.now())
	rec, err := m.Record()
	if err != nil {
		return storage.Manifest{}, err
	}
	if _, err := tx.Exec(ctx, upsertManifestSQL(r.cfg.TablePrefix), rec.Args()...); err != nil {
		return storage.Manifest{}, pipeerr.IO("upsert manifest", pgErr(err))
	}

	def := storage.SnapshotTableDef(r.cfg.TablePrefix, l, dataset, t.Schema, r.d)
	if prev.Version > 0 && !prev.Schema.Equal(t.Schema) {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+r.d.QuoteFQN(def.FQN)); err != nil {
			return storage.Manifest{}, pipeerr.IO("drop "+def.FQN, pgErr(err))
		}
	}
	if err := r.ensureTable(ctx, tx, def); err != nil {
		return storage.Manifest{}, err
	}

	ident := splitFQN(def.FQN)
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		return tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	}
	if _, err := storage.LoadBatches(ctx, t, m.Version, r.batch, copyFn); err != nil {
		return storage.Manifest{}, pipeerr.IO("copy "+def.FQN, pgErr(err))
	}
	if _, err := tx.Exec(ctx, storage.DeleteOtherVersionsSQL(r.d, def.FQN), m.Version); err != nil {
		return storage.Manifest{}, pipeerr.IO("prune "+def.FQN, pgErr(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Manifest{}, pipeerr.IO("commit write", pgErr(err))
	}

	r.log.WithFields(logrus.Fields{
		"layer": l, "dataset": dataset, "rows": m.Rows, "version": m.Version,
	}).Debug("postgres: snapshot published")
	return m, nil
}

func (r *Repository) manifest(ctx context.Context, q querier, query string, l layer.Layer, dataset string) (storage.Manifest, error) {
	var rec storage.ManifestRecord
	err := q.QueryRow(ctx, query, string(l), dataset).Scan(rec.Dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Manifest{}, storage.NotFound(l, dataset)
	}
	if err != nil {
		return storage.Manifest{}, pipeerr.IO("read manifest", pgErr(err))
	}
	m, err := rec.Manifest()
	if err != nil {
		return storage.Manifest{}, pipeerr.IO("decode manifest", err)
	}
	return m, nil
}

func (r *Repository) ensureTable(ctx context.Context, q querier, def ddl.TableDef) error {
	var exists bool
	if err := q.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", r.d.QuoteFQN(def.FQN)).Scan(&exists); err != nil {
		return pipeerr.IO("inspect "+def.FQN, pgErr(err))
	}
	if exists {
		return nil
	}
	stmt, err := r.d.BuildCreateTableSQL(def)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, stmt); err != nil {
		return pipeerr.IO("create "+def.FQN, pgErr(err))
	}
	return nil
}

// upsertManifestSQL renders INSERT ... ON CONFLICT DO UPDATE for the
// manifest table.
func upsertManifestSQL(prefix string) string {
	d := ddl.Postgres
	cols := storage.ManifestColumns
	sets := make([]string, 0, len(cols)-2)
	for _, c := range cols[2:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", d.QuoteIdent(c), d.QuoteIdent(c)))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, %s) DO UPDATE SET %s",
		d.QuoteFQN(storage.ManifestTable(prefix)),
		strings.Join(d.QuoteAll(cols), ", "),
		strings.Join(d.Binds(1, len(cols)), ", "),
		d.QuoteIdent("layer"), d.QuoteIdent("dataset"),
		strings.Join(sets, ", "),
	)
}

// pgErr adds the server detail and SQLSTATE when err is a *pgconn.PgError.
func pgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s: %s)", err, pgErr.SQLState(), pgErr.Detail)
	}
	return err
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
