// Package sqlite implements a SQLite-backed storage.Accessor using
// database/sql and the pure-Go modernc driver. It performs batched INSERTs
// inside the publish transaction; SQLite does not have a dedicated bulk-load
// API like Postgres COPY, but a single transaction keeps performance
// acceptable for moderate volumes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tradepipe/internal/ddl"
	"tradepipe/internal/storage"
	"tradepipe/internal/storage/sqlstore"
)

// Repository is a SQLite-backed storage.Accessor.
type Repository struct {
	*sqlstore.Store
}

// NewRepository opens a SQLite database using the provided DSN.
//
// The pool is limited to a single connection: SQLite serializes writers
// anyway, and it keeps ":memory:" databases alive and shared across calls.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Apply a basic ping with context to fail fast on invalid DSNs.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;")

	st, err := sqlstore.New(ctx, db, ddl.SQLite, cfg.TablePrefix, cfg.BatchSize, sqlstore.Hooks{
		TableExists:       tableExists,
		UpsertManifestSQL: upsertManifestSQL(cfg.TablePrefix),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return &Repository{Store: st}, nil
}

func tableExists(ctx context.Context, q sqlstore.Queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	return n > 0, err
}

// upsertManifestSQL renders INSERT ... ON CONFLICT DO UPDATE for the
// manifest table.
func upsertManifestSQL(prefix string) string {
	d := ddl.SQLite
	cols := storage.ManifestColumns
	sets := make([]string, 0, len(cols)-2)
	for _, c := range cols[2:] {
		q := d.QuoteIdent(c)
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", q, q))
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
