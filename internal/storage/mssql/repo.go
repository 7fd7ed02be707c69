// Package mssql implements a Microsoft SQL Server storage.Accessor. Snapshot
// rows are loaded with the go-mssqldb bulk copy API inside the publish
// transaction; the manifest row is written with MERGE.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"tradepipe/internal/ddl"
	"tradepipe/internal/storage"
	"tradepipe/internal/storage/sqlstore"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN         string
	TablePrefix string
	BatchSize   int
}

// Repository is an MSSQL-backed storage.Accessor.
type Repository struct {
	*sqlstore.Store
}

// NewRepository validates the DSN, connects, and creates the manifest table
// when missing.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 5000
	}
	st, err := sqlstore.New(ctx, db, ddl.MSSQL, cfg.TablePrefix, batch, hooks(cfg.TablePrefix))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: %w", err)
	}
	return &Repository{Store: st}, nil
}

func hooks(prefix string) sqlstore.Hooks {
	return sqlstore.Hooks{
		TableExists:       tableExists,
		LockManifestSQL:   lockManifestSQL(prefix),
		UpsertManifestSQL: mergeManifestSQL(prefix),
		Copy:              bulkCopy,
		ReadIsolation:     sql.LevelRepeatableRead,
	}
}

func tableExists(ctx context.Context, q sqlstore.Queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT CASE WHEN OBJECT_ID(@p1, N'U') IS NULL THEN 0 ELSE 1 END", ddl.MSSQL.QuoteFQN(name)).Scan(&n)
	return n == 1, err
}

// lockManifestSQL selects the manifest row with UPDLOCK, HOLDLOCK so the
// publish holds it until commit. T-SQL puts table hints after the table name.
func lockManifestSQL(prefix string) string {
	d := ddl.MSSQL
	return fmt.Sprintf("SELECT %s FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE [layer] = @p1 AND [dataset] = @p2",
		strings.Join(d.QuoteAll(storage.ManifestColumns), ", "),
		d.QuoteFQN(storage.ManifestTable(prefix)),
	)
}

// mergeManifestSQL renders an upsert of one manifest row.
func mergeManifestSQL(prefix string) string {
	d := ddl.MSSQL
	cols := storage.ManifestColumns

	src := make([]string, len(cols))
	sets := make([]string, 0, len(cols)-2)
	vals := make([]string, len(cols))
	for i, c := range cols {
		q := d.QuoteIdent(c)
		src[i] = fmt.Sprintf("%s AS %s", d.Bind(i+1), q)
		vals[i] = "S." + q
		if i >= 2 {
			sets = append(sets, fmt.Sprintf("T.%s = S.%s", q, q))
		}
	}
	return fmt.Sprintf(`MERGE %s WITH (HOLDLOCK) AS T
USING (SELECT %s) AS S
ON T.[layer] = S.[layer] AND T.[dataset] = S.[dataset]
WHEN MATCHED THEN UPDATE SET %s
WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);`,
		d.QuoteFQN(storage.ManifestTable(prefix)),
		strings.Join(src, ", "),
		strings.Join(sets, ", "),
		strings.Join(d.QuoteAll(cols), ", "),
		strings.Join(vals, ", "),
	)
}

// bulkCopy streams rows through a CopyIn statement prepared on tx and
// returns the row count reported by the final flush.
func bulkCopy(ctx context.Context, tx *sql.Tx, fqn string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(ddl.MSSQL.QuoteFQN(fqn), mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
