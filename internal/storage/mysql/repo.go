// Package mysql implements a MySQL storage.Accessor on database/sql and
// go-sql-driver/mysql. Rows are loaded with multi-row INSERTs inside the
// publish transaction and the manifest row is upserted with
// ON DUPLICATE KEY UPDATE.
//
// MySQL commits implicitly on CREATE and DROP TABLE, so snapshot tables are
// created ahead of the publish transaction and a changed dataset contract is
// reported instead of recreating the table.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"tradepipe/internal/ddl"
	"tradepipe/internal/storage"
	"tradepipe/internal/storage/sqlstore"
)

// maxPlaceholders is the server's limit on bind parameters per statement.
const maxPlaceholders = 65535

// Config holds MySQL repository configuration.
type Config struct {
	// DSN uses the driver's format, e.g. "user:pass@tcp(db:3306)/tradepipe".
	DSN         string
	TablePrefix string
	BatchSize   int
}

// Repository is a MySQL-backed storage.Accessor.
type Repository struct {
	*sqlstore.Store
}

// NewRepository parses the DSN, connects and creates the manifest table when
// missing. The DSN must name a database.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	dsn, err := parseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	conn, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(conn)
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	st, err := sqlstore.New(ctx, db, ddl.MySQL, cfg.TablePrefix, batch, hooks(cfg.TablePrefix))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: %w", err)
	}
	return &Repository{Store: st}, nil
}

// parseDSN validates dsn and pins the options the store relies on: text
// columns come back as []byte, never time.Time.
func parseDSN(dsn string) (*mysql.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql dsn: must not be empty")
	}
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if c.DBName == "" {
		return nil, fmt.Errorf("mysql dsn: no database name in %q", dsn)
	}
	c.ParseTime = false
	return c, nil
}

func hooks(prefix string) sqlstore.Hooks {
	return sqlstore.Hooks{
		TableExists:       tableExists,
		LockManifestSQL:   storage.SelectManifestSQL(ddl.MySQL, prefix, "FOR UPDATE"),
		UpsertManifestSQL: upsertManifestSQL(prefix),
		Copy:              insertBatch,
		ReadIsolation:     sql.LevelRepeatableRead,
		DDLCommits:        true,
	}
}

func tableExists(ctx context.Context, q sqlstore.Queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", name).Scan(&n)
	return n > 0, err
}

// upsertManifestSQL renders INSERT ... ON DUPLICATE KEY UPDATE for the
// manifest table.
func upsertManifestSQL(prefix string) string {
	d := ddl.MySQL
	cols := storage.ManifestColumns
	sets := make([]string, 0, len(cols)-2)
	for _, c := range cols[2:] {
		q := d.QuoteIdent(c)
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", q, q))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		d.QuoteFQN(storage.ManifestTable(prefix)),
		strings.Join(d.QuoteAll(cols), ", "),
		strings.Join(d.Binds(1, len(cols)), ", "),
		strings.Join(sets, ", "),
	)
}

// insertBatch writes rows with as few multi-row INSERT statements as the
// placeholder limit allows.
func insertBatch(ctx context.Context, tx *sql.Tx, fqn string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	per := maxPlaceholders / len(columns)
	var inserted int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if len(row) != len(columns) {
				return inserted, fmt.Errorf("row %d length %d != columns length %d", start+i, len(row), len(columns))
			}
			args = append(args, row...)
		}
		res, err := tx.ExecContext(ctx, multiInsertSQL(fqn, columns, len(chunk)), args...)
		if err != nil {
			return inserted, fmt.Errorf("insert: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("rows affected: %w", err)
		}
		inserted += n
	}
	return inserted, nil
}

func multiInsertSQL(fqn string, columns []string, n int) string {
	d := ddl.MySQL
	tuple := "(" + strings.Join(d.Binds(1, len(columns)), ", ") + ")"
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", d.QuoteFQN(fqn), strings.Join(d.QuoteAll(columns), ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(tuple)
	}
	return sb.String()
}
