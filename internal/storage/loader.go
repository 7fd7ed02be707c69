package storage

// This file implements the batched loader shared by the SQL backends: it
// walks a snapshot's rows, converts cells to driver values tagged with the
// snapshot version and row position, and invokes a backend-provided
// bulk-insert function (CopyFn) per batch.
//
// Backends implement CopyFn with their most efficient primitive (Postgres
// COPY, MSSQL bulk copy, a prepared INSERT in SQLite). All calls happen inside
// the backend's publish transaction, so a failed batch leaves nothing visible.

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tradepipe/internal/logging"
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
)

// CopyFn inserts rows aligned to columns and returns the number of rows
// inserted. It must cancel promptly when ctx is done.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// Values converts a row into driver values: null cells become nil, all
// others their text. version and pos are appended for VersionColumn and
// RowColumn.
func Values(r table.Row, version, pos int64) []any {
	out := make([]any, len(r), len(r)+2)
	for i, c := range r {
		if c.Valid {
			out[i] = c.String
		}
	}
	return append(out, version, pos)
}

// LoadColumns returns the column list LoadBatches hands to copyFn.
func LoadColumns(c schema.Contract) []string {
	return append(c.Columns(), VersionColumn, RowColumn)
}

// LoadBatches groups t's rows into batches of batchSize and calls copyFn for
// each non-empty batch, tagging every row with version. It returns the total
// reported by copyFn and the first error encountered.
func LoadBatches(ctx context.Context, t table.Table, version int64, batchSize int, copyFn CopyFn) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}

	log := logging.For("loader").WithField("dataset", t.Schema.Name)
	columns := LoadColumns(t.Schema)

	var (
		total   int64
		batches int64
		start   = time.Now()
		batch   = make([][]any, 0, min(batchSize, len(t.Rows)))
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, columns, batch)
		total += n
		batch = batch[:0]
		if err != nil {
			log.WithError(err).WithField("total_inserted", total).Error("loader: copy failed")
			return err
		}
		batches++
		log.WithFields(logrus.Fields{
			"batch":          batches,
			"inserted":       n,
			"total_inserted": total,
			"elapsed":        time.Since(start).Truncate(time.Millisecond).String(),
		}).Debug("loader: batch flushed")
		return nil
	}

	for i, r := range t.Rows {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch = append(batch, Values(r, version, int64(i)))
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
