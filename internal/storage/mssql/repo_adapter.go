// Package mssql wires the MSSQL backend into the storage-agnostic factory.
package mssql

import (
	"context"

	"tradepipe/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

var _ storage.Accessor = (*Repository)(nil)

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Accessor, error) {
		return newRepository(ctx, Config{
			DSN:         cfg.DSN,
			TablePrefix: cfg.TablePrefix,
		})
	})
}
