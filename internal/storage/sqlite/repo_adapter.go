// Package sqlite wires the SQLite backend into the storage factory.
// Registration happens in init; callers never import this package directly.
package sqlite

import (
	"context"

	"tradepipe/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// Ensure Repository satisfies the interface at compile time.
var _ storage.Accessor = (*Repository)(nil)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Accessor, error) {
		return newRepository(ctx, Config{
			DSN:         cfg.DSN,
			TablePrefix: cfg.TablePrefix,
		})
	})
}
