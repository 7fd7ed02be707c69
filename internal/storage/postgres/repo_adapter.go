// Package postgres wires the Postgres backend into the storage factory.
package postgres

import (
	"context"

	"tradepipe/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Accessor, error) {
		return newRepository(ctx, Config{
			DSN:         cfg.DSN,
			TablePrefix: cfg.TablePrefix,
		})
	})
}
