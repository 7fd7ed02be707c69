// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. The following kinds become
// available:
//
//   - "fs"       (Parquet files under a root directory)
//   - "sqlite"
//   - "postgres"
//   - "mssql"
//   - "mysql"
//   - "memory"
//
// Typical usage (in cmd/tradepipe/main.go):
//
//	import _ "tradepipe/internal/storage/all"
//
//	acc, err := storage.New(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN})
//
// A binary that supports only a subset of backends can import the backend
// packages it needs instead of this one.
package all

import (
	_ "tradepipe/internal/storage/fs"
	_ "tradepipe/internal/storage/memory"
	_ "tradepipe/internal/storage/mssql"
	_ "tradepipe/internal/storage/mysql"
	_ "tradepipe/internal/storage/postgres"
	_ "tradepipe/internal/storage/sqlite"
)
