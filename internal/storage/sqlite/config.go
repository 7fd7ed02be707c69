// Package sqlite implements a SQLite-backed storage.Accessor.
package sqlite

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:tradepipe.db?_pragma=busy_timeout(5000)"
	//   "tradepipe.db" (interpreted by the driver)
	//   ":memory:"
	DSN string

	// TablePrefix is prepended to every table the backend creates.
	TablePrefix string

	// BatchSize bounds the rows inserted per loader batch.
	BatchSize int
}
