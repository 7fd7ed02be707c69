// Package datasource defines where raw dataset bytes come from. Concrete
// sources live in subpackages: file (local disk) and httpds (HTTP GET).
package datasource

import (
	"context"
	"io"
)

// Source opens a fresh stream of raw bytes. Each call to Open returns a new
// reader positioned at the start; callers close it.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Describer is implemented by sources that can name themselves for logs and
// run reports.
type Describer interface {
	Describe() string
}

// Describe returns s.Describe() when available and "source" otherwise.
func Describe(s Source) string {
	if d, ok := s.(Describer); ok {
		return d.Describe()
	}
	return "source"
}
