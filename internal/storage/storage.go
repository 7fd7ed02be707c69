// Package storage contains the storage-agnostic Accessor contract for layer
// snapshots and the backend registry.
//
// Backends (fs, sqlite, postgres, mssql, mysql, memory) live in subpackages and
// register a Factory for their kind from init(). Callers import
// tradepipe/internal/storage/all for side effects and then open an Accessor
// with storage.New, never touching a backend package directly.
//
// Every backend guarantees:
//
//   - Write replaces the whole (layer, dataset) snapshot atomically; readers
//     see either the previous snapshot or the new one, never a mix.
//   - Once Write returns nil, Read and Stat observe the new snapshot.
//   - Read/Stat of an absent snapshot fail with *pipeerr.NotFoundError.
//   - Underlying failures surface as *pipeerr.IOError.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradepipe/internal/layer"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
)

// Accessor reads and writes layer snapshots.
type Accessor interface {
	// Read returns the current snapshot of dataset in layer l.
	Read(ctx context.Context, l layer.Layer, dataset string) (table.Table, error)

	// Write atomically replaces the snapshot of dataset in layer l.
	Write(ctx context.Context, l layer.Layer, dataset string, t table.Table, meta WriteMeta) (Manifest, error)

	// Stat returns the manifest of the current snapshot without reading rows.
	Stat(ctx context.Context, l layer.Layer, dataset string) (Manifest, error)

	Close() error
}

// WriteMeta is caller-supplied provenance recorded in the manifest.
type WriteMeta struct {
	RunID string
}

// Manifest describes a published snapshot.
type Manifest struct {
	Layer       layer.Layer     `json:"layer"`
	Dataset     string          `json:"dataset"`
	Schema      schema.Contract `json:"schema"`
	Rows        int             `json:"rows"`
	Fingerprint uint64          `json:"fingerprint"`
	// Version increases by one on every publish of the same (layer, dataset).
	Version     int64     `json:"version"`
	RunID       string    `json:"run_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// NextManifest builds the manifest for a new publish of t following prev
// (zero when no previous snapshot exists).
func NextManifest(prev Manifest, l layer.Layer, dataset string, t table.Table, meta WriteMeta, now time.Time) Manifest {
	return Manifest{
		Layer:       l,
		Dataset:     dataset,
		Schema:      t.Schema,
		Rows:        t.Len(),
		Fingerprint: t.Fingerprint(),
		Version:     prev.Version + 1,
		RunID:       meta.RunID,
		PublishedAt: now.UTC(),
	}
}

// CheckWrite validates arguments common to every backend's Write.
func CheckWrite(l layer.Layer, dataset string, t table.Table) error {
	if !l.Valid() {
		return fmt.Errorf("storage: invalid layer %q", l)
	}
	if dataset == "" {
		return fmt.Errorf("storage: dataset must not be empty")
	}
	if err := t.Schema.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return t.Validate()
}

// NotFound is a convenience constructor for backends.
func NotFound(l layer.Layer, dataset string) error {
	return &pipeerr.NotFoundError{Layer: string(l), Dataset: dataset}
}

// Config selects and configures a backend.
type Config struct {
	// Kind selects the backend: "fs", "sqlite", "postgres", "mssql", "mysql", "memory".
	Kind string

	// Root is the base directory for the fs backend.
	Root string

	// DSN is the connection string for SQL backends.
	DSN string

	// TablePrefix is prepended to snapshot table names in SQL backends.
	TablePrefix string
}

// Factory opens an Accessor for a Config.
type Factory func(ctx context.Context, cfg Config) (Accessor, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for kind. Backends call it
// from init().
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens an Accessor for cfg.Kind.
func New(ctx context.Context, cfg Config) (Accessor, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for kind=%q (have %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
