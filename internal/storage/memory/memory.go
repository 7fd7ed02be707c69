// Package memory implements an in-process storage.Accessor. It is the
// backend used by tests and by the "memory" storage kind.
package memory

import (
	"context"
	"sync"
	"time"

	"tradepipe/internal/layer"
	"tradepipe/internal/storage"
	"tradepipe/internal/table"
)

type key struct {
	l       layer.Layer
	dataset string
}

type snapshot struct {
	t table.Table
	m storage.Manifest
}

// Store keeps snapshots in a map. Writes store a private copy and swap the
// map entry under the lock; reads hand out copies.
type Store struct {
	mu    sync.RWMutex
	snaps map[key]snapshot

	// now is overridable by tests.
	now func() time.Time
}

var _ storage.Accessor = (*Store)(nil)

func New() *Store {
	return &Store{snaps: map[key]snapshot{}, now: time.Now}
}

func init() {
	storage.Register("memory", func(context.Context, storage.Config) (storage.Accessor, error) {
		return New(), nil
	})
}

func (s *Store) Read(ctx context.Context, l layer.Layer, dataset string) (table.Table, error) {
	if err := ctx.Err(); err != nil {
		return table.Table{}, err
	}
	s.mu.RLock()
	snap, ok := s.snaps[key{l, dataset}]
	s.mu.RUnlock()
	if !ok {
		return table.Table{}, storage.NotFound(l, dataset)
	}
	return snap.t.Clone(), nil
}

func (s *Store) Write(ctx context.Context, l layer.Layer, dataset string, t table.Table, meta storage.WriteMeta) (storage.Manifest, error) {
	if err := storage.CheckWrite(l, dataset, t); err != nil {
		return storage.Manifest{}, err
	}
	if err := ctx.Err(); err != nil {
		return storage.Manifest{}, err
	}
	cp := t.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{l, dataset}
	m := storage.NextManifest(s.snaps[k].m, l, dataset, cp, meta, s.now())
	s.snaps[k] = snapshot{t: cp, m: m}
	return m, nil
}

func (s *Store) Stat(ctx context.Context, l layer.Layer, dataset string) (storage.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return storage.Manifest{}, err
	}
	s.mu.RLock()
	snap, ok := s.snaps[key{l, dataset}]
	s.mu.RUnlock()
	if !ok {
		return storage.Manifest{}, storage.NotFound(l, dataset)
	}
	return snap.m, nil
}

func (s *Store) Close() error { return nil }
