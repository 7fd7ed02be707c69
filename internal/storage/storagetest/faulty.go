package storagetest

import (
	"context"
	"errors"
	"sync"

	"tradepipe/internal/layer"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/storage"
	"tradepipe/internal/table"
)

// ErrInjected is the cause of every failure a Faulty accessor injects.
var ErrInjected = errors.New("injected storage failure")

// Faulty wraps an Accessor and fails writes to the layers in FailWrites with
// an IOError. Reads and Stats pass through. It is safe for concurrent use.
type Faulty struct {
	storage.Accessor

	mu         sync.Mutex
	failWrites map[layer.Layer]int
	writes     map[layer.Layer]int
}

// NewFaulty wraps acc with no faults armed.
func NewFaulty(acc storage.Accessor) *Faulty {
	return &Faulty{Accessor: acc, failWrites: map[layer.Layer]int{}, writes: map[layer.Layer]int{}}
}

// FailWrites makes the next n writes to l fail; n < 0 fails all of them.
func (f *Faulty) FailWrites(l layer.Layer, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites[l] = n
}

// Writes returns how many writes to l were attempted, failed ones included.
func (f *Faulty) Writes(l layer.Layer) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[l]
}

func (f *Faulty) Write(ctx context.Context, l layer.Layer, dataset string, t table.Table, meta storage.WriteMeta) (storage.Manifest, error) {
	f.mu.Lock()
	f.writes[l]++
	n := f.failWrites[l]
	if n > 0 {
		f.failWrites[l] = n - 1
	}
	f.mu.Unlock()

	if n != 0 {
		return storage.Manifest{}, pipeerr.IO("write "+string(l)+"/"+dataset, ErrInjected)
	}
	return f.Accessor.Write(ctx, l, dataset, t, meta)
}
