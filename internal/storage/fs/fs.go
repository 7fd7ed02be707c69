// Package fs implements a storage.Accessor over a directory of Parquet files.
//
// Each snapshot lives at <root>/<layer>/<dataset>.parquet. Columns are
// optional UTF-8 byte arrays; the manifest (including the dataset contract)
// is embedded in the file's key/value metadata, so a snapshot and its
// manifest are always published together. Publication writes a pending file
// next to the target and renames it into place with renameio, which is atomic
// on POSIX filesystems.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"

	"tradepipe/internal/layer"
	"tradepipe/internal/logging"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/storage"
	"tradepipe/internal/table"
)

const (
	ext         = ".parquet"
	manifestKey = "tradepipe.manifest"
	readBatch   = 256
)

// Store is the Parquet-directory backend.
type Store struct {
	root string

	// mu serializes writers so version numbers stay monotonic within the
	// process. Readers never take it.
	mu  sync.Mutex
	now func() time.Time
}

var _ storage.Accessor = (*Store)(nil)

// New returns a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("fs: root directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pipeerr.IO("mkdir", err)
	}
	return &Store{root: dir, now: time.Now}, nil
}

func init() {
	storage.Register("fs", func(_ context.Context, cfg storage.Config) (storage.Accessor, error) {
		return New(cfg.Root)
	})
}

// Path returns the file holding the snapshot of dataset in l.
func (s *Store) Path(l layer.Layer, dataset string) string {
	return filepath.Join(s.root, string(l), dataset+ext)
}

func (s *Store) Read(ctx context.Context, l layer.Layer, dataset string) (table.Table, error) {
	if err := ctx.Err(); err != nil {
		return table.Table{}, err
	}
	f, pf, m, err := s.open(l, dataset, false)
	if err != nil {
		return table.Table{}, err
	}
	defer f.Close()

	t, err := readRows(ctx, pf, m.Schema)
	if err != nil {
		return table.Table{}, pipeerr.IO("read "+s.Path(l, dataset), err)
	}
	if t.Len() != m.Rows {
		return table.Table{}, pipeerr.IO("read "+s.Path(l, dataset),
			fmt.Errorf("manifest says %d rows, file has %d", m.Rows, t.Len()))
	}
	return t, nil
}

func (s *Store) Stat(ctx context.Context, l layer.Layer, dataset string) (storage.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return storage.Manifest{}, err
	}
	f, _, m, err := s.open(l, dataset, true)
	if err != nil {
		return storage.Manifest{}, err
	}
	_ = f.Close()
	return m, nil
}

func (s *Store) Write(ctx context.Context, l layer.Layer, dataset string, t table.Table, meta storage.WriteMeta) (storage.Manifest, error) {
	if err := storage.CheckWrite(l, dataset, t); err != nil {
		return storage.Manifest{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.Stat(ctx, l, dataset)
	if err != nil && !errors.Is(err, pipeerr.ErrNotFound) {
		return storage.Manifest{}, err
	}
	m := storage.NextManifest(prev, l, dataset, t, meta, s.now())

	path := s.Path(l, dataset)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return storage.Manifest{}, pipeerr.IO("mkdir", err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return storage.Manifest{}, pipeerr.IO("create "+path, err)
	}
	defer pending.Cleanup()

	if err := writeRows(ctx, pending, t, m); err != nil {
		return storage.Manifest{}, pipeerr.IO("write "+path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return storage.Manifest{}, pipeerr.IO("publish "+path, err)
	}

	logging.For("storage.fs").WithFields(logrus.Fields{
		"layer": l, "dataset": dataset, "rows": m.Rows, "version": m.Version,
	}).Debug("fs: snapshot published")
	return m, nil
}

func (s *Store) Close() error { return nil }

// open opens the snapshot file and decodes its manifest. footerOnly skips
// page indexes and bloom filters for Stat.
func (s *Store) open(l layer.Layer, dataset string, footerOnly bool) (*os.File, *parquet.File, storage.Manifest, error) {
	path := s.Path(l, dataset)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, storage.Manifest{}, storage.NotFound(l, dataset)
		}
		return nil, nil, storage.Manifest{}, pipeerr.IO("open "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, storage.Manifest{}, pipeerr.IO("stat "+path, err)
	}

	var opts []parquet.FileOption
	if footerOnly {
		opts = append(opts, parquet.SkipPageIndex(true), parquet.SkipBloomFilters(true))
	}
	pf, err := parquet.OpenFile(f, info.Size(), opts...)
	if err != nil {
		f.Close()
		return nil, nil, storage.Manifest{}, pipeerr.IO("open parquet "+path, err)
	}

	raw, ok := pf.Lookup(manifestKey)
	if !ok {
		f.Close()
		return nil, nil, storage.Manifest{}, pipeerr.IO("open "+path, fmt.Errorf("missing %s metadata", manifestKey))
	}
	var m storage.Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		f.Close()
		return nil, nil, storage.Manifest{}, pipeerr.IO("decode manifest "+path, err)
	}
	return f, pf, m, nil
}

// parquetSchema builds an all-optional string schema for c. Group fields are
// ordered by name, so the returned slice maps each parquet column index to
// the contract field index.
func parquetSchema(c schema.Contract) (*parquet.Schema, []int) {
	g := parquet.Group{}
	for _, f := range c.Fields {
		g[f.Name] = parquet.Optional(parquet.String())
	}
	ps := parquet.NewSchema(c.Name, g)
	order := make([]int, 0, len(c.Fields))
	for _, pf := range ps.Fields() {
		order = append(order, c.Index(pf.Name()))
	}
	return ps, order
}

func writeRows(ctx context.Context, w io.Writer, t table.Table, m storage.Manifest) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ps, order := parquetSchema(t.Schema)
	pw := parquet.NewWriter(w, ps, parquet.KeyValueMetadata(manifestKey, string(blob)))

	batch := make([]parquet.Row, 0, readBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := pw.WriteRows(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	for _, r := range t.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := make(parquet.Row, len(order))
		for col, fi := range order {
			c := r[fi]
			if !c.Valid {
				row[col] = parquet.NullValue().Level(0, 0, col)
				continue
			}
			row[col] = parquet.ByteArrayValue([]byte(c.String)).Level(0, 1, col)
		}
		batch = append(batch, row)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return pw.Close()
}

func readRows(ctx context.Context, pf *parquet.File, c schema.Contract) (table.Table, error) {
	fields := pf.Schema().Fields()
	order := make([]int, len(fields))
	for j, f := range fields {
		order[j] = c.Index(f.Name())
		if order[j] < 0 {
			return table.Table{}, fmt.Errorf("column %q not in contract %s", f.Name(), c.Name)
		}
	}

	out := table.Empty(c)
	r := parquet.NewReader(pf)
	defer r.Close()

	buf := make([]parquet.Row, readBatch)
	for {
		if err := ctx.Err(); err != nil {
			return table.Table{}, err
		}
		n, err := r.ReadRows(buf)
		for _, pr := range buf[:n] {
			row := make(table.Row, len(c.Fields))
			for _, v := range pr {
				fi := order[v.Column()]
				if v.IsNull() {
					continue
				}
				row[fi] = table.Str(string(v.ByteArray()))
			}
			out.Rows = append(out.Rows, row)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return table.Table{}, err
		}
	}
}
