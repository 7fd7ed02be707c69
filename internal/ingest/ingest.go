// Package ingest implements the raw-layer stage: it reads each configured
// source as delimited text, types nothing, and publishes one raw snapshot per
// dataset.
//
// All sources are parsed before anything is written, so a run in which any
// source fails publishes no raw snapshot at all. Once publishing starts the
// stage no longer observes cancellation; if a later write fails, the raw
// snapshots already replaced by this run are republished from their previous
// contents.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tradepipe/internal/config"
	"tradepipe/internal/datasource"
	"tradepipe/internal/layer"
	"tradepipe/internal/logging"
	"tradepipe/internal/parser/csv"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/storage"
	"tradepipe/internal/table"
)

// Name is the stage name used in errors, logs and metrics.
const Name = "ingest"

// DefaultMaxErrorSamples bounds how many ParseErrors a Result keeps per
// dataset; the count is always exact.
const DefaultMaxErrorSamples = 20

// Input binds one raw dataset to the source it is read from.
type Input struct {
	Dataset string
	Source  datasource.Source
	Options config.Options
}

// DatasetResult reports what one source contributed.
type DatasetResult struct {
	Dataset     string
	Source      string
	Rows        int
	ParseErrors int
	// Samples holds the first parse errors, in input order.
	Samples  []*pipeerr.ParseError
	Manifest storage.Manifest
}

// Result is the outcome of one ingest run, one entry per input in input
// order.
type Result struct {
	Datasets []DatasetResult
}

// Rows returns the total number of ingested rows.
func (r Result) Rows() int {
	n := 0
	for _, d := range r.Datasets {
		n += d.Rows
	}
	return n
}

// ParseErrors returns the total number of skipped rows.
func (r Result) ParseErrors() int {
	n := 0
	for _, d := range r.Datasets {
		n += d.ParseErrors
	}
	return n
}

// Stage reads Inputs and writes the raw layer of Store.
type Stage struct {
	Store  storage.Accessor
	Inputs []Input

	// MaxErrorSamples overrides DefaultMaxErrorSamples when positive.
	MaxErrorSamples int
}

// Run ingests every input. Sources are opened and parsed concurrently; the
// snapshots are published only after all of them parsed, and only if ctx is
// still live at that point.
func (s *Stage) Run(ctx context.Context, runID string) (Result, error) {
	if err := s.check(); err != nil {
		return Result{}, pipeerr.Stage(Name, err)
	}
	log := logging.For(Name).WithField("run_id", runID)
	maxSamples := s.MaxErrorSamples
	if maxSamples <= 0 {
		maxSamples = DefaultMaxErrorSamples
	}

	results := make([]DatasetResult, len(s.Inputs))
	tables := make([]table.Table, len(s.Inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i, in := range s.Inputs {
		i, in := i, in
		g.Go(func() error {
			start := time.Now()
			t, res, err := readOne(gctx, in, maxSamples)
			if err != nil {
				return err
			}
			tables[i], results[i] = t, res
			log.WithFields(logrus.Fields{
				"dataset":      in.Dataset,
				"source":       res.Source,
				"rows":         res.Rows,
				"parse_errors": res.ParseErrors,
				"elapsed":      time.Since(start).Truncate(time.Millisecond),
			}).Info("ingest: source parsed")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, pipeerr.Stage(Name, err)
	}

	// Cancellation is honoured here, before the first publish. Past this
	// point the stage commits: the writes ignore cancellation.
	if err := ctx.Err(); err != nil {
		return Result{}, pipeerr.Stage(Name, err)
	}
	wctx := context.WithoutCancel(ctx)

	prev, err := s.previous(wctx)
	if err != nil {
		return Result{}, pipeerr.Stage(Name, err)
	}
	for i, in := range s.Inputs {
		m, err := s.Store.Write(wctx, layer.Raw, in.Dataset, tables[i], storage.WriteMeta{RunID: runID})
		if err != nil {
			s.restore(wctx, log, prev[:i])
			return Result{}, pipeerr.Stage(Name, err)
		}
		results[i].Manifest = m
		log.WithFields(logrus.Fields{
			"dataset": in.Dataset,
			"version": m.Version,
			"rows":    m.Rows,
		}).Debug("ingest: raw snapshot published")
	}
	return Result{Datasets: results}, nil
}

// prior is the raw snapshot an input replaces; ok is false when the dataset
// was never published.
type prior struct {
	dataset string
	t       table.Table
	runID   string
	ok      bool
}

// previous reads the raw snapshots this run is about to replace.
func (s *Stage) previous(ctx context.Context) ([]prior, error) {
	out := make([]prior, len(s.Inputs))
	for i, in := range s.Inputs {
		out[i].dataset = in.Dataset
		m, err := s.Store.Stat(ctx, layer.Raw, in.Dataset)
		if errors.Is(err, pipeerr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		t, err := s.Store.Read(ctx, layer.Raw, in.Dataset)
		if err != nil {
			return nil, err
		}
		out[i] = prior{dataset: in.Dataset, t: t, runID: m.RunID, ok: true}
	}
	return out, nil
}

// restore republishes the snapshots replaced before a failed write so the raw
// layer again holds one consistent generation. A dataset that had no snapshot
// keeps the new one: the Accessor cannot delete, and the missing sibling makes
// the next stage fail with NotFound.
func (s *Stage) restore(ctx context.Context, log *logrus.Entry, replaced []prior) {
	for _, p := range replaced {
		if !p.ok {
			continue
		}
		if _, err := s.Store.Write(ctx, layer.Raw, p.dataset, p.t, storage.WriteMeta{RunID: p.runID}); err != nil {
			log.WithError(err).WithField("dataset", p.dataset).Error("ingest: failed to restore previous raw snapshot")
			continue
		}
		log.WithField("dataset", p.dataset).Warn("ingest: previous raw snapshot restored")
	}
}

func (s *Stage) check() error {
	if s.Store == nil {
		return fmt.Errorf("ingest: no storage configured")
	}
	if len(s.Inputs) == 0 {
		return fmt.Errorf("ingest: no inputs configured")
	}
	seen := map[string]bool{}
	for _, in := range s.Inputs {
		if _, ok := ingestible(in.Dataset); !ok {
			return fmt.Errorf("ingest: dataset %q is not ingestible", in.Dataset)
		}
		if seen[in.Dataset] {
			return fmt.Errorf("ingest: dataset %q configured twice", in.Dataset)
		}
		if in.Source == nil {
			return fmt.Errorf("ingest: dataset %q has no source", in.Dataset)
		}
		seen[in.Dataset] = true
	}
	return nil
}

func ingestible(dataset string) (schema.Contract, bool) {
	for _, d := range schema.Ingestible() {
		if d == dataset {
			return schema.Lookup(d)
		}
	}
	return schema.Contract{}, false
}

// readOne opens and parses a single input.
func readOne(ctx context.Context, in Input, maxSamples int) (table.Table, DatasetResult, error) {
	c, _ := ingestible(in.Dataset)
	res := DatasetResult{Dataset: in.Dataset, Source: datasource.Describe(in.Source)}

	rc, err := in.Source.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return table.Table{}, res, ctx.Err()
		}
		return table.Table{}, res, pipeerr.IO("open "+res.Source, err)
	}
	defer rc.Close()

	t, err := csv.ReadTable(ctx, rc, c, in.Options, func(pe *pipeerr.ParseError) {
		res.ParseErrors++
		if len(res.Samples) < maxSamples {
			res.Samples = append(res.Samples, pe)
		}
	})
	if err != nil {
		return table.Table{}, res, fmt.Errorf("ingest %s from %s: %w", in.Dataset, res.Source, err)
	}
	res.Rows = t.Len()
	return t, res, nil
}
