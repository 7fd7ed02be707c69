package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"tradepipe/internal/api"
	"tradepipe/internal/config"
	"tradepipe/internal/ingest"
	"tradepipe/internal/logging"
	"tradepipe/internal/orchestrator"
	"tradepipe/internal/query"
	"tradepipe/internal/storage"
)

// shutdownGrace bounds how long -serve waits for in-flight work on exit.
const shutdownGrace = 30 * time.Second

func openStore(ctx context.Context, p config.Pipeline) (storage.Accessor, error) {
	return storage.New(ctx, storage.Config{
		Kind:        p.Storage.Kind,
		Root:        p.Storage.Root,
		DSN:         p.Storage.DSN,
		TablePrefix: p.Storage.TablePrefix,
	})
}

func newOrchestrator(p config.Pipeline, store storage.Accessor) (*orchestrator.Orchestrator, error) {
	inputs, err := ingest.InputsFromConfig(p.Sources)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Config{
		Pipeline:    p.Job,
		Store:       store,
		Inputs:      inputs,
		Partitions:  p.Runtime.AggregatePartitions,
		MaxRetries:  p.Retry.MaxRetries,
		MinBackoff:  p.Retry.MinBackoff.D(),
		MaxBackoff:  p.Retry.MaxBackoff.D(),
		HistorySize: p.Runtime.HistorySize,
	})
}

// runOnce executes one run and prints its report. A failed run is an error.
func runOnce(ctx context.Context, p config.Pipeline, stdout io.Writer) error {
	store, err := openStore(ctx, p)
	if err != nil {
		return err
	}
	defer store.Close()

	o, err := newOrchestrator(p, store)
	if err != nil {
		return err
	}
	rep, runErr := o.RunNow(ctx, "cli")
	if rep.RunID != "" {
		if err := writeJSON(stdout, rep); err != nil {
			return err
		}
	}
	return runErr
}

func printQuery(ctx context.Context, p config.Pipeline, o options, stdout io.Writer) error {
	store, err := openStore(ctx, p)
	if err != nil {
		return err
	}
	defer store.Close()

	q := query.New(store, 0)
	f := query.Filter{ClientIDs: splitCSV(o.clientIDs), Regions: splitCSV(o.regions)}
	if o.totals {
		t, err := q.Totals(ctx, f)
		if err != nil {
			return err
		}
		return writeJSON(stdout, t)
	}
	res, err := q.Query(ctx, f)
	if err != nil {
		return err
	}
	return writeJSON(stdout, res)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// serve runs the API and the scheduler until ctx is done, then shuts both
// down and waits for an active run to stop.
func serve(ctx context.Context, p config.Pipeline) error {
	log := logging.For("main")
	store, err := openStore(ctx, p)
	if err != nil {
		return err
	}
	defer store.Close()

	o, err := newOrchestrator(p, store)
	if err != nil {
		return err
	}

	var sched *orchestrator.Scheduler
	if p.Schedule.Expression != "" {
		if sched, err = orchestrator.NewScheduler(o, p.Schedule.Expression); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Config{
		Addr:          p.API.Addr,
		RatePerSecond: p.API.RatePerSecond,
		Burst:         p.API.Burst,
	}, query.New(store, 0), o, sched)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Info("main: shutting down")
	case err = <-errc:
		if err != nil {
			err = fmt.Errorf("api: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if sched != nil {
		sched.Stop()
	}
	return errors.Join(err, srv.Shutdown(shutdownCtx), o.Close(shutdownCtx))
}
