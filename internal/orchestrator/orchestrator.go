// Package orchestrator runs the ingest, clean and aggregate stages of one
// pipeline in order, one run at a time, and keeps a bounded history of run
// reports.
//
// A run moves Idle → Ingesting → Cleaning → Aggregating → Succeeded, or to
// Failed from any non-terminal state. Failed attempts are retried from
// Ingesting with exponential backoff unless the error is deterministic
// (consistency violations) or the run was cancelled. Cancellation is honoured
// at stage boundaries; a stage that has started either publishes its layer or
// publishes nothing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grafana/dskit/backoff"
	"github.com/sirupsen/logrus"

	"tradepipe/internal/aggregate"
	"tradepipe/internal/clean"
	"tradepipe/internal/ingest"
	"tradepipe/internal/logging"
	"tradepipe/internal/metrics"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/storage"
)

const (
	DefaultPipeline    = "tradepipe"
	DefaultHistorySize = 50
)

// ErrClosed is returned by RunNow and Trigger after Close.
var ErrClosed = errors.New("orchestrator: closed")

// Config wires an Orchestrator to its storage and sources.
type Config struct {
	// Pipeline names the pipeline in reports, logs and metrics.
	Pipeline string

	Store   storage.Accessor
	Inputs  []ingest.Input
	Cleaner clean.Cleaner

	// Partitions is the aggregate fan-out; <= 0 means GOMAXPROCS.
	Partitions int

	// MaxRetries is the number of extra attempts after a retryable failure.
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// HistorySize bounds the finished runs kept for inspection.
	HistorySize int
}

type run struct {
	report RunReport
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator serializes the runs of one pipeline. It is safe for concurrent
// use.
type Orchestrator struct {
	cfg   Config
	retry backoff.Config
	log   *logrus.Entry

	mu     sync.Mutex
	active *run
	runs   map[string]*run
	order  []string
	closed bool
}

// New validates cfg and returns an idle Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("orchestrator: no storage configured")
	}
	if len(cfg.Inputs) == 0 {
		return nil, fmt.Errorf("orchestrator: no inputs configured")
	}
	if cfg.Pipeline == "" {
		cfg.Pipeline = DefaultPipeline
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	return &Orchestrator{
		cfg: cfg,
		retry: backoff.Config{
			MinBackoff: cfg.MinBackoff,
			MaxBackoff: cfg.MaxBackoff,
			// dskit counts attempts, not retries.
			MaxRetries: cfg.MaxRetries + 1,
		},
		log:  logging.For("orchestrator").WithField("pipeline", cfg.Pipeline),
		runs: map[string]*run{},
	}, nil
}

// Pipeline returns the configured pipeline name.
func (o *Orchestrator) Pipeline() string { return o.cfg.Pipeline }

// RunNow executes a run synchronously and returns its final report. The
// returned error is the run's failure, or a *pipeerr.ConcurrentRunError when
// another run is active, in which case nothing was started.
func (o *Orchestrator) RunNow(ctx context.Context, trigger string) (RunReport, error) {
	r, rctx, err := o.start(ctx, trigger)
	if err != nil {
		return RunReport{}, err
	}
	err = o.execute(rctx, r)
	return o.snapshot(r), err
}

// Trigger starts a run in the background and returns its ID. The run is not
// tied to ctx's cancellation; use Cancel to stop it.
func (o *Orchestrator) Trigger(ctx context.Context, trigger string) (string, error) {
	r, rctx, err := o.start(context.WithoutCancel(ctx), trigger)
	if err != nil {
		return "", err
	}
	go func() { _ = o.execute(rctx, r) }()
	return r.report.RunID, nil
}

// Wait blocks until the run finishes or ctx is done and returns the run's
// report. A failed run is reported through RunReport.State, not the error.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (RunReport, error) {
	r, err := o.lookup(runID)
	if err != nil {
		return RunReport{}, err
	}
	select {
	case <-r.done:
		return o.snapshot(r), nil
	case <-ctx.Done():
		return o.snapshot(r), ctx.Err()
	}
}

// Cancel asks a run to stop at its next stage boundary. Cancelling a
// finished run is a no-op.
func (o *Orchestrator) Cancel(runID string) error {
	r, err := o.lookup(runID)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

// Run returns the current report of one run.
func (o *Orchestrator) Run(runID string) (RunReport, error) {
	r, err := o.lookup(runID)
	if err != nil {
		return RunReport{}, err
	}
	return o.snapshot(r), nil
}

// Runs returns the known runs, newest first.
func (o *Orchestrator) Runs() []RunReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]RunReport, 0, len(o.order))
	for i := len(o.order) - 1; i >= 0; i-- {
		out = append(out, o.runs[o.order[i]].report.clone())
	}
	return out
}

// Active returns the report of the run in progress, if any.
func (o *Orchestrator) Active() (RunReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return RunReport{}, false
	}
	return o.active.report.clone(), true
}

// Close refuses new runs, cancels the active one and waits for it to finish
// or for ctx to be done.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	active := o.active
	o.mu.Unlock()
	if active == nil {
		return nil
	}
	active.cancel()
	select {
	case <-active.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) start(ctx context.Context, trigger string) (*run, context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, nil, ErrClosed
	}
	if o.active != nil {
		return nil, nil, &pipeerr.ConcurrentRunError{Pipeline: o.cfg.Pipeline, ActiveRun: o.active.report.RunID}
	}
	rctx, cancel := context.WithCancel(ctx)
	r := &run{
		report: RunReport{
			RunID:     uuid.NewString(),
			Pipeline:  o.cfg.Pipeline,
			Trigger:   trigger,
			State:     StateIdle,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.active = r
	o.runs[r.report.RunID] = r
	o.order = append(o.order, r.report.RunID)
	o.evictLocked()
	return r, rctx, nil
}

// evictLocked drops the oldest finished runs beyond HistorySize.
func (o *Orchestrator) evictLocked() {
	for len(o.order) > o.cfg.HistorySize {
		id := o.order[0]
		if o.runs[id] == o.active {
			return
		}
		delete(o.runs, id)
		o.order = o.order[1:]
	}
}

func (o *Orchestrator) lookup(runID string) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[runID]
	if !ok {
		return nil, &RunNotFoundError{RunID: runID}
	}
	return r, nil
}

func (o *Orchestrator) snapshot(r *run) RunReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return r.report.clone()
}

func (o *Orchestrator) update(r *run, f func(*RunReport)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f(&r.report)
}

// execute drives r to a terminal state. It is called exactly once per run.
func (o *Orchestrator) execute(ctx context.Context, r *run) (err error) {
	log := o.log.WithField("run_id", r.report.RunID)
	log.WithField("trigger", r.report.Trigger).Info("orchestrator: run started")

	defer func() {
		r.cancel()
		o.finish(r, err)
	}()

	b := backoff.New(ctx, o.retry)
	for {
		err = o.attempt(ctx, r)
		if err == nil || !pipeerr.Retryable(err) {
			return err
		}
		n := o.snapshot(r).Attempts
		if n > o.cfg.MaxRetries {
			return err
		}
		log.WithFields(logrus.Fields{
			"attempt":      n,
			"failed_stage": pipeerr.FailedStage(err),
			"error":        err,
		}).Warn("orchestrator: attempt failed, retrying")
		b.Wait()
		if !b.Ongoing() {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return err
		}
	}
}

func (o *Orchestrator) finish(r *run, err error) {
	o.mu.Lock()
	rep := &r.report
	rep.FinishedAt = time.Now().UTC()
	if err == nil {
		rep.State = StateSucceeded
	} else {
		rep.State = StateFailed
		rep.FailedStage = pipeerr.FailedStage(err)
		rep.ErrorKind = pipeerr.KindOf(err)
		rep.Error = err.Error()
	}
	final := rep.clone()
	if o.active == r {
		o.active = nil
	}
	o.evictLocked()
	o.mu.Unlock()
	close(r.done)

	metrics.RecordRun(o.cfg.Pipeline, string(final.State), string(final.ErrorKind))
	fields := logrus.Fields{
		"run_id":   final.RunID,
		"state":    final.State,
		"attempts": final.Attempts,
		"elapsed":  final.FinishedAt.Sub(final.StartedAt).Truncate(time.Millisecond),
	}
	if err != nil {
		fields["failed_stage"] = final.FailedStage
		fields["error_kind"] = final.ErrorKind
		o.log.WithFields(fields).WithError(err).Error("orchestrator: run failed")
		return
	}
	fields["summary_version"] = final.SummaryVersion
	o.log.WithFields(fields).Info("orchestrator: run succeeded")
}

type step struct {
	state State
	name  string
	run   func(ctx context.Context, runID string, rep *RunReport) error
}

// attempt runs the three stages once, starting from raw.
func (o *Orchestrator) attempt(ctx context.Context, r *run) error {
	job := o.cfg.Pipeline
	var runID string
	o.update(r, func(rep *RunReport) {
		rep.Attempts++
		rep.Stages = nil
		rep.Ingested, rep.ParseErrors, rep.Cleaned, rep.Dropped, rep.Clients = 0, 0, 0, 0, 0
		runID = rep.RunID
	})

	steps := []step{
		{StateIngesting, ingest.Name, func(ctx context.Context, id string, rep *RunReport) error {
			res, err := (&ingest.Stage{Store: o.cfg.Store, Inputs: o.cfg.Inputs}).Run(ctx, id)
			if err != nil {
				return err
			}
			rep.Ingested, rep.ParseErrors = res.Rows(), res.ParseErrors()
			metrics.RecordRow(job, "ingested", int64(rep.Ingested))
			metrics.RecordRow(job, "parse_errors", int64(rep.ParseErrors))
			return nil
		}},
		{StateCleaning, clean.Name, func(ctx context.Context, id string, rep *RunReport) error {
			res, err := (&clean.Stage{Store: o.cfg.Store, Cleaner: o.cfg.Cleaner}).Run(ctx, id)
			if err != nil {
				return err
			}
			rep.Cleaned, rep.Dropped = res.Stats.Rows, res.Stats.Dropped()
			metrics.RecordRow(job, "cleaned", int64(rep.Cleaned))
			metrics.RecordRow(job, "clean_dropped", int64(rep.Dropped))
			return nil
		}},
		{StateAggregating, aggregate.Name, func(ctx context.Context, id string, rep *RunReport) error {
			res, err := (&aggregate.Stage{Store: o.cfg.Store, Partitions: o.cfg.Partitions}).Run(ctx, id)
			if err != nil {
				return err
			}
			rep.Clients, rep.SummaryVersion = res.Clients, res.Manifest.Version
			metrics.RecordRow(job, "summarized", int64(rep.Clients))
			return nil
		}},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return pipeerr.Stage(s.name, err)
		}
		o.update(r, func(rep *RunReport) { rep.State = s.state })

		// Stage results land in a private report and are merged under the lock.
		var out RunReport
		start := time.Now()
		err := s.run(ctx, runID, &out)
		d := time.Since(start)
		metrics.RecordStep(job, s.name, err, d)

		o.update(r, func(rep *RunReport) {
			t := StageTiming{Stage: s.name, Started: start.UTC(), Duration: d}
			if err != nil {
				t.Error = err.Error()
			}
			rep.Stages = append(rep.Stages, t)
			switch s.state {
			case StateIngesting:
				rep.Ingested, rep.ParseErrors = out.Ingested, out.ParseErrors
			case StateCleaning:
				rep.Cleaned, rep.Dropped = out.Cleaned, out.Dropped
			case StateAggregating:
				rep.Clients, rep.SummaryVersion = out.Clients, out.SummaryVersion
			}
		})
		if err != nil {
			return pipeerr.Stage(s.name, err)
		}
	}
	return nil
}
