// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the pipeline.
//
// It exposes a narrow interface (Backend) focused on counters and timing
// data, and a global, pluggable backend that defaults to a no-op
// implementation, so metrics are always safe to call even when no real
// backend is configured. Concrete metric systems live in subpackages
// (prompush, datadog).
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the Record helpers.
const (
	StepTotal           = "tradepipe_step_total"
	StepDurationSeconds = "tradepipe_step_duration_seconds"
	RecordsTotal        = "tradepipe_records_total"
	RunsTotal           = "tradepipe_runs_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep measures latency and success/failure of one pipeline stage
// (ingest, clean, aggregate).
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments a row-level counter for the given job and kind.
//
// Kinds used by the orchestrator:
//   - "ingested"
//   - "parse_errors"
//   - "clean_dropped"
//   - "cleaned"
//   - "summarized"
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordRun counts a finished run by its final state and, for failures, the
// error kind.
func RecordRun(job, state, errKind string) {
	lbls := Labels{"job": job, "state": state}
	if errKind != "" {
		lbls["error_kind"] = errKind
	}
	current().IncCounter(RunsTotal, 1, lbls)
}
