// Package pipeerr defines the error taxonomy shared by every pipeline stage.
//
// Each kind is a concrete type so callers can extract details with errors.As,
// and each type also matches a sentinel (ErrParse, ErrNotFound, ...) through
// errors.Is so that simple checks stay one-liners:
//
//	if errors.Is(err, pipeerr.ErrNotFound) { ... }
//
// Row-level ParseErrors are recovered by the ingestor; every other kind fails
// the enclosing stage and therefore the run.
package pipeerr

import (
	"errors"
	"fmt"
)

// Kind is a short, stable label for an error category. It is used in run
// reports, log fields, and metric labels.
type Kind string

const (
	KindParse         Kind = "parse"
	KindNotFound      Kind = "not_found"
	KindIO            Kind = "io"
	KindConcurrentRun Kind = "concurrent_run"
	KindConsistency   Kind = "consistency"
	KindCancelled     Kind = "cancelled"
	KindUnknown       Kind = "unknown"
)

// Sentinels matched by the concrete types' Is methods.
var (
	ErrParse         = errors.New("parse error")
	ErrNotFound      = errors.New("not found")
	ErrIO            = errors.New("io error")
	ErrConcurrentRun = errors.New("concurrent run")
	ErrConsistency   = errors.New("consistency violation")
)

// ParseError describes a malformed raw row. Line is 1-based and counts the
// header line.
type ParseError struct {
	Dataset string
	Line    int
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s line %d: %s", e.Dataset, e.Line, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// NotFoundError reports that a layer snapshot does not exist.
type NotFoundError struct {
	Layer   string
	Dataset string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("snapshot %s/%s not found", e.Layer, e.Dataset)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IOError wraps an underlying storage failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// ConcurrentRunError is returned when a run is triggered while another run of
// the same pipeline is still active.
type ConcurrentRunError struct {
	Pipeline  string
	ActiveRun string
}

func (e *ConcurrentRunError) Error() string {
	return fmt.Sprintf("pipeline %s: run %s still active", e.Pipeline, e.ActiveRun)
}

func (e *ConcurrentRunError) Is(target error) bool { return target == ErrConcurrentRun }

// ConsistencyError reports a row that violates a data invariant. It is fatal
// for the run and never coerced away.
type ConsistencyError struct {
	Dataset string
	Key     string
	Reason  string
}

func (e *ConsistencyError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("consistency %s: %s", e.Dataset, e.Reason)
	}
	return fmt.Sprintf("consistency %s key=%s: %s", e.Dataset, e.Key, e.Reason)
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// IO wraps err as an IOError unless it already carries a taxonomy kind, in
// which case it is returned unchanged. nil stays nil.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &IOError{Op: op, Err: err}
}

// KindOf classifies err into one of the taxonomy kinds.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConcurrentRun):
		return KindConcurrentRun
	case errors.Is(err, ErrConsistency):
		return KindConsistency
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrIO):
		return KindIO
	case isCancel(err):
		return KindCancelled
	default:
		return KindUnknown
	}
}
