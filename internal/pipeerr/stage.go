package pipeerr

import (
	"context"
	"errors"
	"fmt"
)

// StageError attributes a failure to the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, KindOf(e.Err), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage wraps err in a StageError for the given stage. nil stays nil and an
// error that is already a StageError is not wrapped twice.
func Stage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// FailedStage returns the stage name carried by err, or "" when err was not
// produced by a stage.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Retryable reports whether a failed run may be retried. Consistency
// violations are deterministic for a given input and cancellation is a
// caller decision, so neither is retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConsistency, KindCancelled, KindConcurrentRun:
		return false
	default:
		return err != nil
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
