package orchestrator

import (
	"time"

	"tradepipe/internal/pipeerr"
)

// State is the position of a run in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateIngesting   State = "ingesting"
	StateCleaning    State = "cleaning"
	StateAggregating State = "aggregating"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

// StageTiming records one stage of the last attempt.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunReport is a snapshot of a run. Reports handed out by the Orchestrator
// are copies and never change after being returned.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Pipeline   string    `json:"pipeline"`
	Trigger    string    `json:"trigger"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Stages covers the last attempt only.
	Stages []StageTiming `json:"stages,omitempty"`

	Ingested    int `json:"ingested"`
	ParseErrors int `json:"parse_errors"`
	Cleaned     int `json:"cleaned"`
	Dropped     int `json:"dropped"`
	Clients     int `json:"clients"`

	// SummaryVersion is the summary manifest version this run published.
	SummaryVersion int64 `json:"summary_version,omitempty"`

	FailedStage string       `json:"failed_stage,omitempty"`
	ErrorKind   pipeerr.Kind `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func (r RunReport) clone() RunReport {
	r.Stages = append([]StageTiming(nil), r.Stages...)
	return r
}

// RunNotFoundError is returned for run IDs the Orchestrator does not know,
// including ones evicted from history.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string { return "run " + e.RunID + " not found" }

func (e *RunNotFoundError) Is(target error) bool { return target == pipeerr.ErrNotFound }
