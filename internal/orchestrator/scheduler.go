package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tradepipe/internal/logging"
	"tradepipe/internal/pipeerr"
)

// TriggerSchedule is the trigger name recorded on scheduled runs.
const TriggerSchedule = "schedule"

// Scheduler triggers runs of one Orchestrator on a cron schedule. It is
// created stopped; Start and Stop bracket the period in which it fires, and
// Status exposes its state. A firing that finds a run still active is skipped.
type Scheduler struct {
	orch     *Orchestrator
	expr     string
	schedule cron.Schedule
	log      *logrus.Entry

	mu        sync.Mutex
	cron      *cron.Cron
	entry     cron.EntryID
	ctx       context.Context
	lastFired time.Time
	lastRunID string
	lastError string
	fired     int
	skipped   int
}

// SchedulerStatus is a point-in-time view of a Scheduler.
type SchedulerStatus struct {
	Expression string    `json:"expression"`
	Running    bool      `json:"running"`
	Next       time.Time `json:"next,omitempty"`
	LastFired  time.Time `json:"last_fired,omitempty"`
	LastRunID  string    `json:"last_run_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Fired      int       `json:"fired"`
	Skipped    int       `json:"skipped"`
}

// NewScheduler parses expr (five-field cron, "@every 15m", "@daily", ...).
func NewScheduler(o *Orchestrator, expr string) (*Scheduler, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	return newScheduler(o, expr, sched), nil
}

func newScheduler(o *Orchestrator, expr string, sched cron.Schedule) *Scheduler {
	return &Scheduler{
		orch:     o,
		expr:     expr,
		schedule: sched,
		log:      logging.For("scheduler").WithFields(logrus.Fields{"pipeline": o.Pipeline(), "schedule": expr}),
	}
}

// Start begins firing. Runs it triggers inherit ctx's values; stopping the
// scheduler does not cancel them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler: already running")
	}
	c := cron.New(cron.WithLogger(cron.PrintfLogger(s.log)))
	s.entry = c.Schedule(s.schedule, cron.FuncJob(s.fire))
	s.ctx = ctx
	s.cron = c
	c.Start()
	s.log.Info("scheduler: started")
	return nil
}

// Stop stops firing and waits for an in-flight firing to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("scheduler: stopped")
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SchedulerStatus{
		Expression: s.expr,
		Running:    s.cron != nil,
		LastFired:  s.lastFired,
		LastRunID:  s.lastRunID,
		LastError:  s.lastError,
		Fired:      s.fired,
		Skipped:    s.skipped,
	}
	if s.cron != nil {
		st.Next = s.cron.Entry(s.entry).Next
	}
	return st
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	id, err := s.orch.Trigger(ctx, TriggerSchedule)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired++
	s.lastFired = time.Now().UTC()
	switch {
	case err == nil:
		s.lastRunID, s.lastError = id, ""
		s.log.WithField("run_id", id).Info("scheduler: run triggered")
	case errors.Is(err, pipeerr.ErrConcurrentRun):
		s.skipped++
		s.lastError = err.Error()
		s.log.WithError(err).Warn("scheduler: run still active, skipping")
	default:
		s.lastError = err.Error()
		s.log.WithError(err).Error("scheduler: trigger failed")
	}
}
