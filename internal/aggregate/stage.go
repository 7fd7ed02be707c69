package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tradepipe/internal/layer"
	"tradepipe/internal/logging"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/storage"
)

// Name is the stage name used in errors, logs and metrics.
const Name = "aggregate"

// Result is the outcome of one aggregation run.
type Result struct {
	TradesIn int
	Clients  int
	Manifest storage.Manifest
}

// Stage reads the cleaned layer of Store and publishes the summary layer.
type Stage struct {
	Store storage.Accessor

	// Partitions is passed to Aggregate.
	Partitions int
}

// Run aggregates the current cleaned snapshot. On any failure the previous
// summary snapshot stays in place.
func (s *Stage) Run(ctx context.Context, runID string) (Result, error) {
	if s.Store == nil {
		return Result{}, pipeerr.Stage(Name, fmt.Errorf("aggregate: no storage configured"))
	}
	start := time.Now()

	details, err := s.Store.Read(ctx, layer.Cleaned, schema.DatasetTradeDetail)
	if err != nil {
		return Result{}, pipeerr.Stage(Name, err)
	}
	res := Result{TradesIn: details.Len()}

	out, err := Aggregate(ctx, details, s.Partitions)
	if err != nil {
		return res, pipeerr.Stage(Name, err)
	}
	if err := ctx.Err(); err != nil {
		return res, pipeerr.Stage(Name, err)
	}

	m, err := s.Store.Write(ctx, layer.Summary, schema.DatasetClientInvestment, out, storage.WriteMeta{RunID: runID})
	if err != nil {
		return res, pipeerr.Stage(Name, err)
	}
	res.Clients, res.Manifest = out.Len(), m
	logging.For(Name).WithFields(logrus.Fields{
		"run_id":    runID,
		"trades_in": res.TradesIn,
		"clients":   res.Clients,
		"version":   m.Version,
		"elapsed":   time.Since(start).Truncate(time.Millisecond),
	}).Info("aggregate: summary snapshot published")
	return res, nil
}
