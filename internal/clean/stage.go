package clean

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
	"tradepipe/internal/transformer"
)

// Name is the stage name used in errors, logs and metrics.
const Name = "clean"

// maxLoggedRejects bounds the per-run debug lines for dropped rows.
const maxLoggedRejects = 20

// Result is the outcome of one cleaning run.
type Result struct {
	Stats    Stats
	Manifest storage.Manifest
}

// Stage reads the raw layer of Store and publishes the cleaned layer.
type Stage struct {
	Store   storage.Accessor
	Cleaner Cleaner
}

// Run cleans the current raw snapshots. Nothing is published when ctx is done
// before the write starts.
func (s *Stage) Run(ctx context.Context, runID string) (Result, error) {
	if s.Store == nil {
		return Result{}, pipeerr.Stage(Name, fmt.Errorf("clean: no storage configured"))
	}
	log := logging.For(Name).WithField("run_id", runID)
	start := time.Now()

	trades, err := s.Store.Read(ctx, layer.Raw, schema.DatasetTrade)
	if err != nil {
		return Result{}, pipeerr.Stage(Name, err)
	}
	clients, err := s.Store.Read(ctx, layer.Raw, schema.DatasetClient)
	if err != nil {
		return Result{}, pipeerr.Stage(Name, err)
	}

	c := s.Cleaner
	logged := 0
	next := c.Reject
	c.Reject = func(r transformer.Rejected) {
		if logged < maxLoggedRejects {
			logged++
			log.WithFields(logrus.Fields{"step": r.Step, "reason": r.Reason}).Debug("clean: row dropped")
		}
		next.Call(r.Step, r.Row, r.Reason)
	}

	out, st, err := c.Clean(trades, clients)
	if err != nil {
		return Result{Stats: st}, pipeerr.Stage(Name, err)
	}
	if err := ctx.Err(); err != nil {
		return Result{Stats: st}, pipeerr.Stage(Name, err)
	}

	m, err := s.Store.Write(ctx, layer.Cleaned, schema.DatasetTradeDetail, out, storage.WriteMeta{RunID: runID})
	if err != nil {
		return Result{Stats: st}, pipeerr.Stage(Name, err)
	}
	log.WithFields(logrus.Fields{
		"trades_in":      st.TradesIn,
		"clients_in":     st.ClientsIn,
		"rows":           st.Rows,
		"dropped":        st.Dropped(),
		"trade_rejects":  st.TradeRejects,
		"client_rejects": st.ClientRejects,
		"version":        m.Version,
		"elapsed":        time.Since(start).Truncate(time.Millisecond),
	}).Info("clean: cleaned snapshot published")
	return Result{Stats: st, Manifest: m}, nil
}
