// Package api exposes the query facade and the orchestrator over HTTP.
//
// Routes:
//
//	GET  /healthz                          → liveness
//	GET  /v1/client-investments            → summary rows (?client_id=&region=, repeatable or comma-separated)
//	GET  /v1/client-investments/totals     → grand and per-region totals, same filters
//	POST /v1/runs                          → trigger a run; 202 with its ID, 409 if one is active
//	GET  /v1/runs                          → run history, newest first
//	GET  /v1/runs/{id}                     → one run report
//	POST /v1/runs/{id}/cancel              → request cancellation
//	GET  /v1/schedule                      → scheduler status
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradepipe/internal/logging"
	"tradepipe/internal/orchestrator"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/query"
)

// TriggerAPI is the trigger name recorded on runs started over HTTP.
const TriggerAPI = "api"

// Config controls server startup.
type Config struct {
	Addr string

	// RatePerSecond and Burst configure the shared request limiter; a
	// non-positive rate disables limiting.
	RatePerSecond float64
	Burst         int
}

// Server wraps http.Server with the API routes.
type Server struct {
	cfg     Config
	router  chi.Router
	query   *query.Facade
	orch    *orchestrator.Orchestrator
	sched   *orchestrator.Scheduler
	limiter *rate.Limiter
	srv     *http.Server
	log     *logrus.Entry
}

// NewServer constructs a Server. sched may be nil when no schedule is
// configured.
func NewServer(cfg Config, q *query.Facade, o *orchestrator.Orchestrator, sched *orchestrator.Scheduler) *Server {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		query:  q,
		orch:   o,
		sched:  sched,
		log:    logging.For("api"),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	s.routes()
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.Addr).Info("api: listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/client-investments", s.handleClientInvestments)
		r.Get("/client-investments/totals", s.handleTotals)

		r.Post("/runs", s.handleTrigger)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}", s.handleRun)
		r.Post("/runs/{id}/cancel", s.handleCancel)

		r.Get("/schedule", s.handleSchedule)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.log.WithField("path", r.URL.Path).Warn("api: rate limit exceeded")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: http.StatusText(http.StatusTooManyRequests)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"request_id": middleware.GetReqID(r.Context()),
			"elapsed":    time.Since(start).Truncate(time.Microsecond),
		}).Debug("api: request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClientInvestments(w http.ResponseWriter, r *http.Request) {
	res, err := s.query.Query(r.Context(), filterFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	res, err := s.query.Totals(r.Context(), filterFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := s.orch.Trigger(r.Context(), TriggerAPI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.orch.Runs()})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rep, err := s.orch.Run(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Cancel(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no schedule configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Status())
}

// filterFrom reads client_id and region, each repeatable and comma-separated.
func filterFrom(r *http.Request) query.Filter {
	q := r.URL.Query()
	return query.Filter{
		ClientIDs: splitValues(q["client_id"]),
		Regions:   splitValues(q["region"]),
	}
}

func splitValues(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

type errorBody struct {
	Error string       `json:"error"`
	Kind  pipeerr.Kind `json:"kind,omitempty"`
}

// statusFor maps error kinds to HTTP statuses.
func statusFor(k pipeerr.Kind) int {
	switch k {
	case pipeerr.KindNotFound:
		return http.StatusNotFound
	case pipeerr.KindConcurrentRun:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := pipeerr.KindOf(err)
	status := statusFor(kind)
	if status >= 500 {
		s.log.WithFields(logrus.Fields{"path": r.URL.Path, "error_kind": kind}).WithError(err).Error("api: request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
