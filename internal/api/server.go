// Package api exposes engine status and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"microbeat/internal/clock"
	"microbeat/internal/engine"
	"microbeat/internal/metrics"
	"microbeat/internal/store"
	"microbeat/internal/tracker"
	"microbeat/pkg/logx"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 3 * time.Second
	maxBatchLimit     = 500
)

// Config controls the HTTP surface.
type Config struct {
	Listen string // default ":8980"

	// Pprof mounts net/http/pprof under /debug/pprof. Off by default;
	// only enable on a loopback or otherwise guarded listen address.
	Pprof bool
}

// Deps are the engine views the API reads from. Store may be nil.
type Deps struct {
	Scheduler *engine.Scheduler
	Receivers *tracker.Receivers
	Metrics   *metrics.Engine
	Store     store.Store
}

type Server struct {
	deps      Deps
	log       logx.Logger
	srv       *http.Server
	startedAt time.Time
}

func NewServer(cfg Config, deps Deps, log logx.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8980"
	}
	s := &Server{deps: deps, log: log, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/batches", s.handleBatches)
	})
	if cfg.Pprof {
		mountPprof(r)
	}

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func mountPprof(r chi.Router) {
	r.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/", hpprof.Index)
		r.Get("/cmdline", hpprof.Cmdline)
		r.Get("/profile", hpprof.Profile)
		r.Get("/symbol", hpprof.Symbol)
		r.Post("/symbol", hpprof.Symbol)
		r.Get("/trace", hpprof.Trace)
		r.Get("/{name}", func(w http.ResponseWriter, req *http.Request) {
			hpprof.Handler(chi.URLParam(req, "name")).ServeHTTP(w, req)
		})
	})
}

// Start serves in a new goroutine until Stop.
func (s *Server) Start() {
	go func() {
		s.log.Info("api listening", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api serve failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.Waiter().Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Now          clock.Time             `json:"now"`
	Uptime       string                 `json:"uptime"`
	PendingSets  int                    `json:"pending_sets"`
	PendingTimes []clock.Time           `json:"pending_times"`
	Receivers    []tracker.ReceiverInfo `json:"receivers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending := s.deps.Scheduler.PendingTimes()
	resp := statusResponse{
		Now:          clock.Now(),
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
		PendingSets:  len(pending),
		PendingTimes: pending,
		Receivers:    s.deps.Receivers.Active(),
	}
	if resp.PendingTimes == nil {
		resp.PendingTimes = []clock.Time{}
	}
	if resp.Receivers == nil {
		resp.Receivers = []tracker.ReceiverInfo{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxBatchLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	batches, err := s.deps.Store.RecentBatches(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if batches == nil {
		batches = []store.BatchRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
