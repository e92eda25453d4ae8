// SPDX-License-Identifier: MIT

// Package statusapi serves the daemon's observability surface: liveness,
// readiness, the latest health snapshot, and Prometheus metrics.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zonelift/zonelift/internal/healthmon"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/runlog"
)

// SnapshotSource yields the latest health snapshot, nil when none exists.
type SnapshotSource func() (*healthmon.Snapshot, error)

// Server is the HTTP status endpoint of the daemon.
type Server struct {
	addr     string
	snapshot SnapshotSource
	runs     *runlog.Store // nil hides the runs endpoint
	srv      *http.Server
}

// New creates a status server listening on addr.
func New(addr string, snapshot SnapshotSource, runs *runlog.Store) *Server {
	s := &Server{addr: addr, snapshot: snapshot, runs: runs}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/status", s.handleStatus)
	if s.runs != nil {
		r.Get("/runs", s.handleRuns)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "statusapi")
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	logger.Info().
		Str("event", "statusapi.listening").
		Str("addr", s.addr).
		Msg("status server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready once at least one health snapshot exists.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.snapshot()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": err.Error()})
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no snapshot yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.snapshot()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no health snapshot available"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.Latest(r.Context(), 20)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
