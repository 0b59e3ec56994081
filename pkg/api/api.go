// Package api exposes the operational HTTP surface: sync history, aggregate
// stats, manual cycle triggering, health and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tablemirror/tablemirror/pkg/config"
	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/logger"
	"github.com/tablemirror/tablemirror/pkg/synclog"
)

const defaultHistoryLimit = 100

// Engine is the subset of the replication engine the API needs.
type Engine interface {
	SyncAll(ctx context.Context, pairs []config.SyncPair) error
	Running() bool
}

// HealthChecker reports backing-store health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server serves the operational API over plain HTTP.
type Server struct {
	cfg     config.APIConfig
	engine  Engine
	pairs   []config.SyncPair
	history *synclog.Store
	health  HealthChecker
	handler http.Handler
	server  *http.Server
	logger  *zap.Logger
}

// NewServer wires the handlers. Call Start to begin serving.
func NewServer(cfg config.APIConfig, engine Engine, pairs []config.SyncPair, history *synclog.Store, health HealthChecker) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		pairs:   pairs,
		history: history,
		health:  health,
		logger:  logger.Get().With(zap.String("component", "api")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	s.handler = mux

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("addr", s.cfg.Listen))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.ErrorTypeInternal, "api server failed")
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type historyResponse struct {
	Count   int             `json:"count"`
	Entries []synclog.Entry `json:"entries"`
}

// handleHistory returns the most recent sync-log entries, newest first.
// ?limit=N caps the count; it defaults to 100.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries := s.history.Snapshot()
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	// Snapshot is oldest first; the API serves newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	s.writeJSON(w, http.StatusOK, historyResponse{Count: len(entries), Entries: entries})
}

type statsResponse struct {
	synclog.Stats
	SyncRunning bool `json:"sync_running"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Stats:       s.history.Stats(),
		SyncRunning: s.engine.Running(),
	})
}

// handleSync triggers a sync cycle in the background. A cycle already in
// flight yields 409; acceptance is 202 since completion may be minutes away.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.engine.Running() {
		s.writeError(w, http.StatusConflict, "a sync cycle is already running")
		return
	}

	go func() {
		if err := s.engine.SyncAll(context.Background(), s.pairs); err != nil {
			s.logger.Error("triggered sync cycle failed", zap.Error(err))
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.health.Health(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
