// Package server exposes the read-only status API: health, version, and
// run history backed by the run store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/runstore"
)

// Config carries the listen address and HTTP timeouts.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the status API.
type Server struct {
	cfg     Config
	store   *runstore.Store
	version string
	logger  *zap.Logger
	router  chi.Router
}

// New builds the server and its routes. The run store may be nil, in which
// case the run endpoints report service unavailable.
func New(cfg Config, store *runstore.Store, version string, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, store: store, version: version, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured listen port.
func (s *Server) Port() int { return s.cfg.Port }

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := s.cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: s.version})
}

func (s *Server) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type runResponse struct {
	Run       runstore.Run        `json:"run"`
	Artifacts []runstore.Artifact `json:"artifacts,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, req *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_RUN_STORE", "run store is not configured")
		return
	}

	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
	}

	runs, err := s.store.ListRuns(req.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list runs")
		return
	}
	if runs == nil {
		runs = []runstore.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, req *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_RUN_STORE", "run store is not configured")
		return
	}

	id := chi.URLParam(req, "id")
	run, err := s.store.GetRun(req.Context(), id)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load run")
		return
	}

	artifacts, err := s.store.ListArtifacts(req.Context(), id)
	if err != nil {
		s.logger.Error("list artifacts failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to load artifacts")
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Artifacts: artifacts})
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
