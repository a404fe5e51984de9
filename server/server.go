// Package server exposes the administrative HTTP surface: job
// registration and lifecycle, plus the execution ledger.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chimeworks/chime/dispatch"
	"github.com/chimeworks/chime/schedule"
)

// Server serves the admin API over HTTP
type Server struct {
	jobs          *schedule.Store
	dispatcher    *dispatch.Dispatcher
	runOnRegister bool
	httpServer    *http.Server
	logger        *zap.SugaredLogger
}

// Config contains configuration for the admin server
type Config struct {
	Port          int
	RunOnRegister bool // Dispatch a job immediately when it is registered enabled
}

// New creates an admin server over the job store and dispatcher
func New(jobs *schedule.Store, dispatcher *dispatch.Dispatcher, cfg Config, log *zap.SugaredLogger) *Server {
	s := &Server{
		jobs:          jobs,
		dispatcher:    dispatcher,
		runOnRegister: cfg.RunOnRegister,
		logger:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/jobs", s.handleJobs)             // List/create jobs (GET/POST)
	mux.HandleFunc("/api/jobs/", s.handleJob)             // Individual job and sub-resources
	mux.HandleFunc("/api/executions", s.handleExecutions) // List executions (GET)
	mux.HandleFunc("/api/executions/", s.handleExecution) // Individual execution (GET) and cancel (POST /cancel)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Infow("Admin server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
