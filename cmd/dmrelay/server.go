package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dmrelay/internal/constants"
	apperrors "dmrelay/internal/errors"
	"dmrelay/internal/metrics"
	"dmrelay/internal/middleware"
	"dmrelay/internal/probe"
	"dmrelay/internal/session"
	"dmrelay/internal/store"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the client's diagnostics over HTTP for dashboards and
// scripted health checks. It never exposes message content beyond what the
// attempt history already carries.
type Server struct {
	router      *mux.Router
	logger      *logrus.Logger
	diagnostics *probe.Diagnostics
	session     *session.Session
	store       *store.Store
	server      *http.Server
	port        int
}

func NewServer(diagnostics *probe.Diagnostics, sess *session.Session, st *store.Store, port int, logger *logrus.Logger) *Server {
	if port <= 0 {
		port = constants.DefaultServerPort
	}
	s := &Server{
		router:      mux.NewRouter(),
		logger:      logger,
		diagnostics: diagnostics,
		session:     sess,
		store:       st,
		port:        port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/diagnostics", s.handleDiagnostics()).Methods(http.MethodGet)
	api.HandleFunc("/queue", s.handleQueue()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting diagnostics server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, map[string]interface{}{
			"status":    "ok",
			"localMode": s.session.LocalMode(),
		})
	}
}

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(metrics.GetAllMetrics()); err != nil {
			s.logger.WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

// handleDiagnostics runs the connectivity battery on demand. Format trials
// are excluded here: they send real messages and belong behind an explicit
// CLI invocation, not a GET.
func (s *Server) handleDiagnostics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := s.diagnostics.Run(r.Context(), probe.Options{})
		s.writeJSON(w, report)
	}
}

func (s *Server) handleQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := s.store.Count(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Failed to count offline queue")
			status := apperrors.HTTPStatusCode(err)
			http.Error(w, http.StatusText(status), status)
			return
		}
		s.writeJSON(w, map[string]interface{}{
			"queued":    count,
			"localMode": s.session.LocalMode(),
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
