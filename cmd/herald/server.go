package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"herald/internal/classify"
	"herald/internal/constants"
	"herald/internal/database"
	"herald/internal/middleware"
	"herald/internal/models"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	db       *database.Database
	recorder *classify.Recorder
	server   *http.Server
}

func NewServer(cfg *models.Config, db *database.Database, recorder *classify.Recorder, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		db:       db,
		recorder: recorder,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	// Health check and metrics
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Jobs
	api.HandleFunc("/jobs", s.handleEnqueueJob()).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs()).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob()).Methods(http.MethodGet)

	// Sessions
	api.HandleFunc("/sessions", s.handleCreateSession()).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/suspend", s.handleSessionStatus(models.SessionStatusSuspended)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/activate", s.handleSessionStatus(models.SessionStatusActive)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", s.handleResetSession()).Methods(http.MethodPost)

	// Campaign controls
	api.HandleFunc("/campaigns/{id}/pause", s.handleCampaignPause(true)).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/resume", s.handleCampaignPause(false)).Methods(http.MethodPost)

	// Suppression ledger
	api.HandleFunc("/suppressions", s.handleAddSuppression()).Methods(http.MethodPost)
	api.HandleFunc("/suppressions", s.handleListSuppressions()).Methods(http.MethodGet)

	// Provider reply webhook
	replies := s.router.PathPrefix("/webhook/replies").Subrouter()
	replies.HandleFunc("", s.handleReplyWebhook()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.ServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.ServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.ServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
