// Package server exposes the pipeline over HTTP: one endpoint per stage, a
// full-pipeline endpoint, lineage queries, Prometheus metrics and a
// websocket log stream of run progress.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/vidocr/internal/pipeline"
	"github.com/MeKo-Tech/vidocr/internal/store"
	"github.com/MeKo-Tech/vidocr/internal/version"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	orchestrator *pipeline.Orchestrator
	stages       pipeline.Stages
	store        store.Store
	hub          *Hub
	rateLimiter  *RateLimiter
	corsOrigin   string
	maxUploadMB  int64
}

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	RateLimit   RateLimitConfig
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// StageRequest is the body of POST /stages/{stage}.
type StageRequest struct {
	ID *int64 `json:"id"`
}

// ErrorResponse is the body of every error the server produces itself,
// as opposed to errors passed through from a stage.
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New creates a server over a complete set of stage executors and the store
// they write to. Full pipeline runs report to the log stream, the stage
// metrics and observer, if given.
func New(cfg Config, stages pipeline.Stages, st store.Store, observer pipeline.Observer) (*Server, error) {
	hub := NewHub()
	observers := pipeline.MultiObserver{pipeline.NewLogObserver(slog.Default(), slog.LevelInfo), metricsObserver{}, hub}
	if observer != nil {
		observers = append(observers, observer)
	}
	orch, err := pipeline.New(stages, pipeline.WithObserver(observers))
	if err != nil {
		return nil, err
	}

	s := &Server{
		orchestrator: orch,
		stages:       stages,
		store:        st,
		hub:          hub,
		corsOrigin:   cfg.CORSOrigin,
		maxUploadMB:  cfg.MaxUploadMB,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if s.maxUploadMB <= 0 {
		s.maxUploadMB = 512
	}
	if cfg.RateLimit.Enabled() {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit)
	}
	return s, nil
}

// Hub returns the log stream hub.
func (s *Server) Hub() *Hub { return s.hub }

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/log-stream", s.hub)
	r.Get("/videos/{id}/lineage", s.lineageHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Post("/upload", s.uploadHandler)
		r.Post("/stages/{stage}", s.stageHandler)
		r.Post("/full_pipeline", s.fullPipelineHandler)
	})
	return r
}

func healthResponse() HealthResponse {
	return HealthResponse{
		Status:  "healthy",
		Version: version.Short(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
}
