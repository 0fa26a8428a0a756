// Package httpserver provides the HTTP REST API server for the research aggregation service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/helixir/research-aggregation-service/internal/aggregator"
	"github.com/helixir/research-aggregation-service/internal/domain"
)

// Searcher runs one aggregated search. *aggregator.Aggregator implements it.
type Searcher interface {
	SearchAll(ctx context.Context, query string, sources domain.EnabledSources, maxPerSource int) (*aggregator.SearchResponse, error)
}

// SourceStatus reports backend availability for readiness checks.
// *papersources.Registry implements it.
type SourceStatus interface {
	EnabledTags() []domain.SourceTag
	QueueDepths() map[string]int
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	searcher   Searcher
	status     SourceStatus
	defaults   SearchDefaults
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// SearchDefaults fill in request fields the client leaves out.
type SearchDefaults struct {
	// MaxPerSource applies when max_per_source is 0.
	MaxPerSource int
	// Sources apply when the request has no sources object.
	Sources domain.EnabledSources
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(
	cfg Config,
	searcher Searcher,
	status SourceStatus,
	defaults SearchDefaults,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		searcher: searcher,
		status:   status,
		defaults: defaults,
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/research", func(r chi.Router) {
		r.Post("/search", s.search)
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports the enabled sources and their queue depths.
// The service is not ready when no source can serve a search.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	tags := s.status.EnabledTags()
	sources := make([]string, len(tags))
	for i, tag := range tags {
		sources[i] = tag.String()
	}

	resp := readinessResponse{
		Status:  "ready",
		Sources: sources,
		Queues:  s.status.QueueDepths(),
	}
	if len(sources) == 0 {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
