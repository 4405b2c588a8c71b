// Package server implements the HTTP surface of corpusd: a team-scoped data
// plane for document ingestion and similarity queries, an admin-only
// management plane for teams, projects, and API keys, and the operational
// endpoints (health, readiness, metrics).
// The server is started by the `corpusd serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corpusworks/corpusd/internal/ingest"
	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/model"
)

// New constructs a Server from the provided dependencies and config.
func New(deps *Deps, cfg *Config) (*Server, error) {
	if deps == nil {
		return nil, fmt.Errorf("server: deps must not be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if deps.Blob == nil {
		return nil, fmt.Errorf("server: blob store must not be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("server: worker pool must not be nil")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("server: query engine must not be nil")
	}
	if deps.Reporter == nil {
		return nil, fmt.Errorf("server: reporter must not be nil")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("server: authorizer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		store:    deps.Store,
		blob:     deps.Blob,
		pipeline: deps.Pipeline,
		pool:     deps.Pool,
		engine:   deps.Engine,
		reporter: deps.Reporter,
		auth:     deps.Auth,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry, deps.Pool.Queued),
	}

	if cfg.AdminToken == "" {
		s.log.Warn("management plane authentication is disabled; set an admin token outside development")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	mux := http.NewServeMux()

	// Operational endpoints: unauthenticated so probes and scrapers work
	// without credentials.
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	// Management plane: static admin Bearer token.
	admin := func(h http.HandlerFunc) http.Handler {
		return adminAuth(cfg.AdminToken, h)
	}
	mux.Handle("POST /teams", admin(s.handleTeamCreate))
	mux.Handle("GET /teams", admin(s.handleTeamList))
	mux.Handle("POST /teams/{team}/projects", admin(s.handleProjectCreate))
	mux.Handle("GET /teams/{team}/projects", admin(s.handleProjectList))
	mux.Handle("DELETE /teams/{team}/projects/{project}", admin(s.handleProjectDelete))
	mux.Handle("POST /teams/{team}/keys", admin(s.handleKeyCreate))
	mux.Handle("GET /teams/{team}/keys", admin(s.handleKeyList))
	mux.Handle("POST /teams/{team}/keys/{id}/revoke", admin(s.handleKeyRevoke))

	// Data plane: per-team API keys, per-IP rate limiting.
	data := func(h http.HandlerFunc) http.Handler {
		return rl.limit(s.keyAuth(h))
	}
	mux.Handle("POST /ingest/{team}/{project}/upload", data(s.handleUpload))
	mux.Handle("POST /ingest/{team}/{project}/chunks", data(s.handleChunkBatch))
	mux.Handle("GET /ingest/{team}/{project}/documents", data(s.handleDocumentList))
	mux.Handle("GET /ingest/{team}/{project}/stats", data(s.handleProjectStats))
	mux.Handle("GET /ingest/documents/{id}", data(s.handleDocumentGet))
	mux.Handle("GET /ingest/documents/{id}/chunks", data(s.handleChunkList))
	mux.Handle("DELETE /ingest/documents/{id}", data(s.handleDocumentDelete))
	mux.Handle("POST /query/{project}", data(s.handleQuery))

	s.handler = requestLogger(s.log, s.instrument(mux))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully assembled handler chain. It exists so callers can
// serve the API through their own listener, and so tests can exercise routing
// and middleware without binding a port.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("corpusd api listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.cfg.Version})
}

// statusFor maps service-layer sentinel errors to HTTP status codes.
// Unknown errors are internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ingest.ErrSaturated), errors.Is(err, ingest.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already committed; an encode failure here means the
	// client went away.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and writes the JSON error envelope.
// Causes mapping to 5xx are logged and never leak their message to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			slog.Int("status", status),
			slog.Any("error", err),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// badRequest writes a 400 error envelope for malformed JSON or parameters.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
