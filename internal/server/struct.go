package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/corpusworks/corpusd/internal/auth"
	"github.com/corpusworks/corpusd/internal/blob"
	"github.com/corpusworks/corpusd/internal/ingest"
	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/query"
	"github.com/corpusworks/corpusd/internal/report"
	"github.com/corpusworks/corpusd/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on the data
	// plane (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// AdminToken is the Bearer token required on the management plane
	// (/teams and below). If empty, management auth is disabled (development
	// mode). Data-plane routes always require a team API key regardless.
	AdminToken string
	// Version is reported by GET /api/health.
	Version string
	// MetricsRegistry receives the server's Prometheus metrics.
	// Defaults to prometheus.DefaultRegisterer. Tests inject a fresh
	// prometheus.Registry to stay hermetic.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Deps bundles the collaborators the HTTP surface exposes. All fields are
// required; New rejects nil entries.
type Deps struct {
	// Store is the relational source of truth.
	Store *store.Store
	// Blob stores raw uploaded files.
	Blob blob.Store
	// Pipeline ingests pre-embedded batches and raw documents.
	Pipeline *ingest.Pipeline
	// Pool runs upload-triggered ingestion jobs off the request goroutine.
	Pool *ingest.Pool
	// Engine answers similarity queries.
	Engine *query.Engine
	// Reporter serves stats and cascade deletes.
	Reporter *report.Reporter
	// Auth authenticates API keys and enforces team boundaries.
	Auth *auth.Authorizer
}

// Server is the HTTP server for the corpusd API.
type Server struct {
	// store is the relational source of truth.
	store *store.Store
	// blob stores raw uploaded files.
	blob blob.Store
	// pipeline ingests pre-embedded batches and raw documents.
	pipeline *ingest.Pipeline
	// pool runs upload-triggered ingestion jobs.
	pool *ingest.Pool
	// engine answers similarity queries.
	engine *query.Engine
	// reporter serves stats and cascade deletes.
	reporter *report.Reporter
	// auth authenticates API keys and enforces team boundaries.
	auth *auth.Authorizer
	// cfg holds the resolved server configuration.
	cfg *Config
	// handler is the fully assembled middleware chain around the mux.
	handler http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds this instance's Prometheus metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// errorResponse is the JSON error envelope used by every failing endpoint.
type errorResponse struct {
	// Error is a human-readable description of what went wrong.
	Error string `json:"error"`
}

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	// Status is always "ok" when the process is alive.
	Status string `json:"status"`
	// Version is the build version, when known.
	Version string `json:"version,omitempty"`
}

// uploadResponse is the JSON response for POST /ingest/{team}/{project}/upload.
type uploadResponse struct {
	// Document is the stored document record, status "uploaded".
	Document *model.Document `json:"document"`
	// JobID identifies the ingestion job created for this upload. Poll the
	// document until its status leaves "uploaded"/"processing".
	JobID uuid.UUID `json:"job_id"`
}

// documentListResponse is the JSON response for GET /ingest/{team}/{project}/documents.
type documentListResponse struct {
	// Documents is ordered newest first.
	Documents []model.Document `json:"documents"`
}

// chunkListResponse is the JSON response for GET /ingest/documents/{id}/chunks.
// Embeddings are never serialized.
type chunkListResponse struct {
	DocumentID uuid.UUID `json:"document_id"`
	// Chunks is ordered by ascending chunk_index.
	Chunks []model.Chunk `json:"chunks"`
}

// deleteResponse is the JSON response for document and project deletion.
type deleteResponse struct {
	// ChunksDeleted is the number of chunks removed by the cascade.
	ChunksDeleted int64 `json:"chunks_deleted"`
}

// queryRequest is the JSON body for POST /query/{project}.
type queryRequest struct {
	// Embedding is the query vector; its width must match the corpus.
	Embedding []float32 `json:"embedding"`
	// TopK caps the result count. Zero means the server default.
	TopK int `json:"top_k,omitempty"`
	// QueryText is the optional original text, recorded in the audit log.
	QueryText string `json:"query_text,omitempty"`
}

// createTeamRequest is the JSON body for POST /teams.
type createTeamRequest struct {
	Name string `json:"name"`
}

// teamListResponse is the JSON response for GET /teams.
type teamListResponse struct {
	Teams []model.Team `json:"teams"`
}

// createProjectRequest is the JSON body for POST /teams/{team}/projects.
type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// projectListResponse is the JSON response for GET /teams/{team}/projects.
type projectListResponse struct {
	Projects []model.Project `json:"projects"`
}

// createKeyRequest is the JSON body for POST /teams/{team}/keys.
type createKeyRequest struct {
	Name string `json:"name"`
}

// createKeyResponse is the JSON response for POST /teams/{team}/keys.
// Key carries the raw secret and is returned exactly once; only its hash
// is stored.
type createKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	TeamID    uuid.UUID `json:"team_id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// keyListResponse is the JSON response for GET /teams/{team}/keys.
// Entries carry metadata only, never hashes or secrets.
type keyListResponse struct {
	Keys []model.APIKey `json:"keys"`
}

// revokeResponse is the JSON response for POST /teams/{team}/keys/{id}/revoke.
type revokeResponse struct {
	Revoked bool `json:"revoked"`
}
