package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corpusworks/corpusd/internal/auth"
	"github.com/corpusworks/corpusd/internal/embedder"
	"github.com/corpusworks/corpusd/internal/extract"
	"github.com/corpusworks/corpusd/internal/ingest"
	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/query"
	"github.com/corpusworks/corpusd/internal/report"
	"github.com/corpusworks/corpusd/internal/server"
	"github.com/corpusworks/corpusd/internal/version"
)

// NewServeCmd constructs the `corpusd serve` command, which starts the HTTP
// API and runs it until interrupted.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the corpusd HTTP API",
		Long: `Start the corpusd HTTP API on localhost.

The server exposes a management plane for teams, projects, and API keys
(Bearer CORPUSD_ADMIN_TOKEN), a per-team data plane for ingestion and
queries (Bearer team API keys), and unauthenticated health, readiness,
and Prometheus metrics endpoints.

Core environment variables:
  CORPUSD_ADMIN_TOKEN      Management-plane token (unset disables admin auth)
  CORPUSD_DB_PATH          SQLite path (default: ~/.corpusd/corpus.db)
  CORPUSD_BLOB_DIR         Uploaded file directory (default: ~/.corpusd/blobs)
  CORPUSD_INDEX_BACKEND    Vector index: exact or qdrant (default: exact)
  CORPUSD_EMBEDDER         Embedding backend: ollama, openai, azure, none
  CORPUSD_WORKERS          Ingestion worker goroutines (default: 4)
  CORPUSD_QUEUE_DEPTH      Pending ingestion job capacity (default: 64)

Examples:
  corpusd serve
  corpusd serve --port 9090
  CORPUSD_INDEX_BACKEND=qdrant corpusd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("index_backend", getEnvOrDefault("CORPUSD_INDEX_BACKEND", "exact")),
				slog.String("embedder", getEnvOrDefault("CORPUSD_EMBEDDER", "auto")),
			)

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			// Jobs left running by a crashed process can never complete.
			swept, err := st.FailStaleJobs(ctx)
			if err != nil {
				return fmt.Errorf("serve: sweep stale jobs: %w", err)
			}
			if swept > 0 {
				log.Warn("failed stale ingestion jobs from a previous run", slog.Int64("count", swept))
			}

			blobs, err := openBlobStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if emb != nil {
				if err := embedder.Validate(ctx, log, emb, model.EmbeddingDim); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				log.Info("embedder ready", slog.String("model", emb.Name()), slog.Int("dimensions", emb.Dimensions()))
			} else {
				log.Info("embedding disabled; file uploads will be rejected, pre-embedded ingestion still works")
			}

			idx, err := buildIndex(ctx, st, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = idx.Close() }()

			jobTimeout := time.Duration(getEnvInt("CORPUSD_JOB_TIMEOUT_SECONDS", 120)) * time.Second
			pool := ingest.NewPool(
				getEnvInt("CORPUSD_WORKERS", 4),
				getEnvInt("CORPUSD_QUEUE_DEPTH", 64),
				jobTimeout,
				log,
			)

			pipe, err := ingest.NewPipeline(st, idx, emb, extract.NewPlainText(), ingestConfigFromEnv())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			engine := query.NewEngine(st, idx)
			engine.SetTopKBounds(getEnvInt("CORPUSD_DEFAULT_TOP_K", 0), getEnvInt("CORPUSD_MAX_TOP_K", 0))

			if host == "" {
				host = getEnvOrDefault("CORPUSD_HOST", "127.0.0.1")
			}
			if port == 0 {
				port = getEnvInt("CORPUSD_PORT", 8080)
			}

			srv, err := server.New(&server.Deps{
				Store:    st,
				Blob:     blobs,
				Pipeline: pipe,
				Pool:     pool,
				Engine:   engine,
				Reporter: report.NewReporter(st, idx),
				Auth:     auth.NewAuthorizer(st),
			}, &server.Config{
				Host:       host,
				Port:       port,
				Logger:     log,
				Pingers:    buildPingers(st, idx, emb),
				RateLimit:  getEnvFloat("CORPUSD_RATE_LIMIT_RPS", 0),
				RateBurst:  getEnvInt("CORPUSD_RATE_LIMIT_BURST", 0),
				AdminToken: os.Getenv("CORPUSD_ADMIN_TOKEN"),
				Version:    version.Version,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			err = srv.Start(ctx)

			// Drain in-flight ingestion jobs before the store closes under them.
			drainCtx, cancel := context.WithTimeout(context.Background(), jobTimeout+5*time.Second)
			defer cancel()
			if derr := pool.Shutdown(drainCtx); derr != nil {
				log.Warn("worker pool drain incomplete", slog.Any("error", derr))
			}

			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: CORPUSD_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: CORPUSD_PORT or 8080)")

	return cmd
}
