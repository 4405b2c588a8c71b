package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/blob"
	"github.com/corpusworks/corpusd/internal/embedder"
	"github.com/corpusworks/corpusd/internal/index"
	"github.com/corpusworks/corpusd/internal/ingest"
	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/server"
	"github.com/corpusworks/corpusd/internal/store"
)

// getEnvOrDefault returns the environment variable value or a fallback.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the environment variable parsed as int, or a fallback.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvFloat returns the environment variable parsed as float64, or a fallback.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// openStore opens the SQLite store at CORPUSD_DB_PATH, falling back to the
// default path (~/.corpusd/corpus.db).
func openStore(log *slog.Logger) (*store.Store, error) {
	path := os.Getenv("CORPUSD_DB_PATH")
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	log.Info("store opened", slog.String("path", path))
	return st, nil
}

// openBlobStore opens the filesystem blob store at CORPUSD_BLOB_DIR, falling
// back to the default directory (~/.corpusd/blobs).
func openBlobStore(log *slog.Logger) (blob.Store, error) {
	dir := os.Getenv("CORPUSD_BLOB_DIR")
	if dir == "" {
		var err error
		dir, err = blob.DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	fs, err := blob.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("open blob store at %s: %w", dir, err)
	}
	log.Info("blob store ready", slog.String("dir", dir))
	return fs, nil
}

// buildIndex constructs the vector index selected by CORPUSD_INDEX_BACKEND.
// The exact backend lives in memory, so it is replayed from the store before
// being handed out; the qdrant backend connects to the live collection.
func buildIndex(ctx context.Context, st *store.Store, log *slog.Logger) (index.Index, error) {
	backend := getEnvOrDefault("CORPUSD_INDEX_BACKEND", "exact")
	switch backend {
	case "exact":
		idx := index.NewExact(model.EmbeddingDim)
		n, err := replayIndex(ctx, st, idx)
		if err != nil {
			return nil, fmt.Errorf("rebuild exact index: %w", err)
		}
		log.Info("exact index rebuilt", slog.Int("vectors", n))
		return idx, nil

	case "qdrant":
		host := getEnvOrDefault("CORPUSD_QDRANT_HOST", "localhost")
		port := getEnvInt("CORPUSD_QDRANT_PORT", 6334)
		collection := getEnvOrDefault("CORPUSD_QDRANT_COLLECTION", "corpus_chunks")
		idx, err := index.NewQdrant(ctx, &index.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			VectorSize: model.EmbeddingDim,
			APIKey:     os.Getenv("CORPUSD_QDRANT_API_KEY"),
			UseTLS:     os.Getenv("CORPUSD_QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, fmt.Errorf("connect to qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("qdrant index ready",
			slog.String("host", host),
			slog.Int("port", port),
			slog.String("collection", collection),
		)
		return idx, nil

	default:
		return nil, fmt.Errorf("unknown index backend %q (want exact or qdrant)", backend)
	}
}

// replayBatch is the number of points sent to the index per Upsert while
// replaying stored embeddings.
const replayBatch = 256

// replayIndex streams every embedded chunk from the store into the index in
// batches and returns the number of points written. Chunk IDs are stable, so
// replaying over existing points is idempotent.
func replayIndex(ctx context.Context, st *store.Store, idx index.Index) (int, error) {
	batch := make([]index.Point, 0, replayBatch)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := idx.Upsert(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	err := st.ForEachEmbeddedChunk(ctx, func(chunkID, documentID, projectID uuid.UUID, seq int64, embedding []float32) error {
		batch = append(batch, index.Point{
			ChunkID:    chunkID,
			DocumentID: documentID,
			ProjectID:  projectID,
			Seq:        seq,
			Vector:     embedding,
		})
		if len(batch) == replayBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// buildPingers assembles the dependency probes behind GET /api/ready. The
// embedder probe is omitted when embedding is disabled.
func buildPingers(st *store.Store, idx index.Index, emb embedder.Embedder) []server.Pinger {
	pingers := []server.Pinger{
		server.NewStorePinger(st),
		server.NewIndexPinger(idx),
	}
	if emb != nil {
		pingers = append(pingers, server.NewEmbedderPinger(emb))
	}
	return pingers
}

// ingestConfigFromEnv reads the chunking and batching knobs. Zero values keep
// the pipeline defaults.
func ingestConfigFromEnv() *ingest.Config {
	return &ingest.Config{
		ChunkSize:    getEnvInt("CORPUSD_CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("CORPUSD_CHUNK_OVERLAP", 0),
		EmbedBatch:   getEnvInt("CORPUSD_EMBED_BATCH", 0),
	}
}

// resolveProject looks up a project by team and project reference (name or
// UUID) for the one-shot commands, which bypass the HTTP tenancy layer.
func resolveProject(ctx context.Context, st *store.Store, teamRef, projectRef string) (*model.Project, error) {
	team, err := st.TeamByRef(ctx, teamRef)
	if err != nil {
		return nil, fmt.Errorf("team %q: %w", teamRef, err)
	}
	project, err := st.ProjectByRef(ctx, team.ID, projectRef)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", projectRef, err)
	}
	return project, nil
}
