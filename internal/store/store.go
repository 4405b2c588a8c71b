// Package store persists the full ownership graph of the service: teams,
// projects, API keys, documents, chunks, ingestion jobs, and the append-only
// query audit log. It is backed by a local SQLite database and is the source
// of truth the vector index is rebuilt from.
//
// All write paths that must be atomic (a document and its chunk batch, a
// cascade delete) run inside a single transaction. Embeddings are stored as
// little-endian float32 blobs.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Store wraps the SQLite connection. It is safe for concurrent use; writes
// are serialized by the single connection.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the corpus database. It
// resolves to ~/.corpusd/corpus.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".corpusd")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "corpus.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS teams (
    id         TEXT    PRIMARY KEY,
    name       TEXT    NOT NULL UNIQUE,
    created_at INTEGER NOT NULL  -- Unix timestamp (seconds)
);

CREATE TABLE IF NOT EXISTS projects (
    id          TEXT    PRIMARY KEY,
    team_id     TEXT    NOT NULL REFERENCES teams(id),
    name        TEXT    NOT NULL,
    description TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    UNIQUE (team_id, name)
);

CREATE TABLE IF NOT EXISTS api_keys (
    id         TEXT    PRIMARY KEY,
    team_id    TEXT    NOT NULL REFERENCES teams(id),
    name       TEXT    NOT NULL,
    key_hash   TEXT    NOT NULL UNIQUE,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    id          TEXT    PRIMARY KEY,
    project_id  TEXT    NOT NULL REFERENCES projects(id),
    source_type TEXT    NOT NULL CHECK(source_type IN ('upload','url','manual')),
    title       TEXT    NOT NULL,
    source_url  TEXT    NOT NULL DEFAULT '',
    blob_uri    TEXT    NOT NULL DEFAULT '',
    mime_type   TEXT    NOT NULL DEFAULT '',
    size_bytes  INTEGER NOT NULL DEFAULT 0,
    status      TEXT    NOT NULL CHECK(status IN ('uploaded','processing','ready','failed')),
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_project_created
    ON documents (project_id, created_at);

-- seq doubles as the global chunk creation order used for deterministic
-- tie-breaking at query time.
CREATE TABLE IF NOT EXISTS chunks (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT    NOT NULL UNIQUE,
    document_id TEXT    NOT NULL REFERENCES documents(id),
    chunk_index INTEGER NOT NULL,
    content     TEXT    NOT NULL,
    embedding   BLOB,
    page_start  INTEGER,
    page_end    INTEGER,
    char_start  INTEGER,
    char_end    INTEGER,
    token_count INTEGER,
    created_at  INTEGER NOT NULL,
    UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_document
    ON chunks (document_id, chunk_index);

CREATE TABLE IF NOT EXISTS ingestion_jobs (
    id              TEXT    PRIMARY KEY,
    document_id     TEXT    NOT NULL REFERENCES documents(id),
    status          TEXT    NOT NULL CHECK(status IN ('queued','running','succeeded','failed')),
    error_message   TEXT    NOT NULL DEFAULT '',
    chunks_created  INTEGER NOT NULL DEFAULT 0,
    embedding_model TEXT    NOT NULL DEFAULT '',
    started_at      INTEGER,
    finished_at     INTEGER,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_document ON ingestion_jobs (document_id);

CREATE TABLE IF NOT EXISTS query_logs (
    id                TEXT    PRIMARY KEY,
    project_id        TEXT    NOT NULL,
    api_key_id        TEXT,
    query_text        TEXT    NOT NULL DEFAULT '',
    top_k             INTEGER NOT NULL,
    used_rag          INTEGER NOT NULL DEFAULT 1,
    model             TEXT    NOT NULL DEFAULT '',
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    latency_ms        INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL
);

-- chunk_id carries no foreign key: the audit trail outlives chunk deletion,
-- so citations are allowed to dangle.
CREATE TABLE IF NOT EXISTS query_citations (
    id           TEXT    PRIMARY KEY,
    query_log_id TEXT    NOT NULL REFERENCES query_logs(id),
    chunk_id     TEXT    NOT NULL,
    rank         INTEGER NOT NULL,
    similarity   REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_citations_log ON query_citations (query_log_id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// encodeVector converts an embedding to a little-endian float32 blob.
// A nil vector encodes as NULL.
func encodeVector(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector converts a stored blob back to an embedding. NULL decodes
// to nil.
func decodeVector(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// nullInt maps an optional int to a nullable column value.
func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// scanNullInt maps a nullable column back to an optional int.
func scanNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// nullTime maps an optional time to a nullable Unix-seconds column value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// scanNullTime maps a nullable Unix-seconds column back to an optional time.
func scanNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
