// Package model defines the entities shared by the store, pipeline, index,
// and HTTP layers, together with the service-wide error taxonomy.
//
// Ownership forms a strict tree: a Team owns Projects, a Project owns
// Documents, a Document owns Chunks. Every access decision walks this tree.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EmbeddingDim is the dimensionality every stored embedding must have.
// Vectors of any other width are rejected before they reach the store or
// the index.
const EmbeddingDim = 1536

// SourceType records how a document entered the system.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
	SourceManual SourceType = "manual"
)

// ValidSourceType reports whether s is one of the known source types.
func ValidSourceType(s SourceType) bool {
	switch s {
	case SourceUpload, SourceURL, SourceManual:
		return true
	}
	return false
}

// DocumentStatus is the lifecycle state of a document. It is derived from
// the embedding state of the document's chunks, never set independently.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Team is the top-level tenant. Team names are globally unique.
type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Project groups documents under a team. Project names are unique per team.
type Project struct {
	ID          uuid.UUID `json:"id"`
	TeamID      uuid.UUID `json:"team_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// APIKey is a team-scoped credential. Only the sha256 hash of the secret is
// stored; the raw secret is returned exactly once at creation. Revocation
// is terminal: a revoked key can never be reactivated.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	TeamID    uuid.UUID `json:"team_id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is an ingested source inside a project.
type Document struct {
	ID         uuid.UUID      `json:"id"`
	ProjectID  uuid.UUID      `json:"project_id"`
	SourceType SourceType     `json:"source_type"`
	Title      string         `json:"title"`
	SourceURL  string         `json:"source_url,omitempty"`
	BlobURI    string         `json:"blob_uri,omitempty"`
	MimeType   string         `json:"mime_type,omitempty"`
	SizeBytes  int64          `json:"size_bytes,omitempty"`
	Status     DocumentStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Chunk is an ordered slice of a document's text plus its embedding.
// ChunkIndex is zero-based and unique within a document. A nil Embedding
// means the chunk has not been embedded yet. Seq is assigned by the store
// in insertion order and breaks score ties deterministically at query time.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	Seq        int64     `json:"-"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	PageStart  *int      `json:"page_start,omitempty"`
	PageEnd    *int      `json:"page_end,omitempty"`
	CharStart  *int      `json:"char_start,omitempty"`
	CharEnd    *int      `json:"char_end,omitempty"`
	TokenCount *int      `json:"token_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Embedded reports whether the chunk carries an embedding vector.
func (c *Chunk) Embedded() bool { return len(c.Embedding) > 0 }

// IngestionJob tracks one ingestion attempt for a document.
type IngestionJob struct {
	ID             uuid.UUID  `json:"id"`
	DocumentID     uuid.UUID  `json:"document_id"`
	Status         JobStatus  `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ChunksCreated  int        `json:"chunks_created"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// QueryLog is an append-only audit record of a retrieval query.
type QueryLog struct {
	ID               uuid.UUID  `json:"id"`
	ProjectID        uuid.UUID  `json:"project_id"`
	APIKeyID         *uuid.UUID `json:"api_key_id,omitempty"`
	QueryText        string     `json:"query_text,omitempty"`
	TopK             int        `json:"top_k"`
	UsedRAG          bool       `json:"used_rag"`
	Model            string     `json:"model,omitempty"`
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	LatencyMS        int64      `json:"latency_ms"`
	CreatedAt        time.Time  `json:"created_at"`
}

// QueryCitation records one chunk surfaced by a logged query. Citations are
// audit data: they intentionally survive chunk deletion, so a citation's
// ChunkID may no longer resolve.
type QueryCitation struct {
	ID         uuid.UUID `json:"id"`
	QueryLogID uuid.UUID `json:"query_log_id"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	Rank       int       `json:"rank"`
	Similarity float64   `json:"similarity"`
}

// CorpusStats summarizes stored content, globally or for one project.
type CorpusStats struct {
	TotalDocuments int64   `json:"total_documents"`
	TotalChunks    int64   `json:"total_chunks"`
	EmbeddedChunks int64   `json:"embedded_chunks"`
	AvgChunkLen    float64 `json:"avg_chunk_length"`
	MinChunkLen    int64   `json:"min_chunk_length"`
	MaxChunkLen    int64   `json:"max_chunk_length"`
}

// DeriveStatus computes a document's status from its chunks. No chunks means
// the document is merely uploaded; a full set of embeddings means ready;
// a partial set means processing; chunks with no embeddings at all means a
// failed embedding pass.
func DeriveStatus(chunks []Chunk) DocumentStatus {
	if len(chunks) == 0 {
		return StatusUploaded
	}
	embedded := 0
	for i := range chunks {
		if chunks[i].Embedded() {
			embedded++
		}
	}
	switch embedded {
	case len(chunks):
		return StatusReady
	case 0:
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// ValidateEmbedding checks the dimension contract. A nil vector is allowed
// (the chunk is not embedded yet); anything else must be exactly
// EmbeddingDim wide.
func ValidateEmbedding(vec []float32) error {
	if vec == nil {
		return nil
	}
	if len(vec) != EmbeddingDim {
		return fmt.Errorf("model: embedding has %d dimensions, want %d: %w", len(vec), EmbeddingDim, ErrValidation)
	}
	return nil
}
