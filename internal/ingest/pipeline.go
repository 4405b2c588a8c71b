// Package ingest implements the document ingestion pipeline. It accepts
// either pre-chunked, pre-embedded payloads or raw text that is extracted,
// split, embedded, and persisted atomically: a document's chunk batch lands
// in full or not at all, and a failed run leaves the document marked failed
// with the reason on its job record.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/embedder"
	"github.com/corpusworks/corpusd/internal/extract"
	"github.com/corpusworks/corpusd/internal/index"
	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/splitter"
	"github.com/corpusworks/corpusd/internal/store"
	"github.com/corpusworks/corpusd/internal/tokens"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of bytes per document chunk.
	// Defaults to 2000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of bytes carried over between consecutive
	// chunks. Defaults to 200 if zero.
	ChunkOverlap int

	// EmbedBatch is the maximum number of texts sent to the embedder per
	// call. Defaults to 64 if zero.
	EmbedBatch int
}

// Pipeline orchestrates the extract → split → embed → persist → index flow.
// The relational store is the source of truth; the vector index is a
// projection updated after each commit.
type Pipeline struct {
	store     *store.Store
	index     index.Index
	embedder  embedder.Embedder // nil disables raw-text ingestion
	extractor extract.Extractor
	splitter  *splitter.Splitter
	cfg       *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and
// config. The embedder may be nil, in which case raw-text ingestion is
// rejected but pre-embedded ingestion still works.
func NewPipeline(st *store.Store, idx index.Index, emb embedder.Embedder, ext extract.Extractor, cfg *Config) (*Pipeline, error) {
	if st == nil {
		return nil, fmt.Errorf("ingest: store must not be nil")
	}
	if idx == nil {
		return nil, fmt.Errorf("ingest: index must not be nil")
	}
	if ext == nil {
		return nil, fmt.Errorf("ingest: extractor must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = 64
	}

	return &Pipeline{
		store:     st,
		index:     idx,
		embedder:  emb,
		extractor: ext,
		splitter:  splitter.New(splitter.WithChunkSize(cfg.ChunkSize), splitter.WithOverlap(cfg.ChunkOverlap)),
		cfg:       cfg,
	}, nil
}

// ChunkInput is one caller-supplied chunk in a pre-embedded batch.
type ChunkInput struct {
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	PageStart  *int      `json:"page_start,omitempty"`
	PageEnd    *int      `json:"page_end,omitempty"`
	TokenCount *int      `json:"token_count,omitempty"`
}

// ChunkBatch is a pre-chunked, pre-embedded ingestion payload.
type ChunkBatch struct {
	Title          string           `json:"title"`
	SourceType     model.SourceType `json:"source_type,omitempty"`
	SourceURL      string           `json:"source_url,omitempty"`
	EmbeddingModel string           `json:"embedding_model,omitempty"`
	Chunks         []ChunkInput     `json:"chunks"`
}

// IngestChunks persists a pre-embedded batch as a new document. The document,
// all chunks, and a synthetic succeeded job land in one transaction; the
// document status is derived from how many chunks carry embeddings. Embedded
// chunks are upserted into the index after the commit.
func (p *Pipeline) IngestChunks(ctx context.Context, projectID uuid.UUID, batch *ChunkBatch) (*model.Document, error) {
	if err := validateBatch(batch); err != nil {
		return nil, err
	}

	sourceType := batch.SourceType
	if sourceType == "" {
		sourceType = model.SourceManual
	}

	doc := &model.Document{
		ProjectID:  projectID,
		SourceType: sourceType,
		Title:      batch.Title,
		SourceURL:  batch.SourceURL,
	}

	chunks := make([]model.Chunk, len(batch.Chunks))
	for i, in := range batch.Chunks {
		tokenCount := in.TokenCount
		if tokenCount == nil {
			n := tokens.Estimate(in.Content)
			tokenCount = &n
		}
		chunks[i] = model.Chunk{
			ChunkIndex: in.Index,
			Content:    in.Content,
			Embedding:  in.Embedding,
			PageStart:  in.PageStart,
			PageEnd:    in.PageEnd,
			TokenCount: tokenCount,
		}
	}

	job := &model.IngestionJob{EmbeddingModel: batch.EmbeddingModel}
	if err := p.store.CreateDocumentWithChunks(ctx, doc, chunks, job); err != nil {
		return nil, err
	}

	p.indexChunks(ctx, doc, chunks)
	return doc, nil
}

// validateBatch rejects malformed pre-embedded payloads before anything is
// written. Error messages name the offending chunk index.
func validateBatch(batch *ChunkBatch) error {
	if batch == nil || strings.TrimSpace(batch.Title) == "" {
		return fmt.Errorf("ingest: title is required: %w", model.ErrValidation)
	}
	if len(batch.Chunks) == 0 {
		return fmt.Errorf("ingest: at least one chunk is required: %w", model.ErrValidation)
	}

	seen := make(map[int]bool, len(batch.Chunks))
	for _, in := range batch.Chunks {
		if in.Index < 0 {
			return fmt.Errorf("ingest: chunk_index %d is negative: %w", in.Index, model.ErrValidation)
		}
		if seen[in.Index] {
			return fmt.Errorf("ingest: duplicate chunk_index %d in batch: %w", in.Index, model.ErrValidation)
		}
		seen[in.Index] = true
		if strings.TrimSpace(in.Content) == "" {
			return fmt.Errorf("ingest: chunk %d has empty content: %w", in.Index, model.ErrValidation)
		}
		if err := model.ValidateEmbedding(in.Embedding); err != nil {
			return fmt.Errorf("ingest: chunk %d: %w", in.Index, err)
		}
	}
	return nil
}

// RawDocument is an unprocessed ingestion payload: original bytes plus the
// metadata recorded on the resulting document.
type RawDocument struct {
	Title      string
	Filename   string
	SourceType model.SourceType
	SourceURL  string
	BlobURI    string
	MimeType   string
	SizeBytes  int64
	Data       []byte
}

// Prepare creates the document and its queued job for a raw ingestion run
// without doing any pipeline work. Callers either Run the pipeline inline or
// hand it to the worker pool.
func (p *Pipeline) Prepare(ctx context.Context, projectID uuid.UUID, raw *RawDocument) (*model.Document, *model.IngestionJob, error) {
	if p.embedder == nil {
		return nil, nil, fmt.Errorf("ingest: raw ingestion requires an embedder; submit pre-embedded chunks instead: %w", model.ErrValidation)
	}
	if raw == nil || len(raw.Data) == 0 {
		return nil, nil, fmt.Errorf("ingest: file content is empty: %w", model.ErrValidation)
	}

	sourceType := raw.SourceType
	if sourceType == "" {
		sourceType = model.SourceManual
	}

	doc := &model.Document{
		ProjectID:  projectID,
		SourceType: sourceType,
		Title:      raw.Title,
		SourceURL:  raw.SourceURL,
		BlobURI:    raw.BlobURI,
		MimeType:   raw.MimeType,
		SizeBytes:  raw.SizeBytes,
		Status:     model.StatusUploaded,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, nil, err
	}

	job, err := p.store.CreateJob(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	return doc, job, nil
}

// Run executes the raw pipeline for a prepared document: extract → split →
// embed → persist → index. On any failure the job is marked failed with a
// sanitized reason, the document is downgraded to failed, and no chunks are
// persisted.
func (p *Pipeline) Run(ctx context.Context, doc *model.Document, jobID uuid.UUID, raw *RawDocument) error {
	log := logging.FromContext(ctx)

	if err := p.store.StartJob(ctx, jobID); err != nil {
		return err
	}

	chunks, err := p.process(ctx, doc, jobID, raw)
	if err != nil {
		// The job context may already be cancelled (timeout); the failure
		// record must land regardless.
		failCtx := context.WithoutCancel(ctx)
		if ferr := p.store.FailJob(failCtx, jobID, sanitizeReason(err)); ferr != nil {
			log.Error("ingest: recording job failure failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", ferr.Error()),
			)
		}
		return err
	}

	doc.Status = model.DeriveStatus(chunks)
	log.Info("ingest: document processed",
		slog.String("document_id", doc.ID.String()),
		slog.Int("chunks", len(chunks)),
		slog.String("status", string(doc.Status)),
	)
	return nil
}

// process runs the pipeline stages and returns the persisted chunk batch.
func (p *Pipeline) process(ctx context.Context, doc *model.Document, jobID uuid.UUID, raw *RawDocument) ([]model.Chunk, error) {
	text, err := p.extractor.Extract(ctx, raw.Filename, raw.Data)
	if err != nil {
		return nil, fmt.Errorf("ingest: extract %q: %w", raw.Filename, err)
	}

	pieces := p.splitter.Split(text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("ingest: no extractable text in %q: %w", doc.Title, model.ErrValidation)
	}

	chunks := make([]model.Chunk, len(pieces))
	for i, piece := range pieces {
		start, end := piece.Start, piece.End
		tokenCount := tokens.Estimate(piece.Text)
		chunks[i] = model.Chunk{
			ChunkIndex: i,
			Content:    piece.Text,
			CharStart:  &start,
			CharEnd:    &end,
			TokenCount: &tokenCount,
		}
	}

	for lo := 0; lo < len(chunks); lo += p.cfg.EmbedBatch {
		hi := min(lo+p.cfg.EmbedBatch, len(chunks))
		texts := make([]string, 0, hi-lo)
		for _, c := range chunks[lo:hi] {
			texts = append(texts, c.Content)
		}
		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("ingest: embed chunks %d-%d: %w", lo, hi-1, err)
		}
		for j, vec := range vecs {
			if err := model.ValidateEmbedding(vec); err != nil {
				return nil, fmt.Errorf("ingest: chunk %d: %w", lo+j, err)
			}
			chunks[lo+j].Embedding = vec
		}
	}

	if err := p.store.ReplaceChunks(ctx, doc.ID, chunks, jobID, p.embedder.Name()); err != nil {
		return nil, err
	}

	// A previous run of this document may have left stale vectors behind.
	if err := p.index.DeleteDocument(ctx, doc.ID); err != nil {
		logging.FromContext(ctx).Warn("ingest: clearing stale index entries failed",
			slog.String("document_id", doc.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	p.indexChunks(ctx, doc, chunks)
	return chunks, nil
}

// IngestDocument runs Prepare and Run back to back and returns the final
// document and job states. The returned error reports the pipeline failure,
// if any; the document and job are still returned so callers can surface the
// recorded failure.
func (p *Pipeline) IngestDocument(ctx context.Context, projectID uuid.UUID, raw *RawDocument) (*model.Document, *model.IngestionJob, error) {
	doc, job, err := p.Prepare(ctx, projectID, raw)
	if err != nil {
		return nil, nil, err
	}

	runErr := p.Run(ctx, doc, job.ID, raw)

	if refreshed, err := p.store.DocumentByID(ctx, doc.ID); err == nil {
		doc = refreshed
	}
	if refreshed, err := p.store.JobByID(ctx, job.ID); err == nil {
		job = refreshed
	}
	return doc, job, runErr
}

// indexChunks upserts the embedded chunks of a committed batch. Index
// failures never fail ingestion: the store is the source of truth and the
// index can be rebuilt from it.
func (p *Pipeline) indexChunks(ctx context.Context, doc *model.Document, chunks []model.Chunk) {
	points := make([]index.Point, 0, len(chunks))
	for i := range chunks {
		if !chunks[i].Embedded() {
			continue
		}
		points = append(points, index.Point{
			ChunkID:    chunks[i].ID,
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Seq:        chunks[i].Seq,
			Vector:     chunks[i].Embedding,
		})
	}
	if len(points) == 0 {
		return
	}
	if err := p.index.Upsert(ctx, points); err != nil {
		logging.FromContext(ctx).Error("ingest: index upsert failed",
			slog.String("document_id", doc.ID.String()),
			slog.Int("points", len(points)),
			slog.String("error", err.Error()),
			slog.String("hint", "run `corpusd reindex` to rebuild the index from the store"),
		)
	}
}

// sanitizeReason turns a pipeline error into a job error message safe to
// store and return to clients: a single line of bounded length.
func sanitizeReason(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	const maxLen = 500
	if len(msg) > maxLen {
		cut := []rune(msg)
		if len(cut) > maxLen {
			cut = cut[:maxLen]
		}
		msg = string(cut) + "..."
	}
	return msg
}
