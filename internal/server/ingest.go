// Package server — ingest.go contains the data-plane handlers for document
// ingestion: multipart upload, pre-embedded chunk batches, document listing
// and inspection, deletion, and per-project stats.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/extract"
	"github.com/corpusworks/corpusd/internal/ingest"
	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/model"
)

// maxUploadBytes caps the size of one uploaded file. Large corpora are
// ingested as multiple documents, not one giant file.
const maxUploadBytes int64 = 32 << 20

// handleUpload handles POST /ingest/{team}/{project}/upload.
// It accepts a multipart "file" field, stores the raw bytes in the blob
// store, and records a document (status "uploaded") with a queued ingestion
// job. With ?ingest=1 the job is also scheduled on the worker pool, so the
// document proceeds to chunking and embedding without a second call.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	project, err := s.auth.AuthorizeProject(ctx, keyFromContext(ctx), r.PathValue("team"), r.PathValue("project"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, fmt.Errorf("upload exceeds %d bytes: %w", maxUploadBytes, model.ErrValidation))
			return
		}
		badRequest(w, `multipart "file" field is required`)
		return
	}
	defer file.Close()

	if !extract.SupportedSuffix(header.Filename) {
		writeError(w, r, fmt.Errorf("unsupported file type %q: %w", filepath.Ext(header.Filename), model.ErrValidation))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fmt.Errorf("reading upload: %w", err))
		return
	}

	// The blob lands before the document row so a stored document never
	// points at a missing blob.
	blobKey := path.Join(project.ID.String(), uuid.NewString(), filepath.Base(header.Filename))
	uri, _, size, err := s.blob.Put(ctx, blobKey, bytes.NewReader(data))
	if err != nil {
		writeError(w, r, err)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	raw := &ingest.RawDocument{
		Title:      title,
		Filename:   header.Filename,
		SourceType: model.SourceUpload,
		BlobURI:    uri,
		MimeType:   header.Header.Get("Content-Type"),
		SizeBytes:  size,
		Data:       data,
	}

	doc, job, err := s.pipeline.Prepare(ctx, project.ID, raw)
	if err != nil {
		if derr := s.blob.Delete(ctx, blobKey); derr != nil {
			log.Warn("upload: orphan blob cleanup failed",
				slog.String("key", blobKey),
				slog.Any("error", derr),
			)
		}
		writeError(w, r, err)
		return
	}

	if ingestNow, _ := strconv.ParseBool(r.URL.Query().Get("ingest")); ingestNow {
		// The worker mutates the document status as the job progresses; it
		// gets its own copy so the response below serializes untouched.
		workerDoc := *doc
		_, err := s.pool.Submit(func(jobCtx context.Context) error {
			runErr := s.pipeline.Run(jobCtx, &workerDoc, job.ID, raw)
			s.metrics.observeJob(runErr)
			return runErr
		})
		if err != nil {
			// The document and its queued job are already stored; mark the
			// job failed so it does not linger as queued forever.
			if ferr := s.store.FailJob(ctx, job.ID, "worker queue saturated"); ferr != nil {
				log.Error("upload: failing unscheduled job",
					slog.String("job_id", job.ID.String()),
					slog.Any("error", ferr),
				)
			}
			writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Document: doc, JobID: job.ID})
}

// handleChunkBatch handles POST /ingest/{team}/{project}/chunks.
// The client supplies pre-chunked, pre-embedded content; the batch lands
// atomically as one document.
func (s *Server) handleChunkBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	project, err := s.auth.AuthorizeProject(ctx, keyFromContext(ctx), r.PathValue("team"), r.PathValue("project"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var batch ingest.ChunkBatch
	if err := decodeJSON(r, &batch); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	doc, err := s.pipeline.IngestChunks(ctx, project.ID, &batch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// handleDocumentList handles GET /ingest/{team}/{project}/documents.
func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	project, err := s.auth.AuthorizeProject(ctx, keyFromContext(ctx), r.PathValue("team"), r.PathValue("project"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	docs, err := s.store.ListDocuments(ctx, project.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}

	writeJSON(w, http.StatusOK, documentListResponse{Documents: docs})
}

// handleDocumentGet handles GET /ingest/documents/{id}.
func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid document id")
		return
	}

	doc, err := s.auth.AuthorizeDocument(ctx, keyFromContext(ctx), docID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleChunkList handles GET /ingest/documents/{id}/chunks.
// Chunks are returned in ascending chunk_index order; embedding vectors are
// never serialized.
func (s *Server) handleChunkList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid document id")
		return
	}

	if _, err := s.auth.AuthorizeDocument(ctx, keyFromContext(ctx), docID); err != nil {
		writeError(w, r, err)
		return
	}

	chunks, err := s.store.ListChunks(ctx, docID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []model.Chunk{}
	}

	writeJSON(w, http.StatusOK, chunkListResponse{DocumentID: docID, Chunks: chunks})
}

// handleDocumentDelete handles DELETE /ingest/documents/{id}.
// Deletion cascades to chunks and the vector index; a second delete of the
// same document is a 404.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid document id")
		return
	}

	if _, err := s.auth.AuthorizeDocument(ctx, keyFromContext(ctx), docID); err != nil {
		writeError(w, r, err)
		return
	}

	n, err := s.reporter.DeleteDocument(ctx, docID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{ChunksDeleted: n})
}

// handleProjectStats handles GET /ingest/{team}/{project}/stats.
func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	project, err := s.auth.AuthorizeProject(ctx, keyFromContext(ctx), r.PathValue("team"), r.PathValue("project"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats, err := s.reporter.Stats(ctx, &project.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
