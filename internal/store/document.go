package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/model"
)

// execer is satisfied by both *sql.DB and *sql.Tx so the insert helpers can
// run standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertDocumentSQL = `
INSERT INTO documents (id, project_id, source_type, title, source_url, blob_uri, mime_type, size_bytes, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertChunkSQL = `
INSERT INTO chunks (id, document_id, chunk_index, content, embedding, page_start, page_end, char_start, char_end, token_count, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertJobSQL = `
INSERT INTO ingestion_jobs (id, document_id, status, error_message, chunks_created, embedding_model, started_at, finished_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateDocument inserts a bare document row. The pipeline uses it for raw
// ingestion, where chunks arrive later; ID, status, and timestamps are
// filled in if unset.
func (s *Store) CreateDocument(ctx context.Context, doc *model.Document) error {
	if err := prepareDocument(doc); err != nil {
		return err
	}
	if _, err := s.ProjectByID(ctx, doc.ProjectID); err != nil {
		return err
	}
	if err := insertDocument(ctx, s.db, doc); err != nil {
		return err
	}
	return nil
}

// CreateDocumentWithChunks atomically persists a document, its full chunk
// batch, and a finished ingestion job. Either everything lands or nothing
// does. The document status is derived from the batch, and each chunk's Seq
// is filled from the store's insertion order.
func (s *Store) CreateDocumentWithChunks(ctx context.Context, doc *model.Document, chunks []model.Chunk, job *model.IngestionJob) error {
	if err := prepareDocument(doc); err != nil {
		return err
	}
	if _, err := s.ProjectByID(ctx, doc.ProjectID); err != nil {
		return err
	}
	doc.Status = model.DeriveStatus(chunks)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertDocument(ctx, tx, doc); err != nil {
			return err
		}
		if err := insertChunks(ctx, tx, doc.ID, chunks); err != nil {
			return err
		}
		now := time.Now().UTC()
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
		job.DocumentID = doc.ID
		job.Status = model.JobSucceeded
		job.ChunksCreated = len(chunks)
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		job.FinishedAt = &now
		job.CreatedAt = now
		if _, err := tx.ExecContext(ctx, insertJobSQL,
			job.ID.String(), job.DocumentID.String(), string(job.Status), job.ErrorMessage,
			job.ChunksCreated, job.EmbeddingModel, nullTime(job.StartedAt), nullTime(job.FinishedAt), now.Unix()); err != nil {
			return fmt.Errorf("store: insert job: %w", err)
		}
		return nil
	})
}

// ReplaceChunks atomically swaps a document's chunk set for a new batch,
// updates the derived document status, and finalizes the given job as
// succeeded. Prior chunks, if any, are removed in the same transaction, so
// re-ingestion replaces rather than appends.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []model.Chunk, jobID uuid.UUID, embeddingModel string) error {
	if _, err := s.DocumentByID(ctx, documentID); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID.String()); err != nil {
			return fmt.Errorf("store: replace chunks delete: %w", err)
		}
		if err := insertChunks(ctx, tx, documentID, chunks); err != nil {
			return err
		}
		now := time.Now().UTC()
		status := model.DeriveStatus(chunks)
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now.Unix(), documentID.String()); err != nil {
			return fmt.Errorf("store: replace chunks status: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE ingestion_jobs SET status = ?, chunks_created = ?, embedding_model = ?, finished_at = ?
WHERE id = ?`,
			string(model.JobSucceeded), len(chunks), embeddingModel, now.Unix(), jobID.String()); err != nil {
			return fmt.Errorf("store: replace chunks job: %w", err)
		}
		return nil
	})
}

func prepareDocument(doc *model.Document) error {
	if doc.ProjectID == uuid.Nil {
		return fmt.Errorf("store: document project is required: %w", model.ErrValidation)
	}
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("store: document title is required: %w", model.ErrValidation)
	}
	if !model.ValidSourceType(doc.SourceType) {
		return fmt.Errorf("store: unknown source type %q: %w", doc.SourceType, model.ErrValidation)
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = model.StatusUploaded
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	return nil
}

func insertDocument(ctx context.Context, ex execer, doc *model.Document) error {
	if _, err := ex.ExecContext(ctx, insertDocumentSQL,
		doc.ID.String(), doc.ProjectID.String(), string(doc.SourceType), doc.Title,
		doc.SourceURL, doc.BlobURI, doc.MimeType, doc.SizeBytes,
		string(doc.Status), doc.CreatedAt.Unix(), doc.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("store: insert document: %w", err)
	}
	return nil
}

// insertChunks writes a batch through one prepared statement, filling each
// chunk's ID, CreatedAt, and store-assigned Seq. A duplicate chunk index is
// a conflict and aborts the surrounding transaction.
func insertChunks(ctx context.Context, tx *sql.Tx, documentID uuid.UUID, chunks []model.Chunk) error {
	stmt, err := tx.PrepareContext(ctx, insertChunkSQL)
	if err != nil {
		return fmt.Errorf("store: prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.DocumentID = documentID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		res, err := stmt.ExecContext(ctx,
			c.ID.String(), documentID.String(), c.ChunkIndex, c.Content, encodeVector(c.Embedding),
			nullInt(c.PageStart), nullInt(c.PageEnd), nullInt(c.CharStart), nullInt(c.CharEnd),
			nullInt(c.TokenCount), c.CreatedAt.Unix())
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("store: duplicate chunk_index %d for document %s: %w", c.ChunkIndex, documentID, model.ErrConflict)
			}
			return fmt.Errorf("store: insert chunk %d: %w", c.ChunkIndex, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: chunk seq: %w", err)
		}
		c.Seq = seq
	}
	return nil
}

// DocumentByID returns the document with the given id.
func (s *Store) DocumentByID(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	const q = `
SELECT id, project_id, source_type, title, source_url, blob_uri, mime_type, size_bytes, status, created_at, updated_at
FROM documents WHERE id = ?`
	row := s.db.QueryRowContext(ctx, q, id.String())

	var (
		d        model.Document
		did, pid string
		ct, ut   int64
	)
	err := row.Scan(&did, &pid, (*string)(&d.SourceType), &d.Title, &d.SourceURL, &d.BlobURI,
		&d.MimeType, &d.SizeBytes, (*string)(&d.Status), &ct, &ut)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: document: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("store: document scan: %w", err)
	}
	if d.ID, err = uuid.Parse(did); err != nil {
		return nil, fmt.Errorf("store: document id: %w", err)
	}
	if d.ProjectID, err = uuid.Parse(pid); err != nil {
		return nil, fmt.Errorf("store: document project id: %w", err)
	}
	d.CreatedAt = time.Unix(ct, 0)
	d.UpdatedAt = time.Unix(ut, 0)
	return &d, nil
}

// ListDocuments returns a project's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, projectID uuid.UUID) ([]model.Document, error) {
	const q = `
SELECT id, project_id, source_type, title, source_url, blob_uri, mime_type, size_bytes, status, created_at, updated_at
FROM documents WHERE project_id = ?
ORDER BY created_at DESC, rowid DESC`
	rows, err := s.db.QueryContext(ctx, q, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var (
			d        model.Document
			did, pid string
			ct, ut   int64
		)
		if err := rows.Scan(&did, &pid, (*string)(&d.SourceType), &d.Title, &d.SourceURL, &d.BlobURI,
			&d.MimeType, &d.SizeBytes, (*string)(&d.Status), &ct, &ut); err != nil {
			return nil, fmt.Errorf("store: list documents scan: %w", err)
		}
		if d.ID, err = uuid.Parse(did); err != nil {
			return nil, fmt.Errorf("store: document id: %w", err)
		}
		if d.ProjectID, err = uuid.Parse(pid); err != nil {
			return nil, fmt.Errorf("store: document project id: %w", err)
		}
		d.CreatedAt = time.Unix(ct, 0)
		d.UpdatedAt = time.Unix(ut, 0)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list documents rows: %w", err)
	}
	return docs, nil
}

// ListChunks returns a document's chunks in ascending chunk order, with
// embeddings decoded.
func (s *Store) ListChunks(ctx context.Context, documentID uuid.UUID) ([]model.Chunk, error) {
	const q = `
SELECT seq, id, document_id, chunk_index, content, embedding, page_start, page_end, char_start, char_end, token_count, created_at
FROM chunks WHERE document_id = ?
ORDER BY chunk_index ASC`
	rows, err := s.db.QueryContext(ctx, q, documentID.String())
	if err != nil {
		return nil, fmt.Errorf("store: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list chunks rows: %w", err)
	}
	return chunks, nil
}

func scanChunk(rows *sql.Rows) (*model.Chunk, error) {
	var (
		c                  model.Chunk
		cid, did           string
		blob               []byte
		ps, pe, cs, ce, tc sql.NullInt64
		ts                 int64
	)
	if err := rows.Scan(&c.Seq, &cid, &did, &c.ChunkIndex, &c.Content, &blob, &ps, &pe, &cs, &ce, &tc, &ts); err != nil {
		return nil, fmt.Errorf("store: chunk scan: %w", err)
	}
	var err error
	if c.ID, err = uuid.Parse(cid); err != nil {
		return nil, fmt.Errorf("store: chunk id: %w", err)
	}
	if c.DocumentID, err = uuid.Parse(did); err != nil {
		return nil, fmt.Errorf("store: chunk document id: %w", err)
	}
	c.Embedding = decodeVector(blob)
	c.PageStart = scanNullInt(ps)
	c.PageEnd = scanNullInt(pe)
	c.CharStart = scanNullInt(cs)
	c.CharEnd = scanNullInt(ce)
	c.TokenCount = scanNullInt(tc)
	c.CreatedAt = time.Unix(ts, 0)
	return &c, nil
}

// ChunkRef is a chunk joined with the project that owns it, used to hydrate
// index hits and re-check tenancy in one pass.
type ChunkRef struct {
	Chunk     model.Chunk
	ProjectID uuid.UUID
}

// ChunksByIDs returns the requested chunks keyed by id. IDs that no longer
// exist are simply absent from the map; callers treat missing entries as
// deleted. Embeddings are not loaded.
func (s *Store) ChunksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ChunkRef, error) {
	out := make(map[uuid.UUID]ChunkRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	q := fmt.Sprintf(`
SELECT c.seq, c.id, c.document_id, c.chunk_index, c.content, d.project_id
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.id IN (%s)`, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: chunks by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c             model.Chunk
			cid, did, pid string
		)
		if err := rows.Scan(&c.Seq, &cid, &did, &c.ChunkIndex, &c.Content, &pid); err != nil {
			return nil, fmt.Errorf("store: chunks by ids scan: %w", err)
		}
		if c.ID, err = uuid.Parse(cid); err != nil {
			return nil, fmt.Errorf("store: chunk id: %w", err)
		}
		if c.DocumentID, err = uuid.Parse(did); err != nil {
			return nil, fmt.Errorf("store: chunk document id: %w", err)
		}
		projectID, err := uuid.Parse(pid)
		if err != nil {
			return nil, fmt.Errorf("store: chunk project id: %w", err)
		}
		out[c.ID] = ChunkRef{Chunk: c, ProjectID: projectID}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: chunks by ids rows: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// UpdateDocumentStatus sets a document's status and refreshes updated_at.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status model.DocumentStatus) error {
	const q = `UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), time.Now().UTC().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("store: update document status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update document status rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: document: %w", model.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document, its chunks, and its jobs in one
// transaction, returning the number of chunks removed. Deleting a document
// that does not exist reports ErrNotFound.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) (int64, error) {
	var chunks int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		did := id.String()
		row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = ?`, did)
		if err := row.Scan(&chunks); err != nil {
			return fmt.Errorf("store: delete document count: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, did); err != nil {
			return fmt.Errorf("store: delete document chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ingestion_jobs WHERE document_id = ?`, did); err != nil {
			return fmt.Errorf("store: delete document jobs: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, did)
		if err != nil {
			return fmt.Errorf("store: delete document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: delete document rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("store: document: %w", model.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return chunks, nil
}

// ForEachEmbeddedChunk streams every chunk that carries an embedding, in
// insertion order, for rebuilding a vector index from the store.
func (s *Store) ForEachEmbeddedChunk(ctx context.Context, fn func(chunkID, documentID, projectID uuid.UUID, seq int64, embedding []float32) error) error {
	const q = `
SELECT c.id, c.document_id, d.project_id, c.seq, c.embedding
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.embedding IS NOT NULL
ORDER BY c.seq ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: embedded chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, did, pid string
			seq           int64
			blob          []byte
		)
		if err := rows.Scan(&cid, &did, &pid, &seq, &blob); err != nil {
			return fmt.Errorf("store: embedded chunks scan: %w", err)
		}
		chunkID, err := uuid.Parse(cid)
		if err != nil {
			return fmt.Errorf("store: embedded chunk id: %w", err)
		}
		documentID, err := uuid.Parse(did)
		if err != nil {
			return fmt.Errorf("store: embedded chunk document id: %w", err)
		}
		projectID, err := uuid.Parse(pid)
		if err != nil {
			return fmt.Errorf("store: embedded chunk project id: %w", err)
		}
		if err := fn(chunkID, documentID, projectID, seq, decodeVector(blob)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: embedded chunks rows: %w", err)
	}
	return nil
}

// CreateJob inserts a queued ingestion job for a document.
func (s *Store) CreateJob(ctx context.Context, documentID uuid.UUID) (*model.IngestionJob, error) {
	j := &model.IngestionJob{
		ID:         uuid.New(),
		DocumentID: documentID,
		Status:     model.JobQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx, insertJobSQL,
		j.ID.String(), j.DocumentID.String(), string(j.Status), "", 0, "", nil, nil, j.CreatedAt.Unix()); err != nil {
		return nil, fmt.Errorf("store: create job: %w", err)
	}
	return j, nil
}

// StartJob marks a job running and stamps started_at.
func (s *Store) StartJob(ctx context.Context, jobID uuid.UUID) error {
	const q = `UPDATE ingestion_jobs SET status = ?, started_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(model.JobRunning), time.Now().UTC().Unix(), jobID.String())
	if err != nil {
		return fmt.Errorf("store: start job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: start job rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: job: %w", model.ErrNotFound)
	}
	return nil
}

// FailJob marks a job failed with a human-readable reason and stamps
// finished_at. The document is marked failed as well so its status never
// claims progress a dead job can no longer make.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Unix()
		res, err := tx.ExecContext(ctx, `
UPDATE ingestion_jobs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
			string(model.JobFailed), reason, now, jobID.String())
		if err != nil {
			return fmt.Errorf("store: fail job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: fail job rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("store: job: %w", model.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE documents SET status = ?, updated_at = ?
WHERE id = (SELECT document_id FROM ingestion_jobs WHERE id = ?) AND status IN (?, ?)`,
			string(model.StatusFailed), now, jobID.String(),
			string(model.StatusUploaded), string(model.StatusProcessing)); err != nil {
			return fmt.Errorf("store: fail job document: %w", err)
		}
		return nil
	})
}

// JobByID returns the ingestion job with the given id.
func (s *Store) JobByID(ctx context.Context, jobID uuid.UUID) (*model.IngestionJob, error) {
	const q = `
SELECT id, document_id, status, error_message, chunks_created, embedding_model, started_at, finished_at, created_at
FROM ingestion_jobs WHERE id = ?`
	row := s.db.QueryRowContext(ctx, q, jobID.String())

	var (
		j        model.IngestionJob
		jid, did string
		st, ft   sql.NullInt64
		ct       int64
	)
	err := row.Scan(&jid, &did, (*string)(&j.Status), &j.ErrorMessage, &j.ChunksCreated, &j.EmbeddingModel, &st, &ft, &ct)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: job: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("store: job scan: %w", err)
	}
	if j.ID, err = uuid.Parse(jid); err != nil {
		return nil, fmt.Errorf("store: job id: %w", err)
	}
	if j.DocumentID, err = uuid.Parse(did); err != nil {
		return nil, fmt.Errorf("store: job document id: %w", err)
	}
	j.StartedAt = scanNullTime(st)
	j.FinishedAt = scanNullTime(ft)
	j.CreatedAt = time.Unix(ct, 0)
	return &j, nil
}

// FailStaleJobs marks every queued or running job as failed and downgrades
// their documents. It runs once at startup so a crash or restart never
// leaves a job claiming to be in progress. Returns the number of jobs swept.
func (s *Store) FailStaleJobs(ctx context.Context) (int64, error) {
	var swept int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Unix()
		if _, err := tx.ExecContext(ctx, `
UPDATE documents SET status = ?, updated_at = ?
WHERE status = ? AND id IN (SELECT document_id FROM ingestion_jobs WHERE status IN (?, ?))`,
			string(model.StatusFailed), now, string(model.StatusProcessing),
			string(model.JobQueued), string(model.JobRunning)); err != nil {
			return fmt.Errorf("store: sweep documents: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
UPDATE ingestion_jobs SET status = ?, error_message = ?, finished_at = ? WHERE status IN (?, ?)`,
			string(model.JobFailed), "interrupted: service restarted", now,
			string(model.JobQueued), string(model.JobRunning))
		if err != nil {
			return fmt.Errorf("store: sweep jobs: %w", err)
		}
		if swept, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("store: sweep rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return swept, nil
}
