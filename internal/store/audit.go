package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/model"
)

// InsertQueryLog appends a query audit record and its citations in one
// transaction. The log is append-only; nothing ever updates or deletes
// these rows, and citations keep pointing at chunks even after the chunks
// are deleted.
func (s *Store) InsertQueryLog(ctx context.Context, log *model.QueryLog, citations []model.QueryCitation) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var keyID any
		if log.APIKeyID != nil {
			keyID = log.APIKeyID.String()
		}
		const q = `
INSERT INTO query_logs (id, project_id, api_key_id, query_text, top_k, used_rag, model, prompt_tokens, completion_tokens, latency_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q,
			log.ID.String(), log.ProjectID.String(), keyID, log.QueryText, log.TopK,
			boolToInt(log.UsedRAG), log.Model, log.PromptTokens, log.CompletionTokens,
			log.LatencyMS, log.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("store: insert query log: %w", err)
		}
		if len(citations) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO query_citations (id, query_log_id, chunk_id, rank, similarity) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare citation insert: %w", err)
		}
		defer stmt.Close()
		for i := range citations {
			c := &citations[i]
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			c.QueryLogID = log.ID
			if _, err := stmt.ExecContext(ctx, c.ID.String(), c.QueryLogID.String(), c.ChunkID.String(), c.Rank, c.Similarity); err != nil {
				return fmt.Errorf("store: insert citation %d: %w", c.Rank, err)
			}
		}
		return nil
	})
}

// QueryLogCount returns the number of logged queries for a project. Used by
// tests and the stats reporter.
func (s *Store) QueryLogCount(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var n int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_logs WHERE project_id = ?`, projectID.String())
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: query log count: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
