package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/model"
)

// ProjectStats aggregates chunk and document totals for one project.
func (s *Store) ProjectStats(ctx context.Context, projectID uuid.UUID) (*model.CorpusStats, error) {
	if _, err := s.ProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	const docQ = `SELECT COUNT(*) FROM documents WHERE project_id = ?`
	const chunkQ = `
SELECT COUNT(*),
       COUNT(embedding),
       COALESCE(AVG(LENGTH(content)), 0),
       COALESCE(MIN(LENGTH(content)), 0),
       COALESCE(MAX(LENGTH(content)), 0)
FROM chunks
WHERE document_id IN (SELECT id FROM documents WHERE project_id = ?)`
	return s.gatherStats(ctx, docQ, chunkQ, projectID.String())
}

// GlobalStats aggregates chunk and document totals across every tenant.
func (s *Store) GlobalStats(ctx context.Context) (*model.CorpusStats, error) {
	const docQ = `SELECT COUNT(*) FROM documents`
	const chunkQ = `
SELECT COUNT(*),
       COUNT(embedding),
       COALESCE(AVG(LENGTH(content)), 0),
       COALESCE(MIN(LENGTH(content)), 0),
       COALESCE(MAX(LENGTH(content)), 0)
FROM chunks`
	return s.gatherStats(ctx, docQ, chunkQ)
}

func (s *Store) gatherStats(ctx context.Context, docQ, chunkQ string, args ...any) (*model.CorpusStats, error) {
	var st model.CorpusStats
	if err := s.db.QueryRowContext(ctx, docQ, args...).Scan(&st.TotalDocuments); err != nil {
		return nil, fmt.Errorf("store: stats documents: %w", err)
	}
	row := s.db.QueryRowContext(ctx, chunkQ, args...)
	if err := row.Scan(&st.TotalChunks, &st.EmbeddedChunks, &st.AvgChunkLen, &st.MinChunkLen, &st.MaxChunkLen); err != nil {
		return nil, fmt.Errorf("store: stats chunks: %w", err)
	}
	return &st, nil
}
