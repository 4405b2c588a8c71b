// Package query implements project-scoped semantic retrieval: vector search
// against the index, hydrated and re-checked from the relational store so
// deleted chunks never resurface, with an append-only audit trail.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/index"
	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/store"
)

const (
	// DefaultTopK is used when a request does not specify top_k.
	DefaultTopK = 5
	// MaxTopK bounds top_k; larger requests are a validation error.
	MaxTopK = 50

	// overfetch is how many extra candidates are pulled from the index to
	// absorb hits whose chunks were deleted after indexing.
	overfetch = 10
)

// Engine answers retrieval queries. Safe for concurrent use.
type Engine struct {
	store       *store.Store
	index       index.Index
	defaultTopK int
	maxTopK     int
}

// NewEngine returns an Engine over the given store and index with the
// package-default top_k bounds.
func NewEngine(st *store.Store, idx index.Index) *Engine {
	return &Engine{store: st, index: idx, defaultTopK: DefaultTopK, maxTopK: MaxTopK}
}

// SetTopKBounds overrides the default and maximum top_k. Non-positive
// values keep the current bounds. Call before the engine starts serving.
func (e *Engine) SetTopKBounds(def, max int) {
	if def > 0 {
		e.defaultTopK = def
	}
	if max > 0 {
		e.maxTopK = max
	}
}

// Request is one retrieval query. Vector must be exactly
// model.EmbeddingDim wide. TopK zero means DefaultTopK. QueryText and
// APIKeyID are recorded on the audit log only.
type Request struct {
	ProjectID uuid.UUID
	Vector    []float32
	TopK      int
	QueryText string
	APIKeyID  *uuid.UUID
}

// ResultRow is one ranked chunk.
type ResultRow struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Score      float64   `json:"score"`
}

// Result is a ranked result set. Results is never nil: an empty project
// yields an empty list, not an error.
type Result struct {
	Results   []ResultRow `json:"results"`
	LatencyMS int64       `json:"latency_ms"`
}

// Search runs a similarity query scoped to one project. It is read-only and
// idempotent; scores are cosine similarities rounded to 4 decimals, ordered
// descending with exact ties broken by chunk creation order.
func (e *Engine) Search(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	topK := req.TopK
	if topK == 0 {
		topK = e.defaultTopK
	}
	if topK < 1 || topK > e.maxTopK {
		return nil, fmt.Errorf("query: top_k must be between 1 and %d, got %d: %w", e.maxTopK, req.TopK, model.ErrValidation)
	}
	if len(req.Vector) != model.EmbeddingDim {
		return nil, fmt.Errorf("query: vector has %d dimensions, want %d: %w", len(req.Vector), model.EmbeddingDim, model.ErrValidation)
	}

	hits, err := e.index.Search(ctx, req.ProjectID, req.Vector, topK+overfetch)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	refs, err := e.store.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		row   ResultRow
		score float32
		seq   int64
	}
	candidates := make([]candidate, 0, len(hits))
	for _, h := range hits {
		ref, ok := refs[h.ChunkID]
		if !ok {
			// Deleted between indexing and hydration; the store wins.
			continue
		}
		if ref.ProjectID != req.ProjectID {
			continue
		}
		candidates = append(candidates, candidate{
			row: ResultRow{
				ChunkID:    ref.Chunk.ID,
				DocumentID: ref.Chunk.DocumentID,
				ChunkIndex: ref.Chunk.ChunkIndex,
				Content:    ref.Chunk.Content,
				Score:      round4(float64(h.Score)),
			},
			score: h.Score,
			seq:   ref.Chunk.Seq,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].seq < candidates[j].seq
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	rows := make([]ResultRow, len(candidates))
	for i, c := range candidates {
		rows[i] = c.row
	}

	latency := time.Since(start).Milliseconds()
	e.audit(ctx, req, topK, rows, latency)

	return &Result{Results: rows, LatencyMS: latency}, nil
}

// audit appends the query to the log. Audit failures are logged and never
// fail the query.
func (e *Engine) audit(ctx context.Context, req *Request, topK int, rows []ResultRow, latency int64) {
	entry := &model.QueryLog{
		ProjectID: req.ProjectID,
		APIKeyID:  req.APIKeyID,
		QueryText: req.QueryText,
		TopK:      topK,
		UsedRAG:   true,
		LatencyMS: latency,
	}
	citations := make([]model.QueryCitation, len(rows))
	for i, row := range rows {
		citations[i] = model.QueryCitation{
			ChunkID:    row.ChunkID,
			Rank:       i + 1,
			Similarity: row.Score,
		}
	}
	if err := e.store.InsertQueryLog(ctx, entry, citations); err != nil {
		logging.FromContext(ctx).Warn("query: audit log write failed",
			slog.String("project_id", req.ProjectID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// round4 rounds to 4 decimal places, the precision scores are reported at.
func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
