package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/model"
)

// Exact is an in-memory Index that scans every point and computes true
// cosine similarity. Results are exact: score descending, then insertion
// sequence ascending for ties. It is the default backend and the reference
// implementation approximate backends are tested against.
type Exact struct {
	mu     sync.RWMutex
	dim    int
	points map[uuid.UUID]exactPoint
}

type exactPoint struct {
	documentID uuid.UUID
	projectID  uuid.UUID
	seq        int64
	vec        []float32
}

// NewExact creates an empty exact index for vectors of the given dimension.
func NewExact(dim int) *Exact {
	if dim <= 0 {
		dim = model.EmbeddingDim
	}
	return &Exact{dim: dim, points: make(map[uuid.UUID]exactPoint)}
}

// Upsert adds or replaces points, copying each vector so callers may reuse
// their slices.
func (e *Exact) Upsert(_ context.Context, points []Point) error {
	for i := range points {
		if len(points[i].Vector) != e.dim {
			return fmt.Errorf("index: point %s has %d dimensions, want %d: %w",
				points[i].ChunkID, len(points[i].Vector), e.dim, model.ErrValidation)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range points {
		p := points[i]
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		e.points[p.ChunkID] = exactPoint{
			documentID: p.DocumentID,
			projectID:  p.ProjectID,
			seq:        p.Seq,
			vec:        vec,
		}
	}
	return nil
}

// Search scans all points in the project and returns the best limit hits.
func (e *Exact) Search(_ context.Context, projectID uuid.UUID, vector []float32, limit int) ([]Hit, error) {
	if len(vector) != e.dim {
		return nil, fmt.Errorf("index: query has %d dimensions, want %d: %w", len(vector), e.dim, model.ErrValidation)
	}
	if limit <= 0 {
		return nil, nil
	}

	e.mu.RLock()
	hits := make([]Hit, 0, len(e.points))
	for id, p := range e.points {
		if p.projectID != projectID {
			continue
		}
		hits = append(hits, Hit{
			ChunkID: id,
			Seq:     p.seq,
			Score:   float32(cosineSimilarity(vector, p.vec)),
		})
	}
	e.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq < hits[j].Seq
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteDocument removes every point belonging to the document.
func (e *Exact) DeleteDocument(_ context.Context, documentID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range e.points {
		if p.documentID == documentID {
			delete(e.points, id)
		}
	}
	return nil
}

// DeleteProject removes every point belonging to the project.
func (e *Exact) DeleteProject(_ context.Context, projectID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range e.points {
		if p.projectID == projectID {
			delete(e.points, id)
		}
	}
	return nil
}

// Count returns the number of indexed points.
func (e *Exact) Count(_ context.Context) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return int64(len(e.points)), nil
}

// Close is a no-op for the in-memory index.
func (e *Exact) Close() error { return nil }

// cosineSimilarity computes the cosine of the angle between a and b using
// float64 accumulation for stability. A zero vector has similarity 0 with
// everything.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
