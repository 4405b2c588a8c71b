// Package index provides the vector index behind retrieval: an approximate
// backend over Qdrant for production and an exact in-memory backend for
// small deployments and tests. Both score by cosine similarity and scope
// every search to a single project.
//
// The index is a rebuildable projection of the relational store. Chunk
// payloads never live here; hits carry ids that callers hydrate from the
// store, which also re-checks that a hit still exists.
package index

import (
	"context"

	"github.com/google/uuid"
)

// Point is one indexed chunk embedding with the ownership references and the
// store-assigned insertion sequence used for deterministic tie-breaking.
type Point struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	ProjectID  uuid.UUID
	Seq        int64
	Vector     []float32
}

// Hit is one search result. Score is cosine similarity: 1 is an identical
// direction, 0 orthogonal. Seq echoes the point's insertion sequence.
type Hit struct {
	ChunkID uuid.UUID
	Seq     int64
	Score   float32
}

// Index stores chunk embeddings and answers project-scoped similarity
// queries. Implementations must be safe to call from multiple goroutines.
type Index interface {
	// Upsert adds or replaces points. Every vector must match the dimension
	// the index was created with.
	Upsert(ctx context.Context, points []Point) error
	// Search returns up to limit hits for the project, best score first.
	// Approximate backends may miss borderline candidates; the exact backend
	// never does.
	Search(ctx context.Context, projectID uuid.UUID, vector []float32, limit int) ([]Hit, error)
	// DeleteDocument removes every point belonging to the document. The
	// removal is visible to searches once the call returns.
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
	// DeleteProject removes every point belonging to the project.
	DeleteProject(ctx context.Context, projectID uuid.UUID) error
	// Count returns the number of indexed points.
	Count(ctx context.Context) (int64, error)
	// Close releases any resources held by the index.
	Close() error
}
