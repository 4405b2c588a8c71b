package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/corpusworks/corpusd/internal/model"
)

// QdrantConfig holds connection parameters for a Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Qdrant is an Index backed by a Qdrant collection using cosine distance.
// Qdrant's HNSW graph makes searches approximate; payloads carry the
// ownership references needed for project scoping and document deletes.
type Qdrant struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrant connects to Qdrant and ensures the target collection exists,
// creating it with cosine distance if necessary.
func NewQdrant(ctx context.Context, cfg *QdrantConfig) (*Qdrant, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "corpus_chunks"
	}
	if cfg.VectorSize == 0 {
		cfg.VectorSize = model.EmbeddingDim
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: create qdrant client: %w", err)
	}

	q := &Qdrant{client: client, cfg: cfg}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// ensureCollection creates the collection if it does not already exist.
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("index: check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("index: create collection %q: %w", q.cfg.Collection, err)
	}
	return nil
}

// Upsert writes points with their vectors and ownership payload. The write
// waits for Qdrant to apply it so subsequent searches see the points.
func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	dim := int(q.cfg.VectorSize)
	qp := make([]*qdrant.PointStruct, 0, len(points))
	for i := range points {
		p := points[i]
		if len(p.Vector) != dim {
			return fmt.Errorf("index: point %s has %d dimensions, want %d: %w", p.ChunkID, len(p.Vector), dim, model.ErrValidation)
		}
		qp = append(qp, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ChunkID.String()),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"project_id":  p.ProjectID.String(),
				"document_id": p.DocumentID.String(),
				"seq":         p.Seq,
			}),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Points:         qp,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("index: upsert: %w", err)
	}
	return nil
}

// Search runs a cosine similarity query filtered to the project.
func (q *Qdrant) Search(ctx context.Context, projectID uuid.UUID, vector []float32, limit int) ([]Hit, error) {
	if len(vector) != int(q.cfg.VectorSize) {
		return nil, fmt.Errorf("index: query has %d dimensions, want %d: %w", len(vector), q.cfg.VectorSize, model.ErrValidation)
	}
	if limit <= 0 {
		return nil, nil
	}

	lim := uint64(limit)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("project_id", projectID.String()),
			},
		},
		Limit:       &lim,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := uuid.Parse(r.Id.GetUuid())
		if err != nil {
			continue
		}
		h := Hit{ChunkID: id, Score: r.Score}
		if v, ok := r.Payload["seq"]; ok {
			h.Seq = v.GetIntegerValue()
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// DeleteDocument removes every point whose payload references the document,
// waiting for the deletion to apply before returning.
func (q *Qdrant) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	return q.deleteByField(ctx, "document_id", documentID.String())
}

// DeleteProject removes every point whose payload references the project.
func (q *Qdrant) DeleteProject(ctx context.Context, projectID uuid.UUID) error {
	return q.deleteByField(ctx, "project_id", projectID.String())
}

func (q *Qdrant) deleteByField(ctx context.Context, field, value string) error {
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(field, value)},
		}),
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("index: delete by %s: %w", field, err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (q *Qdrant) Count(ctx context.Context) (int64, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return int64(n), nil
}

// HealthCheck probes the Qdrant server; used by the readiness endpoint.
func (q *Qdrant) HealthCheck(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("index: health check: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}
