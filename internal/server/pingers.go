package server

import (
	"context"

	"github.com/corpusworks/corpusd/internal/embedder"
	"github.com/corpusworks/corpusd/internal/index"
	"github.com/corpusworks/corpusd/internal/store"
)

// StorePinger probes the SQLite store with a round-trip query.
// It satisfies the Pinger interface and is used by GET /api/ready.
type StorePinger struct {
	// store is the store to probe.
	store *store.Store
}

// NewStorePinger constructs a StorePinger for the given store.
func NewStorePinger(st *store.Store) *StorePinger {
	return &StorePinger{store: st}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "store" }

// Ping verifies the store connection is alive.
func (p *StorePinger) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// IndexPinger probes the vector index. The qdrant backend exposes its native
// health-check RPC; the in-memory exact backend is probed with a point count.
// It satisfies the Pinger interface and is used by GET /api/ready.
type IndexPinger struct {
	// index is the index to probe.
	index index.Index
}

// NewIndexPinger constructs an IndexPinger for the given index.
func NewIndexPinger(idx index.Index) *IndexPinger {
	return &IndexPinger{index: idx}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index" }

// Ping checks the index backend is reachable.
func (p *IndexPinger) Ping(ctx context.Context) error {
	if hc, ok := p.index.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	_, err := p.index.Count(ctx)
	return err
}

// EmbedderPinger probes the embedding backend with a zero-cost endpoint
// (model listing or tags, never an embed call).
// It satisfies the Pinger interface and is used by GET /api/ready.
type EmbedderPinger struct {
	// emb is the embedder to probe.
	emb embedder.Embedder
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder.
func NewEmbedderPinger(e embedder.Embedder) *EmbedderPinger {
	return &EmbedderPinger{emb: e}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping checks the embedding backend is reachable.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	return p.emb.Ping(ctx)
}
