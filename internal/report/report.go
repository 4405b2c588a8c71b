// Package report answers corpus statistics questions and drives deletion
// lifecycles, keeping the vector index in step with the relational store.
package report

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/index"
	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/store"
)

// Reporter bundles the store and index for stats and deletes. Safe for
// concurrent use.
type Reporter struct {
	store *store.Store
	index index.Index
}

// NewReporter returns a Reporter over the given store and index.
func NewReporter(st *store.Store, idx index.Index) *Reporter {
	return &Reporter{store: st, index: idx}
}

// Stats reports chunk and document totals, scoped to one project when
// projectID is non-nil, global otherwise.
func (r *Reporter) Stats(ctx context.Context, projectID *uuid.UUID) (*model.CorpusStats, error) {
	if projectID == nil {
		return r.store.GlobalStats(ctx)
	}
	return r.store.ProjectStats(ctx, *projectID)
}

// DeleteDocument removes a document with its chunks and jobs, then clears
// the document's vectors from the index before returning. The returned count
// is the number of chunks removed; a missing document is (0, ErrNotFound).
func (r *Reporter) DeleteDocument(ctx context.Context, docID uuid.UUID) (int64, error) {
	n, err := r.store.DeleteDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	r.dropFromIndex(ctx, "document", docID, func() error {
		return r.index.DeleteDocument(ctx, docID)
	})
	return n, nil
}

// DeleteProject removes a project and everything under it, then clears the
// project's vectors from the index before returning.
func (r *Reporter) DeleteProject(ctx context.Context, projectID uuid.UUID) (int64, error) {
	n, err := r.store.DeleteProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	r.dropFromIndex(ctx, "project", projectID, func() error {
		return r.index.DeleteProject(ctx, projectID)
	})
	return n, nil
}

// dropFromIndex runs an index delete after a successful store delete. The
// store is the source of truth and hydration re-checks it, so an index
// failure here is logged rather than surfaced: the rows are already gone and
// stale vectors cannot resurface them.
func (r *Reporter) dropFromIndex(ctx context.Context, kind string, id uuid.UUID, del func() error) {
	if err := del(); err != nil {
		logging.FromContext(ctx).Warn("report: index delete failed",
			slog.String("kind", kind),
			slog.String("id", id.String()),
			slog.String("error", err.Error()),
			slog.String("hint", "run `corpusd reindex` to rebuild the index from the store"),
		)
	}
}
