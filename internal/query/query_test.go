package query

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/corpusworks/corpusd/internal/index"
	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedProject(t *testing.T, st *store.Store, team, name string) *model.Project {
	t.Helper()
	ctx := context.Background()
	tm, err := st.CreateTeam(ctx, team)
	if err != nil {
		t.Fatalf("CreateTeam() error = %v", err)
	}
	project, err := st.CreateProject(ctx, tm.ID, name, "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return project
}

// axis returns a vector with a single non-zero component, giving exact
// cosine similarities: identical axes score 1, distinct axes score 0.
func axis(i int) []float32 {
	v := make([]float32, model.EmbeddingDim)
	v[i] = 1
	return v
}

// diagonal returns a vector at 45° between axes 0 and 1 (cosine 1/√2 to each).
func diagonal() []float32 {
	v := make([]float32, model.EmbeddingDim)
	v[0] = 1
	v[1] = 1
	return v
}

// addDoc persists an embedded document and mirrors it into the index, the
// same post-commit upsert the pipeline performs.
func addDoc(t *testing.T, st *store.Store, idx index.Index, projectID uuid.UUID, title string, vecs ...[]float32) (*model.Document, []model.Chunk) {
	t.Helper()
	ctx := context.Background()

	chunks := make([]model.Chunk, len(vecs))
	for i, v := range vecs {
		chunks[i] = model.Chunk{ChunkIndex: i, Content: fmt.Sprintf("%s chunk %d", title, i), Embedding: v}
	}
	doc := &model.Document{ProjectID: projectID, SourceType: model.SourceManual, Title: title}
	if err := st.CreateDocumentWithChunks(ctx, doc, chunks, &model.IngestionJob{}); err != nil {
		t.Fatalf("CreateDocumentWithChunks() error = %v", err)
	}

	points := make([]index.Point, len(chunks))
	for i := range chunks {
		points[i] = index.Point{
			ChunkID:    chunks[i].ID,
			DocumentID: doc.ID,
			ProjectID:  projectID,
			Seq:        chunks[i].Seq,
			Vector:     chunks[i].Embedding,
		}
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return doc, chunks
}

func Test_Engine_SearchRoundtrip(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)
	project := seedProject(t, st, "acme", "docs")
	doc, chunks := addDoc(t, st, idx, project.ID, "guide", axis(0), diagonal(), axis(1))
	engine := NewEngine(st, idx)
	ctx := context.Background()

	res, err := engine.Search(ctx, &Request{ProjectID: project.ID, Vector: axis(0), QueryText: "guide"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(res.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(res.Results))
	}

	wantScores := []float64{1, 0.7071, 0}
	for i, row := range res.Results {
		if row.Score != wantScores[i] {
			t.Errorf("Results[%d].Score = %v, want %v", i, row.Score, wantScores[i])
		}
		if row.DocumentID != doc.ID {
			t.Errorf("Results[%d].DocumentID = %s, want %s", i, row.DocumentID, doc.ID)
		}
	}
	if res.Results[0].ChunkID != chunks[0].ID {
		t.Errorf("top hit = %s, want the identical-vector chunk %s", res.Results[0].ChunkID, chunks[0].ID)
	}
	if res.Results[0].Content != "guide chunk 0" {
		t.Errorf("top hit content = %q", res.Results[0].Content)
	}
	if res.LatencyMS < 0 {
		t.Errorf("LatencyMS = %d", res.LatencyMS)
	}

	n, err := st.QueryLogCount(ctx, project.ID)
	if err != nil {
		t.Fatalf("QueryLogCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("query log count = %d, want 1", n)
	}
}

func Test_Engine_TopKDefaultAndBounds(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)
	project := seedProject(t, st, "acme", "docs")

	vecs := make([][]float32, 8)
	for i := range vecs {
		vecs[i] = axis(i)
	}
	addDoc(t, st, idx, project.ID, "wide", vecs...)
	engine := NewEngine(st, idx)
	ctx := context.Background()

	res, err := engine.Search(ctx, &Request{ProjectID: project.ID, Vector: axis(0)})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != DefaultTopK {
		t.Errorf("default top_k returned %d rows, want %d", len(res.Results), DefaultTopK)
	}

	for _, bad := range []int{-1, 51, 1000} {
		_, err := engine.Search(ctx, &Request{ProjectID: project.ID, Vector: axis(0), TopK: bad})
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("Search(top_k=%d) error = %v, want ErrValidation", bad, err)
		}
	}

	res, err = engine.Search(ctx, &Request{ProjectID: project.ID, Vector: axis(0), TopK: 2})
	if err != nil {
		t.Fatalf("Search(top_k=2) error = %v", err)
	}
	if len(res.Results) != 2 {
		t.Errorf("top_k=2 returned %d rows", len(res.Results))
	}
}

func Test_Engine_RejectsWrongVectorWidth(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)
	project := seedProject(t, st, "acme", "docs")
	engine := NewEngine(st, idx)

	_, err := engine.Search(context.Background(), &Request{ProjectID: project.ID, Vector: []float32{1, 2, 3}})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Search() error = %v, want ErrValidation", err)
	}
}

func Test_Engine_ProjectIsolation(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)
	alpha := seedProject(t, st, "acme", "alpha")
	beta := seedProject(t, st, "globex", "beta")

	_, alphaChunks := addDoc(t, st, idx, alpha.ID, "alpha-doc", axis(0))
	addDoc(t, st, idx, beta.ID, "beta-doc", axis(0))
	engine := NewEngine(st, idx)

	res, err := engine.Search(context.Background(), &Request{ProjectID: alpha.ID, Vector: axis(0)})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("len(Results) = %d, want 1", len(res.Results))
	}
	if res.Results[0].ChunkID != alphaChunks[0].ID {
		t.Errorf("got chunk %s from another project", res.Results[0].ChunkID)
	}
}

func Test_Engine_DeletedChunksNeverResurface(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)
	project := seedProject(t, st, "acme", "docs")
	doc, _ := addDoc(t, st, idx, project.ID, "gone", axis(0))
	engine := NewEngine(st, idx)
	ctx := context.Background()

	// Delete from the store only, leaving the index stale on purpose.
	if _, err := st.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}

	res, err := engine.Search(ctx, &Request{ProjectID: project.ID, Vector: axis(0)})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != 0 {
		t.Errorf("stale index hit resurfaced %d deleted chunks", len(res.Results))
	}
}

func Test_Engine_TieBreakByCreationOrder(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)
	project := seedProject(t, st, "acme", "docs")
	_, first := addDoc(t, st, idx, project.ID, "first", axis(0))
	_, second := addDoc(t, st, idx, project.ID, "second", axis(0))
	engine := NewEngine(st, idx)

	res, err := engine.Search(context.Background(), &Request{ProjectID: project.ID, Vector: axis(0)})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(res.Results))
	}
	if res.Results[0].ChunkID != first[0].ID || res.Results[1].ChunkID != second[0].ID {
		t.Errorf("tied scores not ordered by creation: got %s before %s",
			res.Results[0].ChunkID, res.Results[1].ChunkID)
	}
}

func Test_Engine_Idempotent(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)
	project := seedProject(t, st, "acme", "docs")
	addDoc(t, st, idx, project.ID, "stable", axis(0), diagonal(), axis(1))
	engine := NewEngine(st, idx)
	ctx := context.Background()

	a, err := engine.Search(ctx, &Request{ProjectID: project.ID, Vector: diagonal()})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	b, err := engine.Search(ctx, &Request{ProjectID: project.ID, Vector: diagonal()})
	if err != nil {
		t.Fatalf("Search() again error = %v", err)
	}
	if !reflect.DeepEqual(a.Results, b.Results) {
		t.Errorf("identical queries returned different results:\n%v\n%v", a.Results, b.Results)
	}

	n, _ := st.QueryLogCount(ctx, project.ID)
	if n != 2 {
		t.Errorf("query log count = %d, want 2", n)
	}
}

func Test_Engine_EmptyProject(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)
	project := seedProject(t, st, "acme", "empty")
	engine := NewEngine(st, idx)

	res, err := engine.Search(context.Background(), &Request{ProjectID: project.ID, Vector: axis(0)})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Results == nil {
		t.Error("Results is nil, want empty slice")
	}
	if len(res.Results) != 0 {
		t.Errorf("len(Results) = %d, want 0", len(res.Results))
	}
}
