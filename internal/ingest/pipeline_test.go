package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/corpusworks/corpusd/internal/embedder"
	"github.com/corpusworks/corpusd/internal/extract"
	"github.com/corpusworks/corpusd/internal/index"
	"github.com/corpusworks/corpusd/internal/model"
	"github.com/corpusworks/corpusd/internal/store"
)

// fakeEmbedder produces deterministic vectors without any network traffic.
type fakeEmbedder struct {
	fail  bool
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder: fake: backend down: %w", model.ErrUpstream)
	}
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, model.EmbeddingDim)
		v[0] = 1
		v[1] = float32(len(text) % 7)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int            { return model.EmbeddingDim }
func (f *fakeEmbedder) Name() string               { return "fake/test-embed" }
func (f *fakeEmbedder) Ping(context.Context) error { return nil }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedProject(t *testing.T, st *store.Store) *model.Project {
	t.Helper()
	ctx := context.Background()
	team, err := st.CreateTeam(ctx, "acme")
	if err != nil {
		t.Fatalf("CreateTeam() error = %v", err)
	}
	project, err := st.CreateProject(ctx, team.ID, "docs", "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return project
}

func newTestPipeline(t *testing.T, st *store.Store, emb embedder.Embedder) (*Pipeline, index.Index) {
	t.Helper()
	idx := index.NewExact(model.EmbeddingDim)
	p, err := NewPipeline(st, idx, emb, extract.NewPlainText(), &Config{ChunkSize: 80, ChunkOverlap: 10, EmbedBatch: 2})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	return p, idx
}

func vec(seed float32) []float32 {
	v := make([]float32, model.EmbeddingDim)
	v[0] = seed
	return v
}

func Test_Pipeline_IngestChunks(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	p, idx := newTestPipeline(t, st, &fakeEmbedder{})
	ctx := context.Background()

	doc, err := p.IngestChunks(ctx, project.ID, &ChunkBatch{
		Title:          "handbook",
		EmbeddingModel: "openai/text-embedding-3-small",
		Chunks: []ChunkInput{
			{Index: 0, Content: "first chunk", Embedding: vec(1)},
			{Index: 1, Content: "second chunk", Embedding: vec(2)},
			{Index: 2, Content: "third chunk", Embedding: vec(3)},
		},
	})
	if err != nil {
		t.Fatalf("IngestChunks() error = %v", err)
	}
	if doc.Status != model.StatusReady {
		t.Errorf("doc.Status = %q, want ready", doc.Status)
	}

	chunks, err := st.ListChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListChunks() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if chunks[0].TokenCount == nil || *chunks[0].TokenCount == 0 {
		t.Error("token count was not estimated for chunk 0")
	}

	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("index count = %d, want 3", n)
	}
}

func Test_Pipeline_IngestChunks_PartialEmbeddings(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	p, idx := newTestPipeline(t, st, &fakeEmbedder{})
	ctx := context.Background()

	doc, err := p.IngestChunks(ctx, project.ID, &ChunkBatch{
		Title: "partial",
		Chunks: []ChunkInput{
			{Index: 0, Content: "embedded", Embedding: vec(1)},
			{Index: 1, Content: "not yet"},
		},
	})
	if err != nil {
		t.Fatalf("IngestChunks() error = %v", err)
	}
	if doc.Status != model.StatusProcessing {
		t.Errorf("doc.Status = %q, want processing", doc.Status)
	}

	n, _ := idx.Count(ctx)
	if n != 1 {
		t.Errorf("index count = %d, want 1 (only the embedded chunk)", n)
	}
}

func Test_Pipeline_IngestChunks_Validation(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	p, _ := newTestPipeline(t, st, &fakeEmbedder{})
	ctx := context.Background()

	tests := []struct {
		name  string
		batch *ChunkBatch
	}{
		{"empty title", &ChunkBatch{Chunks: []ChunkInput{{Index: 0, Content: "x", Embedding: vec(1)}}}},
		{"no chunks", &ChunkBatch{Title: "t"}},
		{"empty content", &ChunkBatch{Title: "t", Chunks: []ChunkInput{{Index: 0, Content: "  "}}}},
		{"negative index", &ChunkBatch{Title: "t", Chunks: []ChunkInput{{Index: -1, Content: "x"}}}},
		{"duplicate index", &ChunkBatch{Title: "t", Chunks: []ChunkInput{
			{Index: 0, Content: "a", Embedding: vec(1)},
			{Index: 0, Content: "b", Embedding: vec(2)},
		}}},
		{"wrong dimensions", &ChunkBatch{Title: "t", Chunks: []ChunkInput{
			{Index: 0, Content: "x", Embedding: []float32{1, 2, 3}},
		}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := p.IngestChunks(ctx, project.ID, tt.batch); !errors.Is(err, model.ErrValidation) {
				t.Errorf("IngestChunks() error = %v, want ErrValidation", err)
			}
		})
	}

	docs, err := st.ListDocuments(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("rejected batches left %d documents behind", len(docs))
	}
}

func Test_Pipeline_IngestDocument(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	emb := &fakeEmbedder{}
	p, idx := newTestPipeline(t, st, emb)
	ctx := context.Background()

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 12)
	doc, job, err := p.IngestDocument(ctx, project.ID, &RawDocument{
		Title:      "foxes",
		Filename:   "foxes.txt",
		SourceType: model.SourceUpload,
		Data:       []byte(text),
	})
	if err != nil {
		t.Fatalf("IngestDocument() error = %v", err)
	}

	if doc.Status != model.StatusReady {
		t.Errorf("doc.Status = %q, want ready", doc.Status)
	}
	if job.Status != model.JobSucceeded {
		t.Errorf("job.Status = %q, want succeeded", job.Status)
	}
	if job.ChunksCreated == 0 {
		t.Error("job.ChunksCreated = 0, want > 0")
	}
	if job.EmbeddingModel != "fake/test-embed" {
		t.Errorf("job.EmbeddingModel = %q", job.EmbeddingModel)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Error("job timestamps not set")
	}

	chunks, err := st.ListChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListChunks() error = %v", err)
	}
	if len(chunks) != job.ChunksCreated {
		t.Errorf("len(chunks) = %d, want %d", len(chunks), job.ChunksCreated)
	}
	for _, c := range chunks {
		if c.CharStart == nil || c.CharEnd == nil {
			t.Fatalf("chunk %d missing offsets", c.ChunkIndex)
		}
		if got := text[*c.CharStart:*c.CharEnd]; got != c.Content {
			t.Errorf("chunk %d offsets do not index the source text", c.ChunkIndex)
		}
		if c.TokenCount == nil || *c.TokenCount == 0 {
			t.Errorf("chunk %d missing token count", c.ChunkIndex)
		}
	}

	n, _ := idx.Count(ctx)
	if n != int64(len(chunks)) {
		t.Errorf("index count = %d, want %d", n, len(chunks))
	}

	// Batching: 80-byte chunks over ~550 bytes at EmbedBatch=2 needs
	// several embed calls.
	if emb.calls < 2 {
		t.Errorf("embedder calls = %d, want batched calls", emb.calls)
	}
}

func Test_Pipeline_IngestDocument_EmbedFailureLeavesNoChunks(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	p, idx := newTestPipeline(t, st, &fakeEmbedder{fail: true})
	ctx := context.Background()

	doc, job, err := p.IngestDocument(ctx, project.ID, &RawDocument{
		Title:    "doomed",
		Filename: "doomed.txt",
		Data:     []byte("some perfectly fine text that will never be embedded"),
	})
	if !errors.Is(err, model.ErrUpstream) {
		t.Fatalf("IngestDocument() error = %v, want ErrUpstream", err)
	}

	if doc.Status != model.StatusFailed {
		t.Errorf("doc.Status = %q, want failed", doc.Status)
	}
	if job.Status != model.JobFailed {
		t.Errorf("job.Status = %q, want failed", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("job.ErrorMessage is empty")
	}

	chunks, err := st.ListChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListChunks() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("failed ingestion persisted %d chunks, want 0", len(chunks))
	}
	n, _ := idx.Count(ctx)
	if n != 0 {
		t.Errorf("index count = %d, want 0", n)
	}
}

func Test_Pipeline_IngestDocument_EmptyTextFailsJob(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	p, _ := newTestPipeline(t, st, &fakeEmbedder{})
	ctx := context.Background()

	doc, job, err := p.IngestDocument(ctx, project.ID, &RawDocument{
		Title:    "blank",
		Filename: "blank.txt",
		Data:     []byte("   \n\t  \n"),
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("IngestDocument() error = %v, want ErrValidation", err)
	}
	if doc.Status != model.StatusFailed {
		t.Errorf("doc.Status = %q, want failed", doc.Status)
	}
	if job.Status != model.JobFailed {
		t.Errorf("job.Status = %q, want failed", job.Status)
	}
}

func Test_Pipeline_RunTwiceReplaces(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	p, idx := newTestPipeline(t, st, &fakeEmbedder{})
	ctx := context.Background()

	long := &RawDocument{
		Title:    "evolving",
		Filename: "evolving.txt",
		Data:     []byte(strings.Repeat("A sentence that fills space for the first revision. ", 10)),
	}
	doc, job, err := p.IngestDocument(ctx, project.ID, long)
	if err != nil {
		t.Fatalf("IngestDocument() error = %v", err)
	}
	firstCount := job.ChunksCreated
	if firstCount < 2 {
		t.Fatalf("first run created %d chunks, want several", firstCount)
	}

	// Second run over much shorter content must replace, not append.
	short := &RawDocument{
		Title:    "evolving",
		Filename: "evolving.txt",
		Data:     []byte("just one small revision"),
	}
	job2, err := st.CreateJob(ctx, doc.ID)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := p.Run(ctx, doc, job2.ID, short); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	chunks, err := st.ListChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListChunks() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("len(chunks) after rerun = %d, want 1", len(chunks))
	}
	n, _ := idx.Count(ctx)
	if n != 1 {
		t.Errorf("index count after rerun = %d, want 1", n)
	}
}

func Test_Pipeline_PrepareRequiresEmbedder(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	p, _ := newTestPipeline(t, st, nil)
	ctx := context.Background()

	_, _, err := p.Prepare(ctx, project.ID, &RawDocument{
		Title:    "nope",
		Filename: "nope.txt",
		Data:     []byte("text"),
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Prepare() error = %v, want ErrValidation", err)
	}
}

func Test_Pipeline_PrepareRejectsEmptyData(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	project := seedProject(t, st)
	p, _ := newTestPipeline(t, st, &fakeEmbedder{})
	ctx := context.Background()

	_, _, err := p.Prepare(ctx, project.ID, &RawDocument{Title: "empty", Filename: "empty.txt"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("Prepare() error = %v, want ErrValidation", err)
	}
}

func Test_NewPipeline_NilChecks(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	idx := index.NewExact(model.EmbeddingDim)

	if _, err := NewPipeline(nil, idx, nil, extract.NewPlainText(), nil); err == nil {
		t.Error("NewPipeline(nil store) error = nil")
	}
	if _, err := NewPipeline(st, nil, nil, extract.NewPlainText(), nil); err == nil {
		t.Error("NewPipeline(nil index) error = nil")
	}
	if _, err := NewPipeline(st, idx, nil, nil, nil); err == nil {
		t.Error("NewPipeline(nil extractor) error = nil")
	}

	p, err := NewPipeline(st, idx, nil, extract.NewPlainText(), nil)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	if p.cfg.ChunkSize != 2000 || p.cfg.ChunkOverlap != 200 || p.cfg.EmbedBatch != 64 {
		t.Errorf("defaults = %+v, want 2000/200/64", p.cfg)
	}
}

func Test_SanitizeReason(t *testing.T) {
	t.Parallel()

	multiline := errors.New("line one\n\tline two   spaced")
	if got := sanitizeReason(multiline); got != "line one line two spaced" {
		t.Errorf("sanitizeReason() = %q", got)
	}

	long := errors.New(strings.Repeat("x", 600))
	got := sanitizeReason(long)
	if len(got) != 503 {
		t.Errorf("len(sanitizeReason(long)) = %d, want 503", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("sanitizeReason(long) does not end with ellipsis")
	}
}
