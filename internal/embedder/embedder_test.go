package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corpusworks/corpusd/internal/model"
)

func Test_OpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want Bearer sk-test", got)
		}

		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Input) != 2 || req.Model != "test-embed" || req.Dimensions != 3 {
			t.Errorf("request = %+v, want 2 inputs, model test-embed, dims 3", req)
		}

		// Out-of-order data exercises the index placement.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0, 1, 0}, "index": 1},
				{"embedding": []float32{1, 0, 0}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "sk-test",
		Model:      "test-embed",
		Dimensions: 3,
	})

	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len(vecs) = %d, want 2", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not placed by index: %v", vecs)
	}
}

func Test_OpenAIEmbedder_Embed_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded"},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-embed", Dimensions: 3})

	_, err := e.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, model.ErrUpstream) {
		t.Errorf("Embed() error = %v, want ErrUpstream", err)
	}
}

func Test_OpenAIEmbedder_Embed_WrongWidth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1, 0}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-embed", Dimensions: 3})

	_, err := e.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, model.ErrUpstream) {
		t.Errorf("Embed() error = %v, want ErrUpstream", err)
	}
}

func Test_OllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || len(req.Input) != 2 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{1, 0}, {0, 1}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Dimensions: 2})

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 2 {
		t.Errorf("vecs = %v, want 2 vectors of width 2", vecs)
	}
}

func Test_OllamaEmbedder_Embed_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{1, 0}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Dimensions: 2})

	_, err := e.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, model.ErrUpstream) {
		t.Errorf("Embed() error = %v, want ErrUpstream", err)
	}
}

func Test_Ping(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags", "/models":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer up.Close()

	ctx := context.Background()

	if err := NewOllamaEmbedder(&OllamaConfig{Host: up.URL, Model: "m"}).Ping(ctx); err != nil {
		t.Errorf("ollama Ping() error = %v", err)
	}
	if err := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: up.URL, APIKey: "k", Model: "m"}).Ping(ctx); err != nil {
		t.Errorf("openai Ping() error = %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	err := NewOllamaEmbedder(&OllamaConfig{Host: down.URL, Model: "m"}).Ping(ctx)
	if !errors.Is(err, model.ErrUpstream) {
		t.Errorf("Ping() against failing backend = %v, want ErrUpstream", err)
	}
}

func Test_LooksLikeChatModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"ollama/nomic-embed-text", false},
		{"openai/text-embedding-3-small", false},
		{"openai/gpt-4o", true},
		{"ollama/llama3.2", true},
		{"azure/gpt-35-turbo", true},
	}

	for _, tt := range tests {
		if got := looksLikeChatModel(tt.name); got != tt.want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func Test_Validate_DimensionMismatch(t *testing.T) {
	t.Parallel()

	e := NewOllamaEmbedder(&OllamaConfig{Host: "http://localhost:1", Model: "nomic-embed-text", Dimensions: 768})

	err := Validate(context.Background(), slog.Default(), e, model.EmbeddingDim)
	if err == nil {
		t.Fatal("Validate() error = nil, want dimension mismatch")
	}
}

func Test_Validate_ProbeSucceeds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{make([]float32, 4)},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "custom", Dimensions: 4})

	if err := Validate(context.Background(), slog.Default(), e, 4); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
