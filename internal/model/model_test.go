package model

import (
	"errors"
	"testing"
)

func embedded(n int) []Chunk {
	cs := make([]Chunk, n)
	for i := range cs {
		cs[i] = Chunk{ChunkIndex: i, Content: "x", Embedding: make([]float32, EmbeddingDim)}
	}
	return cs
}

func bare(n int) []Chunk {
	cs := make([]Chunk, n)
	for i := range cs {
		cs[i] = Chunk{ChunkIndex: i, Content: "x"}
	}
	return cs
}

// TestDeriveStatus checks that document status tracks the embedding state of
// the chunk set.
func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []Chunk
		want   DocumentStatus
	}{
		{"no chunks", nil, StatusUploaded},
		{"empty slice", []Chunk{}, StatusUploaded},
		{"all embedded", embedded(3), StatusReady},
		{"none embedded", bare(3), StatusFailed},
		{"partially embedded", append(embedded(2), bare(1)...), StatusProcessing},
		{"single embedded", embedded(1), StatusReady},
		{"single bare", bare(1), StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DeriveStatus(tt.chunks); got != tt.want {
				t.Errorf("DeriveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestValidateEmbedding checks the dimension contract: nil passes, exactly
// EmbeddingDim passes, everything else is a validation error.
func TestValidateEmbedding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		vec     []float32
		wantErr bool
	}{
		{"nil is not yet embedded", nil, false},
		{"exact dimension", make([]float32, EmbeddingDim), false},
		{"too short", make([]float32, 8), true},
		{"too long", make([]float32, EmbeddingDim+1), true},
		{"empty non-nil", []float32{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateEmbedding(tt.vec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateEmbedding() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("ValidateEmbedding() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestValidSourceType(t *testing.T) {
	t.Parallel()

	for _, s := range []SourceType{SourceUpload, SourceURL, SourceManual} {
		if !ValidSourceType(s) {
			t.Errorf("ValidSourceType(%q) = false, want true", s)
		}
	}
	if ValidSourceType("carrier-pigeon") {
		t.Error(`ValidSourceType("carrier-pigeon") = true, want false`)
	}
}
