// Package embedder converts text into dense vector embeddings. Each
// implementation talks to a different backend (OpenAI, Azure OpenAI, Ollama)
// via plain HTTP — no additional SDK dependencies are required.
package embedder

import "context"

// Embedder converts batches of text into embedding vectors. Implementations
// must be safe for concurrent use.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice and every vector is
	// Dimensions() wide; anything else from the backend is an upstream error.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector width this embedder produces.
	Dimensions() int

	// Name identifies the backend and model (e.g. "openai/text-embedding-3-small")
	// for job records and logs.
	Name() string

	// Ping checks backend reachability without embedding anything.
	Ping(ctx context.Context) error
}
