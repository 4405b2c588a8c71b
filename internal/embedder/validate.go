package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If the configured model matches
// any of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check for a configured embedder: it warns when the
// model name looks like a chat model, then embeds a probe string and verifies
// the backend really produces wantDims-wide vectors. Call it at startup so
// operators get a clear error rather than a cryptic failure on the first
// ingestion.
func Validate(ctx context.Context, log *slog.Logger, e Embedder, wantDims int) error {
	if looksLikeChatModel(e.Name()) {
		log.Warn("embedder: configured model looks like a chat model, not an embedding model — "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", e.Name()),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	if e.Dimensions() != wantDims {
		return fmt.Errorf("embedder: %s produces %d-wide vectors but the store requires %d — "+
			"set CORPUSD_EMBEDDING_DIMENSIONS or pick a matching model",
			e.Name(), e.Dimensions(), wantDims)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	vecs, err := e.Embed(ctx, []string{"embedding dimension probe"})
	if err != nil {
		return fmt.Errorf("embedder: probe embed failed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != wantDims {
		return fmt.Errorf("embedder: probe returned %d vectors of width %d, want 1 of width %d",
			len(vecs), probeWidth(vecs), wantDims)
	}
	return nil
}

func probeWidth(vecs [][]float32) int {
	if len(vecs) == 0 {
		return 0
	}
	return len(vecs[0])
}
