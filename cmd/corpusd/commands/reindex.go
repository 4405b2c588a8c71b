package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/corpusworks/corpusd/internal/logging"
)

// NewReindexCmd constructs the `corpusd reindex` command, which replays every
// embedded chunk from the store into the qdrant collection.
func NewReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the qdrant collection from the store",
		Long: `Replay every embedded chunk from the SQLite store into the qdrant
collection, repairing drift after a lost collection or missed upserts.

The store is the source of truth and chunk IDs are stable, so replaying
over existing points is idempotent. Deletes are applied to the index when
they happen, so a repair run only adds or refreshes points.

The exact (in-memory) backend needs no repair command: it is rebuilt from
the store every time the server starts.

Examples:
  CORPUSD_INDEX_BACKEND=qdrant corpusd reindex`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			backend := getEnvOrDefault("CORPUSD_INDEX_BACKEND", "exact")
			if backend != "qdrant" {
				return fmt.Errorf("reindex: backend %q lives in memory and is rebuilt at startup; reindex applies to qdrant", backend)
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			defer func() { _ = st.Close() }()

			idx, err := buildIndex(ctx, st, log)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			defer func() { _ = idx.Close() }()

			n, err := replayIndex(ctx, st, idx)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}

			log.Info("reindex complete", slog.Int("vectors", n))
			fmt.Printf("reindexed %d vectors into collection %q\n", n, getEnvOrDefault("CORPUSD_QDRANT_COLLECTION", "corpus_chunks"))
			return nil
		},
	}
}
