package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corpusworks/corpusd/internal/embedder"
	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/query"
)

// NewSearchCmd constructs the `corpusd search` command, which runs a one-shot
// similarity query against a project and prints the results as JSON.
func NewSearchCmd() *cobra.Command {
	var teamRef string
	var projectRef string
	var topK int
	var vectorFile string

	cmd := &cobra.Command{
		Use:   "search --team TEAM --project PROJECT [QUERY]",
		Short: "Run a similarity query against a project",
		Long: `Search a project's corpus for chunks similar to a query.

The query text is embedded with the configured backend and matched against
the project's indexed chunks. Pass --vector-file to skip embedding and
search with a pre-computed vector (a JSON array of floats), which also
works when embedding is disabled.

With the exact (in-memory) backend the index is replayed from the store
before searching; with qdrant the query runs against the live collection.

Examples:
  corpusd search --team acme --project handbook "parental leave policy"
  corpusd search --team acme --project handbook --top-k 3 "error budgets"
  corpusd search --team acme --project handbook --vector-file query.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			queryText := ""
			if len(args) == 1 {
				queryText = args[0]
			}
			if queryText == "" && vectorFile == "" {
				return fmt.Errorf("search: provide a query string or --vector-file")
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = st.Close() }()

			project, err := resolveProject(ctx, st, teamRef, projectRef)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			var vector []float32
			if vectorFile != "" {
				vector, err = readVectorFile(vectorFile)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
			} else {
				emb, err := embedder.NewFromEnv()
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				if emb == nil {
					return fmt.Errorf("search: embedding is disabled (CORPUSD_EMBEDDER=none); pass --vector-file instead")
				}
				vecs, err := emb.Embed(ctx, []string{queryText})
				if err != nil {
					return fmt.Errorf("search: embed query: %w", err)
				}
				vector = vecs[0]
			}

			idx, err := buildIndex(ctx, st, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = idx.Close() }()

			engine := query.NewEngine(st, idx)
			engine.SetTopKBounds(getEnvInt("CORPUSD_DEFAULT_TOP_K", 0), getEnvInt("CORPUSD_MAX_TOP_K", 0))

			result, err := engine.Search(ctx, &query.Request{
				ProjectID: project.ID,
				Vector:    vector,
				TopK:      topK,
				QueryText: queryText,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&teamRef, "team", "", "Team name or ID (required)")
	cmd.Flags().StringVar(&projectRef, "project", "", "Project name or ID (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default: CORPUSD_DEFAULT_TOP_K or 5)")
	cmd.Flags().StringVar(&vectorFile, "vector-file", "", "Path to a JSON array of floats to use as the query vector")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

// readVectorFile parses a JSON array of numbers into a query vector.
func readVectorFile(name string) ([]float32, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("vector file %s: %w", name, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("vector file %s: empty vector", name)
	}
	return vec, nil
}
