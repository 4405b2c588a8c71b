package commands

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/report"
)

// NewStatsCmd constructs the `corpusd stats` command, which prints corpus
// counters as JSON, service-wide or scoped to one project.
func NewStatsCmd() *cobra.Command {
	var teamRef string
	var projectRef string

	cmd := &cobra.Command{
		Use:   "stats [--team TEAM --project PROJECT]",
		Short: "Print corpus statistics as JSON",
		Long: `Print document, chunk, embedding, and index counters as JSON.

Without flags the numbers cover every project in the store. With --team
and --project they are scoped to that project.

Examples:
  corpusd stats
  corpusd stats --team acme --project handbook`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if (teamRef == "") != (projectRef == "") {
				return fmt.Errorf("stats: --team and --project go together")
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = st.Close() }()

			idx, err := buildIndex(ctx, st, log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = idx.Close() }()

			var projectID *uuid.UUID
			if teamRef != "" {
				project, err := resolveProject(ctx, st, teamRef, projectRef)
				if err != nil {
					return fmt.Errorf("stats: %w", err)
				}
				projectID = &project.ID
			}

			stats, err := report.NewReporter(st, idx).Stats(ctx, projectID)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&teamRef, "team", "", "Team name or ID")
	cmd.Flags().StringVar(&projectRef, "project", "", "Project name or ID")

	return cmd
}
