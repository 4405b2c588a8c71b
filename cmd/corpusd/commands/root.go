// Package commands defines all Cobra CLI commands for the corpusd binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/corpusworks/corpusd/internal/audit"
	"github.com/corpusworks/corpusd/internal/config"
	"github.com/corpusworks/corpusd/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corpusd",
		Short: "corpusd — multi-tenant document ingestion and semantic retrieval",
		Long: `corpusd turns document collections into searchable vector corpora.

Teams upload documents into projects; corpusd splits them into chunks,
embeds the chunks, and answers cosine-similarity queries over the result.
SQLite is the source of truth and the vector index (in-memory exact or
Qdrant) is a projection that can always be rebuilt from it.

Configuration comes from CORPUSD_* environment variables or a YAML config
file (./corpusd.yaml or ~/.config/corpusd/config.yaml); environment
variables always win. See 'corpusd serve --help' to get started.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ./corpusd.yaml or ~/.config/corpusd/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewStatsCmd(),
		NewReindexCmd(),
		NewVersionCmd(),
	)

	return root
}
