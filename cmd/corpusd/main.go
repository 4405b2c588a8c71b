// Command corpusd is the entry point for the corpusd retrieval service.
// It provides a CLI (via Cobra) for running the HTTP API server and for
// one-shot ingestion, search, and maintenance tasks against the same store.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/corpusworks/corpusd/cmd/corpusd/commands"
)

func main() {
	// Load .env if present. Variables already set in the environment win.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
