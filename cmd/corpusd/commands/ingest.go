package commands

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/corpusworks/corpusd/internal/blob"
	"github.com/corpusworks/corpusd/internal/embedder"
	"github.com/corpusworks/corpusd/internal/extract"
	"github.com/corpusworks/corpusd/internal/ingest"
	"github.com/corpusworks/corpusd/internal/logging"
	"github.com/corpusworks/corpusd/internal/model"
)

// NewIngestCmd constructs the `corpusd ingest` command, which ingests local
// files into a project without going through the HTTP API.
func NewIngestCmd() *cobra.Command {
	var teamRef string
	var projectRef string
	var title string

	cmd := &cobra.Command{
		Use:   "ingest --team TEAM --project PROJECT FILE [FILE...]",
		Short: "Ingest local files into a project",
		Long: `Ingest one or more local files into a project's corpus.

Each file is stored in the blob store, recorded as a document, split into
chunks, embedded, and indexed. This is the same pipeline the HTTP upload
endpoint runs, minus the API-key layer, so it needs direct access to the
store and an embedding backend (CORPUSD_EMBEDDER; see 'corpusd serve --help').

Supported file types: plain text and text-like formats (.txt, .md, .log,
.csv, .json and friends).

Examples:
  corpusd ingest --team acme --project handbook ./docs/onboarding.md
  corpusd ingest --team acme --project handbook --title "Q3 notes" notes.txt
  corpusd ingest --team acme --project handbook ./docs/*.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if title != "" && len(args) > 1 {
				return fmt.Errorf("ingest: --title applies to a single file, got %d", len(args))
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if emb == nil {
				return fmt.Errorf("ingest: embedding is disabled (CORPUSD_EMBEDDER=none); file ingestion needs an embedding backend")
			}
			if err := embedder.Validate(ctx, log, emb, model.EmbeddingDim); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			blobs, err := openBlobStore(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			idx, err := buildIndex(ctx, st, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = idx.Close() }()

			pipe, err := ingest.NewPipeline(st, idx, emb, extract.NewPlainText(), ingestConfigFromEnv())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			project, err := resolveProject(ctx, st, teamRef, projectRef)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			failed := 0
			for _, name := range args {
				if err := ingestFile(ctx, log, pipe, blobs, project.ID, name, title); err != nil {
					failed++
					log.Error("ingest failed", slog.String("file", name), slog.Any("error", err))
				}
			}
			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&teamRef, "team", "", "Team name or ID (required)")
	cmd.Flags().StringVar(&projectRef, "project", "", "Project name or ID (required)")
	cmd.Flags().StringVar(&title, "title", "", "Document title (single file only; default: the file name)")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

// ingestFile stores one local file in the blob store and runs the full
// pipeline on it, mirroring POST /ingest/{team}/{project}/upload.
func ingestFile(ctx context.Context, log *slog.Logger, pipe *ingest.Pipeline, blobs blob.Store, projectID uuid.UUID, name, title string) error {
	if !extract.SupportedSuffix(name) {
		return fmt.Errorf("unsupported file type %q", filepath.Ext(name))
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return err
	}

	// The blob lands before the document row so a stored document never
	// points at a missing blob.
	base := filepath.Base(name)
	blobKey := path.Join(projectID.String(), uuid.NewString(), base)
	uri, _, size, err := blobs.Put(ctx, blobKey, bytes.NewReader(data))
	if err != nil {
		return err
	}

	if title == "" {
		title = base
	}

	doc, job, err := pipe.IngestDocument(ctx, projectID, &ingest.RawDocument{
		Title:      title,
		Filename:   base,
		SourceType: model.SourceUpload,
		BlobURI:    uri,
		MimeType:   mime.TypeByExtension(filepath.Ext(base)),
		SizeBytes:  size,
		Data:       data,
	})
	if err != nil {
		if doc == nil {
			// The document row never landed; clean up the orphan blob.
			if derr := blobs.Delete(ctx, blobKey); derr != nil {
				log.Warn("orphan blob cleanup failed", slog.String("key", blobKey), slog.Any("error", derr))
			}
		}
		return err
	}

	log.Info("document ingested",
		slog.String("file", name),
		slog.String("document_id", doc.ID.String()),
		slog.String("status", string(doc.Status)),
		slog.String("job_status", string(job.Status)),
	)
	fmt.Printf("%s  %s  (%s)\n", doc.ID, base, doc.Status)
	return nil
}
