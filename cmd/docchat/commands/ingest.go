package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
)

// NewIngestCmd constructs the `docchat ingest` command, which loads documents
// into the user's vector index.
func NewIngestCmd() *cobra.Command {
	var userID string
	var folderID string

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest documents into your vector index",
		Long: `Load one or more documents, split them into overlapping chunks, embed
the chunks, and store them in your personal vector index.

Supported formats: .txt, .md, .pdf, .docx, .xlsx, .csv.

Ingestion is additive: re-ingesting a file appends its chunks alongside
the existing ones. Use 'docchat clear' to start over.

Examples:
  docchat ingest --user alice contract.pdf notes.md
  docchat ingest --user alice --folder work report.docx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			deps, closeEngine, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeEngine()

			total := 0
			for _, path := range args {
				summaries, err := deps.Engine.Ingest(ctx, userID, path, folderID)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				total += len(summaries)
				log.Info("document ingested",
					slog.String("path", path),
					slog.Int("chunks", len(summaries)),
				)
			}

			cmd.Printf("ingested %d file(s), %d chunk(s) for user %s\n", len(args), total, userID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID that owns the documents (required)")
	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "Folder tag applied to all ingested chunks")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
