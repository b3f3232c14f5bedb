package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// NewAskCmd constructs the `docchat ask` command, which answers a single
// question over the user's documents and exits.
func NewAskCmd() *cobra.Command {
	var userID string
	var sessionID string
	var folderID string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question over your documents",
		Long: `Ask one question over your ingested documents and print the answer.

The question is answered with retrieval-augmented generation: relevant
chunks from your documents are retrieved and passed to the model as
context. Prior turns from the same session are replayed so follow-up
questions can reference earlier answers.

Examples:
  docchat ask --user alice "what does the contract say about termination?"
  docchat ask --user alice --folder work "summarise the Q3 report"
  docchat ask --user alice --sources "who is the landlord?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			deps, closeEngine, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeEngine()

			history, closeHistory := openHistory(log)
			defer closeHistory()

			question := strings.Join(args, " ")

			var turns []rag.Turn
			if history != nil {
				msgs, hErr := history.Recent(ctx, userID, sessionID, 20)
				if hErr != nil {
					log.Warn("ask: history read failed", "error", hErr)
				} else {
					turns = store.Turns(msgs)
				}
			}

			res, err := deps.Engine.Query(ctx, userID, question, turns, folderID)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if history != nil {
				if err := history.Append(ctx, userID, sessionID, rag.RoleUser, question); err == nil {
					_ = history.Append(ctx, userID, sessionID, rag.RoleAssistant, res.Answer)
				}
			}

			fmt.Println(res.Answer)
			if showSources {
				printSources(cmd, res.RetrievedChunks)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID whose documents to query (required)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "Chat session for history replay")
	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "Restrict retrieval to one folder")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the retrieved source chunks after the answer")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// printSources writes the retrieved chunks after an answer, most relevant
// first.
func printSources(cmd *cobra.Command, chunks []rag.ScoredChunk) {
	if len(chunks) == 0 {
		return
	}
	cmd.Println("\nSources:")
	for _, sc := range chunks {
		loc := fmt.Sprintf("%s#%d", sc.Chunk.SourceID, sc.Chunk.Ordinal)
		if sc.Chunk.FolderID != "" {
			loc = sc.Chunk.FolderID + "/" + loc
		}
		excerpt := sc.Chunk.Text
		if len(excerpt) > 120 {
			excerpt = excerpt[:120] + "..."
		}
		cmd.Printf("  [%.2f] %s: %s\n", sc.Score, loc, strings.ReplaceAll(excerpt, "\n", " "))
	}
}
