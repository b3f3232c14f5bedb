package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// NewChatCmd constructs the `docchat chat` command, an interactive REPL over
// the user's documents.
func NewChatCmd() *cobra.Command {
	var userID string
	var sessionID string
	var folderID string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat over your documents",
		Long: `Start an interactive chat session over your ingested documents.

Each question is answered with retrieval-augmented generation and the
conversation so far, so follow-up questions like "what about clause 4?"
resolve against earlier turns. History is persisted per session; running
the same session again continues where you left off.

Type 'exit' or press Ctrl-D to leave.

Examples:
  docchat chat --user alice
  docchat chat --user alice --session contracts --folder legal`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			deps, closeEngine, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer closeEngine()

			history, closeHistory := openHistory(log)
			defer closeHistory()

			cmd.Printf("docchat — chatting as %s (session %q). Type 'exit' to quit.\n", userID, sessionID)

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

			for {
				cmd.Print("> ")
				if !scanner.Scan() {
					cmd.Println()
					break
				}
				question := strings.TrimSpace(scanner.Text())
				if question == "" {
					continue
				}
				if question == "exit" || question == "quit" {
					break
				}

				var turns []rag.Turn
				if history != nil {
					msgs, hErr := history.Recent(ctx, userID, sessionID, 20)
					if hErr != nil {
						log.Warn("chat: history read failed", "error", hErr)
					} else {
						turns = store.Turns(msgs)
					}
				}

				res, qErr := deps.Engine.Query(ctx, userID, question, turns, folderID)
				if qErr != nil {
					cmd.PrintErrf("error: %v\n", qErr)
					continue
				}

				if history != nil {
					if err := history.Append(ctx, userID, sessionID, rag.RoleUser, question); err == nil {
						_ = history.Append(ctx, userID, sessionID, rag.RoleAssistant, res.Answer)
					}
				}

				cmd.Println(res.Answer)
				if showSources {
					printSources(cmd, res.RetrievedChunks)
				}
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("chat: reading input: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID whose documents to query (required)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "Chat session name")
	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "Restrict retrieval to one folder")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print retrieved source chunks after each answer")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
