package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
)

// NewClearCmd constructs the `docchat clear` command, which destroys a user's
// vector index and chat history.
func NewClearCmd() *cobra.Command {
	var userID string
	var keepHistory bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete your vector index and chat history",
		Long: `Delete all ingested documents from your vector index, and by default
your chat history with it. Other users' data is unaffected.

Clearing is idempotent: clearing an already-empty index succeeds.

Examples:
  docchat clear --user alice
  docchat clear --user alice --keep-history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			deps, closeEngine, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			defer closeEngine()

			if err := deps.Engine.ClearIndex(ctx, userID); err != nil {
				return fmt.Errorf("clear: %w", err)
			}

			if !keepHistory {
				history, closeHistory := openHistory(log)
				if history != nil {
					if err := history.Purge(ctx, userID); err != nil {
						log.Warn("clear: history purge failed", "error", err)
					}
				}
				closeHistory()
			}

			cmd.Printf("cleared index for user %s\n", userID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID whose index to clear (required)")
	cmd.Flags().BoolVar(&keepHistory, "keep-history", false, "Keep chat history, delete only the vector index")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
