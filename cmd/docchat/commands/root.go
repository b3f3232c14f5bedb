// Package commands defines all Cobra CLI commands for the docchat binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/audit"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfig holds the parsed YAML config after PersistentPreRunE.
// Non-nil after any command starts; empty when no config file was found.
var loadedConfig *config.Config

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docchat",
		Short: "docchat — chat with your documents, per user, powered by LLMs",
		Long: `docchat is a local-first RAG assistant for personal document collections.

It ingests text, Markdown, PDF, Word, and Excel documents into a per-user
vector index, then answers questions over them with history-aware retrieval
and grounded synthesis. Each user's documents and chat history are fully
isolated from every other user's.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.docchat/config.yaml).
See 'docchat --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfig = cfg
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docchat/config.yaml)")

	root.AddCommand(
		NewChatCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewClearCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
