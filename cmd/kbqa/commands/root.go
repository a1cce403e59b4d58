// Package commands defines all Cobra CLI commands for the kbqa binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/audit"
	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/logging"
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "kbqa",
		Short: "kbqa answers questions from your own knowledge base",
		Long: `kbqa embeds a corpus of documents into a vector store and answers
natural language questions by retrieving the most similar passages.

The storage backend is selected with KBQA_STORE (postgres, sqlite, qdrant),
the embedding model with EMBEDDING_PROVIDER, and optional LLM synthesis with
SYNTH_PROVIDER. Settings may also come from a YAML config file
(~/.kbqa/config.yaml) or a .env file; environment variables always win.
See 'kbqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}

			// Rebuild the logger so LOG_LEVEL/LOG_FORMAT from the file apply.
			log := logging.NewWriter(cmd.ErrOrStderr(),
				config.String("LOG_LEVEL", "info"),
				config.String("LOG_FORMAT", "json"),
			)
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbqa/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewHistoryCmd(),
		NewIngestCmd(),
		NewMigrateCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
