package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/logging"
)

// NewAskCmd constructs the `kbqa ask` command, which answers a single
// question against the configured store and records it in the user's history.
func NewAskCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the knowledge base a question",
		Long: `Answer a natural language question from the knowledge base.

The question is embedded, the closest documents are retrieved, and the answer
is printed to stdout. The exchange is recorded under --user (default: $KBQA_USER
or the OS user name) and shows up in 'kbqa history'.

Examples:
  kbqa ask "what is gradient descent?"
  kbqa ask --user alice "how do transformers use attention?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			b, err := openBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer b.Close()

			eng, flush, err := newEngine(ctx, b, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer flush()

			if userID == "" {
				userID = defaultUser()
			}
			answer, err := eng.AskQuestion(ctx, strings.Join(args, " "), userID)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id to record the question under")

	return cmd
}
