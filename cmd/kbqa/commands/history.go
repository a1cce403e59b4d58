package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/retrieval"
)

// NewHistoryCmd constructs the `kbqa history` command, which prints a
// user's past questions, most recent first.
func NewHistoryCmd() *cobra.Command {
	var userID string
	var limit int
	var full bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the questions a user has asked",
		Long: `Print a user's previous questions and answers, most recent first.

Examples:
  kbqa history
  kbqa history --user alice --limit 10
  kbqa history --full`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			b, err := openBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer b.Close()

			h := retrieval.NewHistory(b.store, retrieval.HistoryLimitFromEnv())
			if userID == "" {
				userID = defaultUser()
			}
			if limit <= 0 {
				limit = h.Limit()
			}
			records, err := h.GetN(ctx, userID, limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintf(out, "no questions recorded for %s\n", userID)
				return nil
			}
			if full {
				for _, r := range records {
					fmt.Fprintf(out, "[%s] %s\n%s\n\n", r.AskedAt.Local().Format(time.DateTime), r.Question, r.Answer)
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ASKED AT\tQUESTION")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\n", r.AskedAt.Local().Format(time.DateTime), r.Question)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (default: $KBQA_USER or the OS user name)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of records (default: KBQA_HISTORY_LIMIT)")
	cmd.Flags().BoolVar(&full, "full", false, "Print answers as well as questions")

	return cmd
}
