package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/logging"
)

// NewMigrateCmd constructs the `kbqa migrate` command, which bootstraps the
// store schema and exits. Serving and ingestion also bootstrap on startup;
// this command lets operators do it ahead of a rollout.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or verify the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			b, err := openBackend(ctx, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer b.Close()

			n, err := b.store.CountDocuments(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (backend: %s, dimensions: %d, documents: %d)\n",
				b.kind, b.emb.Dimensions(), n)
			return nil
		},
	}
}
