package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the vault's markdown notes",
		Long: `Scan the vault and index every markdown note for keyword and
semantic search. Unchanged notes are skipped; pass --force to rebuild
everything.

Examples:
  recall index
  recall index --force
  recall --vault ~/notes index`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Reindex all notes, including unchanged ones")
	return cmd
}

func runIndex(ctx context.Context, force bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.newIndexer().IndexVault(ctx, force)
	if err != nil {
		a.renderer.Error(err.Error())
		return err
	}

	a.renderer.IndexStats(stats)
	return nil
}
