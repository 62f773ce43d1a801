package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/ingest"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the vault and keep the index up to date",
		Long: `Index the vault, then watch it for changes and reindex notes as
they are created, edited, or deleted. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context())
		},
	}
}

func runWatch(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	indexer := a.newIndexer()
	stats, err := indexer.IndexVault(ctx, false)
	if err != nil {
		a.renderer.Error(err.Error())
		return err
	}
	a.renderer.IndexStats(stats)

	watcher, err := ingest.NewWatcher(indexer, ingest.DefaultDebounceWindow)
	if err != nil {
		return err
	}

	a.renderer.Success("watching " + a.cfg.Vault.Path + " (ctrl-c to stop)")
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
