package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index statistics for the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.meta.Stats(ctx)
	if err != nil {
		return err
	}

	// Missing state just means the vault was never indexed.
	model, _ := a.meta.GetState(ctx, store.StateKeyIndexModel)

	a.renderer.VaultStatus(filepath.Base(a.cfg.Vault.Path), stats, model)

	stored, err := store.ReadStoredDimensions(a.vectorPath())
	if err != nil {
		return err
	}
	if warn := dimensionMismatchWarning(stored, a.embedder.Dimensions()); warn != "" {
		a.renderer.Warning(warn)
	}
	return nil
}

// dimensionMismatchWarning reports a persisted vector index whose embedding
// dimension no longer matches what the active embedder produces. Queries
// against such an index fail, so the vault needs a rebuild. Empty when no
// index exists or the dimensions agree.
func dimensionMismatchWarning(stored, active int) string {
	if stored == 0 || active == 0 || stored == active {
		return ""
	}
	return fmt.Sprintf(
		"vector index was built with %d-dimension embeddings but the current model produces %d; run 'recall index --force' to rebuild",
		stored, active)
}
