// Package cmd provides the CLI commands for recall.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/logging"
	"github.com/recallhq/recall/pkg/version"
)

var (
	flagVault string
	flagDebug bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the recall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Local-first search and Q&A over your markdown notes",
		Long: `Recall indexes a vault of markdown notes and answers questions
about them. Search combines BM25 keyword matching and semantic
embeddings with reciprocal rank fusion; the 'ask' command adds query
expansion, LLM reranking, and answer synthesis via a local Ollama.

Everything stays on your machine.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}

	cmd.SetVersionTemplate("recall version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagVault, "vault", "", "Vault directory (default: current directory)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newIndexCmd(),
		newSearchCmd(),
		newAskCmd(),
		newPersonCmd(),
		newActionsCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)

	return cmd
}

// Execute runs the root command with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}

// setupLogging sends logs to the rotating log file, keeping stdout clean
// for command output. Logging failures never block the command.
func setupLogging() {
	cfg := logging.DefaultConfig()
	if flagDebug {
		cfg = logging.DebugConfig()
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		logging.Discard()
		return
	}
	loggingCleanup = cleanup
}

// vaultDir resolves the vault directory from the flag or the working
// directory.
func vaultDir() string {
	if flagVault != "" {
		return flagVault
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
