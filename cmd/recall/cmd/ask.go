package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/answer"
	"github.com/recallhq/recall/internal/retrieval"
)

func newAskCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about your notes",
		Long: `Ask a question about your notes. The full retrieval pipeline
runs (query expansion, hybrid search, fusion, LLM reranking), then a
local model synthesizes an answer grounded in the retrieved chunks,
cited by source.

Examples:
  recall ask "when does the billing migration ship?"
  recall ask "what is priya worried about?" --person priya`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	addSearchFlags(cmd, &opts)
	return cmd
}

func runAsk(ctx context.Context, question string, opts searchOptions) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	filter, err := opts.filter()
	if err != nil {
		return err
	}
	limit := opts.limit
	if limit <= 0 {
		limit = a.cfg.Search.MaxResults
	}

	orch := a.newOrchestrator(true)
	results, diag, err := orch.Retrieve(ctx, retrieval.Query{
		Text:   question,
		Filter: filter,
		Limit:  limit,
		Mode:   retrieval.ModeQuery,
	})
	if err != nil {
		a.renderer.Error(err.Error())
		return err
	}

	synth := answer.NewSynthesizer(a.newLLMClient(), a.meta, a.cfg.LLM.Model, a.cfg.LLM.Timeout)
	ans, err := synth.Synthesize(ctx, question, results)
	if err != nil {
		// Retrieval succeeded; show the sources even when generation
		// is down.
		if ans != nil && len(ans.Sources) > 0 {
			a.renderer.Warning("answer generation failed, showing sources only")
			a.renderer.Answer(ans)
		}
		a.renderer.Error(err.Error())
		return err
	}

	a.renderer.Answer(ans)
	if diag != nil && len(diag.FailedBackends) > 0 {
		names := make([]string, len(diag.FailedBackends))
		for i, b := range diag.FailedBackends {
			names[i] = string(b)
		}
		a.renderer.Warning("answer based on partial results: " + strings.Join(names, ", ") + " backend unavailable")
	}
	return nil
}
