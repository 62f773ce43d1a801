package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/internal/store"
)

// searchOptions holds the CLI flags shared by search and ask.
type searchOptions struct {
	limit    int
	mode     string
	format   string
	category string
	person   string
	from     string
	to       string
}

func (o searchOptions) filter() (store.SearchFilter, error) {
	var filter store.SearchFilter
	filter.Category = o.category
	filter.Person = strings.ToLower(o.person)

	var err error
	if filter.From, err = parseFilterDate(o.from); err != nil {
		return filter, fmt.Errorf("invalid --from date: %w", err)
	}
	if filter.To, err = parseFilterDate(o.to); err != nil {
		return filter, fmt.Errorf("invalid --to date: %w", err)
	}
	return filter, nil
}

func parseFilterDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed notes",
		Long: `Search the indexed notes.

Modes:
  hybrid  BM25 and semantic search fused with RRF (default)
  bm25    keyword search only
  vector  semantic search only
  query   full pipeline with LLM query expansion and reranking

Examples:
  recall search "billing migration"
  recall search "what did priya say about retries" --mode query
  recall search standup --person priya --from 2026-03-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	addSearchFlags(cmd, &opts)
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Retrieval mode: hybrid, bm25, vector, query")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text, json")
	return cmd
}

func addSearchFlags(cmd *cobra.Command, opts *searchOptions) {
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().StringVar(&opts.category, "category", "", "Filter by note category")
	cmd.Flags().StringVar(&opts.person, "person", "", "Filter by person mentioned in front matter")
	cmd.Flags().StringVar(&opts.from, "from", "", "Filter notes dated on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Filter notes dated on or before (YYYY-MM-DD)")
}

func runSearch(ctx context.Context, query string, opts searchOptions) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	filter, err := opts.filter()
	if err != nil {
		return err
	}

	mode := retrieval.Mode(strings.ToLower(opts.mode))
	if opts.mode == "" {
		mode = retrieval.Mode(a.cfg.Search.DefaultMode)
	}
	limit := opts.limit
	if limit <= 0 {
		limit = a.cfg.Search.MaxResults
	}

	orch := a.newOrchestrator(mode == retrieval.ModeQuery)
	results, diag, err := orch.Retrieve(ctx, retrieval.Query{
		Text:   query,
		Filter: filter,
		Limit:  limit,
		Mode:   mode,
	})
	if err != nil {
		a.renderer.Error(err.Error())
		return err
	}

	if strings.ToLower(opts.format) == "json" {
		return writeResultsJSON(results, diag)
	}
	a.renderer.Results(results, diag)
	return nil
}

// searchResultJSON is the stable machine-readable result shape.
type searchResultJSON struct {
	Rank       int      `json:"rank"`
	DocRef     string   `json:"doc_ref"`
	FinalScore float64  `json:"final_score"`
	FusedScore float64  `json:"fused_score,omitempty"`
	Reranked   bool     `json:"reranked,omitempty"`
	Snippet    string   `json:"snippet,omitempty"`
	Backends   []string `json:"backends,omitempty"`
}

func writeResultsJSON(results []*retrieval.RankedResult, diag *retrieval.Diagnostics) error {
	out := struct {
		Results        []searchResultJSON `json:"results"`
		Mode           string             `json:"mode"`
		FailedBackends []string           `json:"failed_backends,omitempty"`
	}{Results: make([]searchResultJSON, 0, len(results))}

	for i, res := range results {
		backends := make([]string, len(res.Backends))
		for j, b := range res.Backends {
			backends[j] = string(b)
		}
		out.Results = append(out.Results, searchResultJSON{
			Rank:       i + 1,
			DocRef:     res.DocRef,
			FinalScore: res.FinalScore,
			FusedScore: res.FusedScore,
			Reranked:   res.Reranked,
			Snippet:    res.Snippet,
			Backends:   backends,
		})
	}
	if diag != nil {
		out.Mode = string(diag.Mode)
		for _, b := range diag.FailedBackends {
			out.FailedBackends = append(out.FailedBackends, string(b))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
