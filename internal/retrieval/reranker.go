package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// judgmentPromptTemplate asks for a binary relevance verdict. The parser
// accepts a leading YES or NO; anything else scores neutral.
const judgmentPromptTemplate = `Query: %s

Document:
%s

Is this document relevant to the query? Answer YES or NO.`

// maxJudgmentDocChars bounds the document text sent per judgment call.
const maxJudgmentDocChars = 2000

// neutralRerankScore substitutes for failed or unparseable judgments.
const neutralRerankScore = 0.5

// Blend weights keyed on a candidate's pre-rerank rank. Top fused ranks
// trust retrieval; deep ranks trust the judge.
func blendWeights(preRerankRank int) (fusionWeight, rerankWeight float64) {
	switch {
	case preRerankRank <= 2:
		return 0.75, 0.25
	case preRerankRank <= 9:
		return 0.60, 0.40
	default:
		return 0.40, 0.60
	}
}

// Reranker judges the top fused candidates with a language model and blends
// each verdict with the fused score. Candidates beyond the budget keep their
// fused score and order, appended after the reranked prefix.
type Reranker struct {
	gen         TextGenerator
	loader      DocumentLoader
	model       string
	budget      int
	concurrency int
	timeout     time.Duration
}

// NewReranker creates a reranker using the given judge model.
func NewReranker(gen TextGenerator, loader DocumentLoader, model string, cfg Config) *Reranker {
	cfg = cfg.withDefaults()
	return &Reranker{
		gen:         gen,
		loader:      loader,
		model:       model,
		budget:      cfg.RerankBudget,
		concurrency: cfg.RerankConcurrency,
		timeout:     cfg.RerankTimeout,
	}
}

// Rerank judges the top-budget candidates concurrently and re-sorts them by
// blended score. Returns the reordered list and the number of judgment
// failures (each substituted with the neutral score, never an error).
//
// Candidates must arrive in fused order; blend weights key on that pre-rerank
// rank, not on the post-blend position.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []*RankedResult) ([]*RankedResult, int) {
	if len(candidates) == 0 || r.gen == nil {
		return candidates, 0
	}

	budget := r.budget
	if budget > len(candidates) {
		budget = len(candidates)
	}
	prefix := candidates[:budget]
	tail := candidates[budget:]

	// Fused scores are raw RRF magnitudes; scale against the top candidate
	// so the convex blend with [0,1] judgments is meaningful.
	maxFused := prefix[0].FusedScore

	var failures int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, r.concurrency)

	for i, candidate := range prefix {
		i, candidate := i, candidate

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				mu.Lock()
				failures++
				mu.Unlock()
				candidate.RerankScore = neutralRerankScore
				return nil
			}

			score, err := r.judge(gctx, query, candidate.DocRef)
			if err != nil {
				slog.Debug("rerank_judgment_failed",
					slog.String("doc_ref", candidate.DocRef),
					slog.Int("rank", i),
					slog.String("error", err.Error()))
				mu.Lock()
				failures++
				mu.Unlock()
				score = neutralRerankScore
			}
			candidate.RerankScore = score
			return nil
		})
	}
	// Judgment failures are absorbed per candidate; the group never errors.
	_ = g.Wait()

	for i, candidate := range prefix {
		normalizedFused := 0.0
		if maxFused > 0 {
			normalizedFused = candidate.FusedScore / maxFused
		}
		fw, rw := blendWeights(i)
		candidate.Reranked = true
		candidate.FinalScore = fw*normalizedFused + rw*candidate.RerankScore
	}

	// Stable sort keeps the original fused rank as the tie-break.
	sort.SliceStable(prefix, func(i, j int) bool {
		return prefix[i].FinalScore > prefix[j].FinalScore
	})

	return append(prefix, tail...), failures
}

// judge loads the document and asks for one binary relevance verdict.
func (r *Reranker) judge(ctx context.Context, query, docRef string) (float64, error) {
	judgeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	content, err := r.loader.Content(judgeCtx, docRef)
	if err != nil {
		return 0, fmt.Errorf("load document: %w", err)
	}
	content = truncateRunes(content, maxJudgmentDocChars)

	prompt := fmt.Sprintf(judgmentPromptTemplate, query, content)
	response, err := r.gen.Generate(judgeCtx, r.model, prompt)
	if err != nil {
		return 0, err
	}

	return parseJudgment(response), nil
}

// truncateRunes caps s at max runes so the cut never splits a multibyte
// character.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// parseJudgment maps a model verdict to a score: YES 1.0, NO 0.0, anything
// else the neutral midpoint.
func parseJudgment(response string) float64 {
	verdict := strings.ToUpper(strings.TrimSpace(response))
	switch {
	case strings.HasPrefix(verdict, "YES"):
		return 1.0
	case strings.HasPrefix(verdict, "NO"):
		return 0.0
	default:
		return neutralRerankScore
	}
}
