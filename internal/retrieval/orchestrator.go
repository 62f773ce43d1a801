package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/store"
)

// maxParallelSearches bounds concurrent backend calls per request.
const maxParallelSearches = 4

// QueryExpander produces query variants. Implementations fail soft.
type QueryExpander interface {
	Expand(ctx context.Context, query string, variantCount int) []QueryVariant
}

// CandidateReranker reorders fused candidates by blended score and reports
// how many judgment calls failed.
type CandidateReranker interface {
	Rerank(ctx context.Context, query string, candidates []*RankedResult) ([]*RankedResult, int)
}

// Orchestrator composes expansion, parallel retrieval, fusion, and reranking
// into one synchronous retrieve call. It holds no per-request state; every
// request's working set is private to that call.
type Orchestrator struct {
	keyword  KeywordSearcher
	vector   VectorSearcher
	expander QueryExpander
	reranker CandidateReranker
	fuser    *Fuser
	cfg      Config
}

// NewOrchestrator wires the pipeline. expander and reranker may be nil, in
// which case query mode degrades to hybrid-with-original-only semantics.
func NewOrchestrator(keyword KeywordSearcher, vector VectorSearcher, expander QueryExpander, reranker CandidateReranker, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		keyword:  keyword,
		vector:   vector,
		expander: expander,
		reranker: reranker,
		fuser:    NewFuser(cfg.RRFConstant, cfg.TopRankBonus),
		cfg:      cfg,
	}
}

// Retrieve runs the requested mode and returns the final ranked list plus
// per-stage diagnostics. Zero results is a successful empty answer; the only
// fatal retrieval condition is every backend failing.
func (o *Orchestrator) Retrieve(ctx context.Context, q Query) ([]*RankedResult, *Diagnostics, error) {
	start := time.Now()
	diag := &Diagnostics{
		RequestID:   uuid.NewString(),
		Mode:        q.Mode,
		BackendHits: make(map[Backend]int),
	}

	if err := validateQuery(q); err != nil {
		return nil, diag, err
	}

	var (
		results []*RankedResult
		err     error
	)
	switch q.Mode {
	case ModeBM25:
		results, err = o.singleBackend(ctx, q, BackendKeyword, diag)
	case ModeVector:
		results, err = o.singleBackend(ctx, q, BackendVector, diag)
	case ModeHybrid:
		results, err = o.hybrid(ctx, q, diag)
	case ModeQuery:
		results, err = o.fullPipeline(ctx, q, diag)
	}
	if err != nil {
		diag.TotalLatency = time.Since(start)
		return nil, diag, err
	}

	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	diag.TotalLatency = time.Since(start)

	slog.Debug("retrieve_complete",
		slog.String("request_id", diag.RequestID),
		slog.String("mode", string(q.Mode)),
		slog.Int("results", len(results)),
		slog.Int("variants", diag.VariantCount),
		slog.Duration("duration", diag.TotalLatency))

	return results, diag, nil
}

// validateQuery rejects malformed queries before any backend call.
func validateQuery(q Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.InvalidQuery("query text is empty")
	}
	if q.Limit <= 0 {
		return errors.InvalidQuery(fmt.Sprintf("result limit must be positive, got %d", q.Limit))
	}
	if !q.Mode.Valid() {
		return errors.New(errors.ErrCodeUnsupportedMode,
			fmt.Sprintf("unsupported mode %q (want vector, bm25, hybrid, or query)", q.Mode), nil)
	}
	return nil
}

// singleBackend is the fast path: one backend, its own rank order, no fusion
// or reranking. The backend's raw score is surfaced as the final score.
func (o *Orchestrator) singleBackend(ctx context.Context, q Query, backend Backend, diag *Diagnostics) ([]*RankedResult, error) {
	searchStart := time.Now()
	hits, err := o.searchBackend(ctx, backend, q.Text, q.Filter, o.fetchLimit(q))
	diag.SearchLatency = time.Since(searchStart)
	if err != nil {
		diag.FailedBackends = append(diag.FailedBackends, backend)
		return nil, errors.AllBackendsFailed(err)
	}
	diag.BackendHits[backend] = len(hits)

	results := make([]*RankedResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, &RankedResult{
			DocRef:     hit.DocRef,
			FinalScore: hit.Score,
			Snippet:    hit.Snippet,
			Backends:   []Backend{backend},
		})
	}
	return results, nil
}

// hybrid queries both backends in parallel for the original query and fuses
// the two lists. No expansion, no reranking.
func (o *Orchestrator) hybrid(ctx context.Context, q Query, diag *Diagnostics) ([]*RankedResult, error) {
	calls := []searchCall{
		{backend: BackendKeyword, text: q.Text},
		{backend: BackendVector, text: q.Text},
	}

	searchStart := time.Now()
	lists, errs := o.fanOut(ctx, calls, q.Filter, o.fetchLimit(q))
	diag.SearchLatency = time.Since(searchStart)

	if err := o.recordOutcomes(calls, lists, errs, diag); err != nil {
		return nil, err
	}

	fuseStart := time.Now()
	fused := o.fuser.Fuse(lists)
	diag.FuseLatency = time.Since(fuseStart)

	return fused, nil
}

// fullPipeline is query mode: expansion, per-variant parallel retrieval,
// fusion with the original variant double-counted, then reranking.
func (o *Orchestrator) fullPipeline(ctx context.Context, q Query, diag *Diagnostics) ([]*RankedResult, error) {
	variants := []QueryVariant{{Text: q.Text, Weight: 1.0, Origin: OriginOriginal}}
	if o.expander != nil {
		expandStart := time.Now()
		variants = o.expander.Expand(ctx, q.Text, o.cfg.ExpansionVariants)
		diag.ExpandLatency = time.Since(expandStart)
	}
	diag.VariantCount = len(variants)
	diag.ExpansionUsed = len(variants) > 1

	calls := make([]searchCall, 0, len(variants)*2)
	for _, v := range variants {
		calls = append(calls,
			searchCall{backend: BackendKeyword, text: v.Text, origin: v.Origin},
			searchCall{backend: BackendVector, text: v.Text, origin: v.Origin},
		)
	}

	searchStart := time.Now()
	lists, errs := o.fanOut(ctx, calls, q.Filter, o.fetchLimit(q))
	diag.SearchLatency = time.Since(searchStart)

	if err := o.recordOutcomes(calls, lists, errs, diag); err != nil {
		return nil, err
	}

	// The original variant's lists are counted twice, biasing fusion toward
	// literal recall over paraphrase consensus.
	fuseInput := make([][]*RetrievalHit, 0, len(lists)+2)
	for i, list := range lists {
		fuseInput = append(fuseInput, list)
		if calls[i].origin == OriginOriginal {
			fuseInput = append(fuseInput, list)
		}
	}

	fuseStart := time.Now()
	fused := o.fuser.Fuse(fuseInput)
	diag.FuseLatency = time.Since(fuseStart)

	if o.reranker != nil && len(fused) > 0 {
		rerankStart := time.Now()
		var failures int
		fused, failures = o.reranker.Rerank(ctx, q.Text, fused)
		diag.RerankLatency = time.Since(rerankStart)
		diag.RerankFailures = failures
	}

	return fused, nil
}

// searchCall is one backend invocation in a fan-out stage.
type searchCall struct {
	backend Backend
	text    string
	origin  VariantOrigin
}

// fanOut issues the calls in parallel, bounded by a semaphore, and joins on
// value-or-absent: each slot holds either a rank-normalized hit list or an
// error, and no individual failure cancels its siblings. Output slots map
// 1:1 to input calls, so arrival order never influences fusion.
func (o *Orchestrator) fanOut(ctx context.Context, calls []searchCall, filter store.SearchFilter, limit int) ([][]*RetrievalHit, []error) {
	lists := make([][]*RetrievalHit, len(calls))
	errs := make([]error, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxParallelSearches)

	for i, call := range calls {
		i, call := i, call

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				errs[i] = gctx.Err()
				return nil
			}

			hits, err := o.searchBackend(gctx, call.backend, call.text, filter, limit)
			if err != nil {
				errs[i] = err
				return nil
			}
			lists[i] = hits
			return nil
		})
	}
	// Individual failures are absorbed into errs; the group never errors.
	_ = g.Wait()

	return lists, errs
}

// searchBackend runs one backend call under its own timeout and normalizes
// the hit list to a deterministic rank order.
func (o *Orchestrator) searchBackend(ctx context.Context, backend Backend, text string, filter store.SearchFilter, limit int) ([]*RetrievalHit, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.BackendTimeout)
	defer cancel()

	var (
		hits []*RetrievalHit
		err  error
	)
	switch backend {
	case BackendKeyword:
		hits, err = o.keyword.Search(callCtx, text, filter, limit)
	case BackendVector:
		hits, err = o.vector.Search(callCtx, text, filter, limit)
	}
	if err != nil {
		return nil, errors.BackendUnavailable(string(backend), err)
	}

	normalizeHitOrder(hits)
	return hits, nil
}

// recordOutcomes folds per-call results into diagnostics and enforces the
// one fatal condition: every backend call failing. A partial failure only
// removes that backend's contribution.
func (o *Orchestrator) recordOutcomes(calls []searchCall, lists [][]*RetrievalHit, errs []error, diag *Diagnostics) error {
	failed := make(map[Backend]bool)
	var firstErr error
	allFailed := true

	for i := range calls {
		if errs[i] != nil {
			failed[calls[i].backend] = true
			if firstErr == nil {
				firstErr = errs[i]
			}
			slog.Debug("backend_call_failed",
				slog.String("backend", string(calls[i].backend)),
				slog.String("error", errs[i].Error()))
			continue
		}
		allFailed = false
		diag.BackendHits[calls[i].backend] += len(lists[i])
	}

	for backend := range failed {
		diag.FailedBackends = append(diag.FailedBackends, backend)
	}
	sort.Slice(diag.FailedBackends, func(i, j int) bool {
		return diag.FailedBackends[i] < diag.FailedBackends[j]
	})

	if allFailed {
		return errors.AllBackendsFailed(firstErr)
	}
	return nil
}

// fetchLimit is the per-backend candidate count: small caller limits still
// fetch enough for fusion and reranking to work with.
func (o *Orchestrator) fetchLimit(q Query) int {
	if q.Limit > o.cfg.CandidateLimit {
		return q.Limit
	}
	return o.cfg.CandidateLimit
}

// normalizeHitOrder sorts a backend list by its own score descending, ties
// broken by document reference, yielding a 0-indexed contiguous rank order
// that is stable across runs.
func normalizeHitOrder(hits []*RetrievalHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocRef < hits[j].DocRef
	})
}
