// Package retrieval implements the hybrid retrieval and ranking pipeline:
// query expansion, parallel keyword and vector retrieval, reciprocal rank
// fusion, and LLM-assisted reranking. The package is stateless between calls
// and only reads the indexes it is given; backends, the generation model, and
// chunk content are consumed through narrow collaborator interfaces.
package retrieval

import (
	"context"
	"time"

	"github.com/recallhq/recall/internal/store"
)

// Mode selects the retrieval strategy for a request.
type Mode string

const (
	// ModeVector queries only the vector backend (fast path).
	ModeVector Mode = "vector"
	// ModeBM25 queries only the keyword backend (fast path).
	ModeBM25 Mode = "bm25"
	// ModeHybrid queries both backends in parallel and fuses the two lists.
	// No expansion, no reranking.
	ModeHybrid Mode = "hybrid"
	// ModeQuery runs the full pipeline: expansion, per-variant parallel
	// retrieval, fusion, and reranking.
	ModeQuery Mode = "query"
)

// Valid reports whether the mode is one of the supported strategies.
func (m Mode) Valid() bool {
	switch m {
	case ModeVector, ModeBM25, ModeHybrid, ModeQuery:
		return true
	}
	return false
}

// Backend identifies a retrieval source.
type Backend string

const (
	BackendKeyword Backend = "keyword"
	BackendVector  Backend = "vector"
)

// Query is the immutable per-request input.
type Query struct {
	Text   string
	Filter store.SearchFilter // Forwarded to backends unmodified
	Limit  int
	Mode   Mode
}

// VariantOrigin tags how a query variant was produced.
type VariantOrigin string

const (
	OriginOriginal VariantOrigin = "original"
	OriginExpanded VariantOrigin = "expanded"
)

// QueryVariant is one phrasing of a query. The original query is always the
// first variant with the highest weight; expanded variants carry weight < 1.
type QueryVariant struct {
	Text   string
	Weight float64
	Origin VariantOrigin
}

// RetrievalHit is one candidate returned by a single backend. Raw scores
// from different backends are not comparable; fusion operates on rank.
type RetrievalHit struct {
	DocRef  string // Stable chunk identifier: "<note path>#<seq>"
	Score   float64
	Snippet string
	Backend Backend
	Variant string // Variant text that produced this hit
}

// RankedResult is the fusion/rerank output unit. DocRef is the dedup key:
// the same reference from multiple backends or variants collapses into one
// result whose fused score sums per-appearance contributions.
type RankedResult struct {
	DocRef      string
	FusedScore  float64
	RerankScore float64
	Reranked    bool
	FinalScore  float64
	Snippet     string
	Backends    []Backend // Sorted set of contributing backends
}

// Diagnostics carries per-request timing and contribution metadata.
type Diagnostics struct {
	RequestID      string
	Mode           Mode
	VariantCount   int
	ExpandLatency  time.Duration
	SearchLatency  time.Duration
	FuseLatency    time.Duration
	RerankLatency  time.Duration
	TotalLatency   time.Duration
	BackendHits    map[Backend]int
	FailedBackends []Backend // Backends that errored or timed out
	ExpansionUsed  bool
	RerankFailures int
}

// Config tunes the pipeline. Zero values fall back to defaults.
type Config struct {
	// RRFConstant is the k smoothing parameter in 1/(k+rank+1).
	RRFConstant int

	// TopRankBonus adds small fixed bonuses for top-3 list positions.
	TopRankBonus bool

	// RerankBudget caps how many fused candidates are sent for judgment.
	RerankBudget int

	// RerankConcurrency bounds parallel judgment calls.
	RerankConcurrency int

	// ExpansionVariants is how many paraphrases to request.
	ExpansionVariants int

	// CandidateLimit is the per-backend fetch size before fusion. Small
	// caller limits still need enough candidates for fusion and reranking
	// to work with.
	CandidateLimit int

	BackendTimeout time.Duration
	ExpandTimeout  time.Duration
	RerankTimeout  time.Duration
}

// Default pipeline tuning.
const (
	DefaultRRFConstant       = 60
	DefaultRerankBudget      = 30
	DefaultRerankConcurrency = 5
	DefaultExpansionVariants = 2
	DefaultCandidateLimit    = 50
	DefaultBackendTimeout    = 5 * time.Second
	DefaultExpandTimeout     = 10 * time.Second
	DefaultRerankTimeout     = 10 * time.Second

	// ExpandedVariantWeight is the weight for LLM paraphrases. The original
	// variant's lists are double-counted in fusion, giving it effective
	// weight 1.0 against this.
	ExpandedVariantWeight = 0.5
)

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		RRFConstant:       DefaultRRFConstant,
		TopRankBonus:      true,
		RerankBudget:      DefaultRerankBudget,
		RerankConcurrency: DefaultRerankConcurrency,
		ExpansionVariants: DefaultExpansionVariants,
		CandidateLimit:    DefaultCandidateLimit,
		BackendTimeout:    DefaultBackendTimeout,
		ExpandTimeout:     DefaultExpandTimeout,
		RerankTimeout:     DefaultRerankTimeout,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.RRFConstant <= 0 {
		c.RRFConstant = DefaultRRFConstant
	}
	if c.RerankBudget <= 0 {
		c.RerankBudget = DefaultRerankBudget
	}
	if c.RerankConcurrency <= 0 {
		c.RerankConcurrency = DefaultRerankConcurrency
	}
	if c.ExpansionVariants <= 0 {
		c.ExpansionVariants = DefaultExpansionVariants
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = DefaultCandidateLimit
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = DefaultBackendTimeout
	}
	if c.ExpandTimeout <= 0 {
		c.ExpandTimeout = DefaultExpandTimeout
	}
	if c.RerankTimeout <= 0 {
		c.RerankTimeout = DefaultRerankTimeout
	}
	return c
}

// KeywordSearcher is the full-text backend collaborator.
type KeywordSearcher interface {
	Search(ctx context.Context, text string, filter store.SearchFilter, limit int) ([]*RetrievalHit, error)
}

// VectorSearcher is the semantic backend collaborator. The collaborator owns
// query embedding; the pipeline never embeds.
type VectorSearcher interface {
	Search(ctx context.Context, text string, filter store.SearchFilter, limit int) ([]*RetrievalHit, error)
}

// TextGenerator is the opaque language-model collaborator used for query
// expansion and rerank judgments.
type TextGenerator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// DocumentLoader fetches chunk content for rerank judgments.
type DocumentLoader interface {
	Content(ctx context.Context, docRef string) (string, error)
}
