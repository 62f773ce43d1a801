package retrieval

import "sort"

// Top-rank bonuses sharpen separation between a strong #1 hit and a hit that
// only ranked well because few lists returned it. Applied per list-appearance.
const (
	bonusRankZero   = 0.05
	bonusRankOneTwo = 0.02
)

// Fuser merges any number of ranked candidate lists into one ranked list
// using Reciprocal Rank Fusion: each appearance at 0-based rank r in a list
// contributes 1/(k+r+1) to that document's fused score. Rank-based fusion
// sidesteps score-scale normalization entirely; BM25 magnitudes and cosine
// similarities never meet.
type Fuser struct {
	K            int
	TopRankBonus bool
}

// NewFuser creates a fuser. k <= 0 falls back to the default constant.
func NewFuser(k int, topRankBonus bool) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fuser{K: k, TopRankBonus: topRankBonus}
}

// Fuse merges the lists. Empty input lists are valid and contribute nothing;
// fusing zero lists yields an empty result. Tied fused scores break by
// document reference lexical order, never insertion order, so output is
// reproducible regardless of how lists were collected.
func (f *Fuser) Fuse(lists [][]*RetrievalHit) []*RankedResult {
	merged := make(map[string]*RankedResult)

	for _, list := range lists {
		for rank, hit := range list {
			r, ok := merged[hit.DocRef]
			if !ok {
				r = &RankedResult{DocRef: hit.DocRef}
				merged[hit.DocRef] = r
			}

			r.FusedScore += 1.0 / float64(f.K+rank+1)
			if f.TopRankBonus {
				switch {
				case rank == 0:
					r.FusedScore += bonusRankZero
				case rank <= 2:
					r.FusedScore += bonusRankOneTwo
				}
			}

			if r.Snippet == "" {
				r.Snippet = hit.Snippet
			}
			r.Backends = addBackend(r.Backends, hit.Backend)
		}
	}

	results := make([]*RankedResult, 0, len(merged))
	for _, r := range merged {
		r.FinalScore = r.FusedScore
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].DocRef < results[j].DocRef
	})

	return results
}

// addBackend inserts a backend into a small sorted set.
func addBackend(set []Backend, b Backend) []Backend {
	for _, existing := range set {
		if existing == b {
			return set
		}
	}
	set = append(set, b)
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}
