package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hitList(backend Backend, refs ...string) []*RetrievalHit {
	hits := make([]*RetrievalHit, len(refs))
	for i, ref := range refs {
		hits[i] = &RetrievalHit{
			DocRef:  ref,
			Score:   float64(len(refs) - i),
			Backend: backend,
		}
	}
	return hits
}

func TestFuser_Fuse_TwoListScenario(t *testing.T) {
	// Given: bm25 [A,B,C] and vector [B,D,A], k=60, no bonus
	f := NewFuser(60, false)
	bm25 := hitList(BackendKeyword, "A", "B", "C")
	vector := hitList(BackendVector, "B", "D", "A")

	// When: fusing
	fused := f.Fuse([][]*RetrievalHit{bm25, vector})

	// Then: consensus order B > A > D > C with exact RRF scores
	require.Len(t, fused, 4)
	assert.Equal(t, "B", fused[0].DocRef)
	assert.Equal(t, "A", fused[1].DocRef)
	assert.Equal(t, "D", fused[2].DocRef)
	assert.Equal(t, "C", fused[3].DocRef)

	// B: rank 1 in bm25 (1/62) + rank 0 in vector (1/61)
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].FusedScore, 1e-9) // 0.03252
	assert.InDelta(t, 1.0/61+1.0/63, fused[1].FusedScore, 1e-9) // 0.03229
	assert.InDelta(t, 1.0/62, fused[2].FusedScore, 1e-9)        // 0.01613
	assert.InDelta(t, 1.0/63, fused[3].FusedScore, 1e-9)        // 0.01587
}

func TestFuser_Fuse_RecordsContributingBackends(t *testing.T) {
	// Given: a doc in both lists and docs in one each
	f := NewFuser(60, false)
	fused := f.Fuse([][]*RetrievalHit{
		hitList(BackendKeyword, "A", "B"),
		hitList(BackendVector, "B", "C"),
	})

	// Then: backend sets reflect contribution
	byRef := map[string]*RankedResult{}
	for _, r := range fused {
		byRef[r.DocRef] = r
	}
	assert.Equal(t, []Backend{BackendKeyword, BackendVector}, byRef["B"].Backends)
	assert.Equal(t, []Backend{BackendKeyword}, byRef["A"].Backends)
	assert.Equal(t, []Backend{BackendVector}, byRef["C"].Backends)
}

func TestFuser_Fuse_TopRankBonus(t *testing.T) {
	// Given: one list, bonus enabled
	f := NewFuser(60, true)
	fused := f.Fuse([][]*RetrievalHit{hitList(BackendKeyword, "A", "B", "C", "D")})

	// Then: rank 0 gets +0.05, ranks 1-2 get +0.02, rank 3 gets nothing
	require.Len(t, fused, 4)
	assert.InDelta(t, 1.0/61+0.05, fused[0].FusedScore, 1e-9)
	assert.InDelta(t, 1.0/62+0.02, fused[1].FusedScore, 1e-9)
	assert.InDelta(t, 1.0/63+0.02, fused[2].FusedScore, 1e-9)
	assert.InDelta(t, 1.0/64, fused[3].FusedScore, 1e-9)
}

func TestFuser_Fuse_Monotonicity(t *testing.T) {
	// Given: X appears in two lists at rank 1, Y in one list at rank 1
	f := NewFuser(60, false)
	fused := f.Fuse([][]*RetrievalHit{
		hitList(BackendKeyword, "top1", "X"),
		hitList(BackendVector, "top2", "X"),
		hitList(BackendKeyword, "top3", "Y"),
	})

	// Then: X never ranks below Y
	posX, posY := -1, -1
	for i, r := range fused {
		switch r.DocRef {
		case "X":
			posX = i
		case "Y":
			posY = i
		}
	}
	require.NotEqual(t, -1, posX)
	require.NotEqual(t, -1, posY)
	assert.Less(t, posX, posY)
}

func TestFuser_Fuse_EmptyAndSingleList(t *testing.T) {
	f := NewFuser(60, false)

	// Given: no lists
	assert.Empty(t, f.Fuse(nil))
	assert.Empty(t, f.Fuse([][]*RetrievalHit{}))

	// Given: one list (plus an empty one from a failed backend)
	single := hitList(BackendKeyword, "A", "B", "C")
	fused := f.Fuse([][]*RetrievalHit{single, nil})

	// Then: relative order is preserved under the RRF transform
	require.Len(t, fused, 3)
	assert.Equal(t, "A", fused[0].DocRef)
	assert.Equal(t, "B", fused[1].DocRef)
	assert.Equal(t, "C", fused[2].DocRef)
	assert.Greater(t, fused[0].FusedScore, fused[1].FusedScore)
}

func TestFuser_Fuse_TieBreakIsLexical(t *testing.T) {
	// Given: two docs with identical contributions, inserted in both orders
	f := NewFuser(60, false)

	fusedA := f.Fuse([][]*RetrievalHit{
		hitList(BackendKeyword, "zebra"),
		hitList(BackendVector, "apple"),
	})
	fusedB := f.Fuse([][]*RetrievalHit{
		hitList(BackendVector, "apple"),
		hitList(BackendKeyword, "zebra"),
	})

	// Then: lexical order wins regardless of list order
	require.Len(t, fusedA, 2)
	assert.Equal(t, "apple", fusedA[0].DocRef)
	assert.Equal(t, "zebra", fusedA[1].DocRef)
	require.Len(t, fusedB, 2)
	assert.Equal(t, "apple", fusedB[0].DocRef)
	assert.Equal(t, "zebra", fusedB[1].DocRef)
}

func TestFuser_Fuse_Deterministic(t *testing.T) {
	// Given: a moderately tangled input
	f := NewFuser(60, true)
	lists := [][]*RetrievalHit{
		hitList(BackendKeyword, "a", "b", "c", "d", "e"),
		hitList(BackendVector, "c", "a", "f", "b"),
		hitList(BackendKeyword, "f", "e", "a"),
	}

	// When: fusing repeatedly
	first := f.Fuse(lists)

	// Then: order and scores are identical every time
	for i := 0; i < 50; i++ {
		again := f.Fuse(lists)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].DocRef, again[j].DocRef)
			assert.Equal(t, first[j].FusedScore, again[j].FusedScore)
		}
	}
}

func TestFuser_Fuse_DuplicateListDoubleCounts(t *testing.T) {
	// Given: the same list passed twice (the original-variant mechanism)
	f := NewFuser(60, false)
	list := hitList(BackendKeyword, "A")
	other := hitList(BackendVector, "B")

	fused := f.Fuse([][]*RetrievalHit{list, list, other})

	// Then: A's score doubles and outranks B
	require.Len(t, fused, 2)
	assert.Equal(t, "A", fused[0].DocRef)
	assert.InDelta(t, 2.0/61, fused[0].FusedScore, 1e-9)
	assert.InDelta(t, 1.0/61, fused[1].FusedScore, 1e-9)
}
