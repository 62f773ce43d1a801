package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall/internal/embed"
	"github.com/recallhq/recall/internal/store"
)

func backendTestChunks() []*store.Chunk {
	return []*store.Chunk{
		{
			ID:       "work/standup.md#0",
			NotePath: "work/standup.md",
			Seq:      0,
			Content:  "Discussed the billing database migration with the platform team.",
			Vault:    "work",
			Category: "meeting",
			People:   []string{"priya"},
			Date:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:       "personal/journal.md#0",
			NotePath: "personal/journal.md",
			Seq:      0,
			Content:  "Morning run, then sketched ideas for the billing rewrite.",
			Vault:    "personal",
			Category: "journal",
		},
	}
}

func TestKeywordBackend_Search_MapsHits(t *testing.T) {
	// Given: a keyword index with content
	idx, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	require.NoError(t, idx.Index(context.Background(), backendTestChunks()))

	b := NewKeywordBackend(idx)

	// When: searching through the adapter
	hits, err := b.Search(context.Background(), "billing", store.SearchFilter{}, 10)
	require.NoError(t, err)

	// Then: hits carry chunk IDs, scores, snippets, and the backend tag
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.NotEmpty(t, h.DocRef)
		assert.Greater(t, h.Score, 0.0)
		assert.NotEmpty(t, h.Snippet)
		assert.Equal(t, BackendKeyword, h.Backend)
		assert.Equal(t, "billing", h.Variant)
	}
}

func TestKeywordBackend_Search_ForwardsFilter(t *testing.T) {
	// Given: chunks across two vaults
	idx, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	require.NoError(t, idx.Index(context.Background(), backendTestChunks()))

	b := NewKeywordBackend(idx)

	// When: filtering by vault
	hits, err := b.Search(context.Background(), "billing", store.SearchFilter{Vault: "work"}, 10)
	require.NoError(t, err)

	// Then: only the work chunk matches
	require.Len(t, hits, 1)
	assert.Equal(t, "work/standup.md#0", hits[0].DocRef)
}

func newVectorBackendFixture(t *testing.T) *VectorBackend {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	chunks := backendTestChunks()
	require.NoError(t, meta.SaveChunks(context.Background(), chunks))

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Content
	}
	embeddings, err := embedder.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.NoError(t, vectors.Add(context.Background(), ids, embeddings))

	return NewVectorBackend(embedder, vectors, meta)
}

func TestVectorBackend_Search_ReturnsNeighbors(t *testing.T) {
	// Given: an indexed vector backend
	b := newVectorBackendFixture(t)

	// When: searching without a filter
	hits, err := b.Search(context.Background(), "billing database migration", store.SearchFilter{}, 10)
	require.NoError(t, err)

	// Then: both chunks come back, scored and tagged
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
		assert.Equal(t, BackendVector, h.Backend)
	}
}

func TestVectorBackend_Search_PostFilters(t *testing.T) {
	// Given: an indexed vector backend
	b := newVectorBackendFixture(t)

	// When: filtering by vault
	hits, err := b.Search(context.Background(), "billing", store.SearchFilter{Vault: "personal"}, 10)
	require.NoError(t, err)

	// Then: only the personal chunk survives the filter
	require.Len(t, hits, 1)
	assert.Equal(t, "personal/journal.md#0", hits[0].DocRef)

	// And: a person filter matches list membership
	hits, err = b.Search(context.Background(), "billing", store.SearchFilter{Person: "priya"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "work/standup.md#0", hits[0].DocRef)
}

func TestChunkLoader_Content(t *testing.T) {
	// Given: a metadata store with one chunk
	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	defer func() { _ = meta.Close() }()
	require.NoError(t, meta.SaveChunks(context.Background(), backendTestChunks()[:1]))

	loader := NewChunkLoader(meta)

	// When: loading stored and missing chunks
	content, err := loader.Content(context.Background(), "work/standup.md#0")
	require.NoError(t, err)
	assert.Contains(t, content, "billing database migration")

	_, err = loader.Content(context.Background(), "missing.md#0")
	assert.Error(t, err)
}
