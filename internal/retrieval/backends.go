package retrieval

import (
	"context"
	"fmt"

	"github.com/recallhq/recall/internal/embed"
	"github.com/recallhq/recall/internal/store"
)

// KeywordBackend adapts the Bleve keyword index to the pipeline's
// KeywordSearcher interface. The index composes filters itself; the adapter
// only translates hit shapes.
type KeywordBackend struct {
	index store.KeywordIndex
}

var _ KeywordSearcher = (*KeywordBackend)(nil)

// NewKeywordBackend wraps a keyword index.
func NewKeywordBackend(index store.KeywordIndex) *KeywordBackend {
	return &KeywordBackend{index: index}
}

// Search runs a full-text query and maps hits to retrieval hits.
func (b *KeywordBackend) Search(ctx context.Context, text string, filter store.SearchFilter, limit int) ([]*RetrievalHit, error) {
	results, err := b.index.Search(ctx, text, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]*RetrievalHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, &RetrievalHit{
			DocRef:  r.ChunkID,
			Score:   r.Score,
			Snippet: r.Fragment,
			Backend: BackendKeyword,
			Variant: text,
		})
	}
	return hits, nil
}

// VectorBackend adapts the embedder plus vector store to the pipeline's
// VectorSearcher interface. Query embedding happens here; the pipeline never
// touches vectors. The HNSW store has no filter support, so filtered queries
// over-fetch and post-filter against chunk metadata.
type VectorBackend struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	meta     store.MetadataStore
}

var _ VectorSearcher = (*VectorBackend)(nil)

// filterOverfetchFactor widens the ANN search when post-filtering will
// discard some neighbors.
const filterOverfetchFactor = 4

// NewVectorBackend wraps an embedder, vector store, and metadata store.
func NewVectorBackend(embedder embed.Embedder, vectors store.VectorStore, meta store.MetadataStore) *VectorBackend {
	return &VectorBackend{embedder: embedder, vectors: vectors, meta: meta}
}

// Search embeds the query, finds nearest neighbors, and applies the filter.
func (b *VectorBackend) Search(ctx context.Context, text string, filter store.SearchFilter, limit int) ([]*RetrievalHit, error) {
	vector, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	k := limit
	if !filter.IsZero() {
		k = limit * filterOverfetchFactor
	}

	neighbors, err := b.vectors.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]*RetrievalHit, 0, len(neighbors))
	for _, n := range neighbors {
		if !filter.IsZero() {
			ok, err := b.matchesFilter(ctx, n.ID, filter)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		hits = append(hits, &RetrievalHit{
			DocRef:  n.ID,
			Score:   float64(n.Score),
			Backend: BackendVector,
			Variant: text,
		})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// matchesFilter checks a neighbor's chunk metadata against the filter.
// Chunks missing from the metadata store (stale vector entries mid-reindex)
// are skipped rather than failing the search.
func (b *VectorBackend) matchesFilter(ctx context.Context, chunkID string, filter store.SearchFilter) (bool, error) {
	chunk, err := b.meta.GetChunk(ctx, chunkID)
	if err != nil {
		return false, fmt.Errorf("load chunk %s: %w", chunkID, err)
	}
	if chunk == nil {
		return false, nil
	}

	if filter.Vault != "" && chunk.Vault != filter.Vault {
		return false, nil
	}
	if filter.Category != "" && chunk.Category != filter.Category {
		return false, nil
	}
	if filter.Person != "" && !containsPerson(chunk.People, filter.Person) {
		return false, nil
	}
	if !filter.From.IsZero() && chunk.Date.Before(filter.From) {
		return false, nil
	}
	if !filter.To.IsZero() && chunk.Date.After(filter.To) {
		return false, nil
	}
	return true, nil
}

func containsPerson(people []string, person string) bool {
	for _, p := range people {
		if p == person {
			return true
		}
	}
	return false
}

// ChunkLoader adapts the metadata store to the reranker's DocumentLoader.
type ChunkLoader struct {
	meta store.MetadataStore
}

var _ DocumentLoader = (*ChunkLoader)(nil)

// NewChunkLoader wraps a metadata store.
func NewChunkLoader(meta store.MetadataStore) *ChunkLoader {
	return &ChunkLoader{meta: meta}
}

// Content returns a chunk's text for judgment.
func (l *ChunkLoader) Content(ctx context.Context, docRef string) (string, error) {
	chunk, err := l.meta.GetChunk(ctx, docRef)
	if err != nil {
		return "", err
	}
	if chunk == nil {
		return "", fmt.Errorf("chunk %s not found", docRef)
	}
	return chunk.Content, nil
}
