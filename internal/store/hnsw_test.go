package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVectorStore(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	// Given: three orthogonal-ish vectors
	s := newTestVectorStore(t, 3)
	ids := []string{"a#0", "b#0", "c#0"}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	require.NoError(t, s.Add(context.Background(), ids, vectors))

	// When: searching near the first vector
	results, err := s.Search(context.Background(), []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)

	// Then: the closest match comes first with the highest score
	require.NotEmpty(t, results)
	assert.Equal(t, "a#0", results[0].ID)
	if len(results) > 1 {
		assert.Greater(t, results[0].Score, results[1].Score)
	}
}

func TestHNSWStore_Add_DimensionMismatch(t *testing.T) {
	// Given: a 3-dimensional store
	s := newTestVectorStore(t, 3)

	// When: adding a 2-dimensional vector
	err := s.Add(context.Background(), []string{"a#0"}, [][]float32{{1, 0}})

	// Then: rejected with a dimension mismatch
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)
}

func TestHNSWStore_Search_EmptyGraph(t *testing.T) {
	// Given: an empty store
	s := newTestVectorStore(t, 3)

	// When: searching
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)

	// Then: no error, no results
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWStore_Delete_LazyRemoval(t *testing.T) {
	// Given: two stored vectors
	s := newTestVectorStore(t, 3)
	require.NoError(t, s.Add(context.Background(),
		[]string{"a#0", "b#0"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))

	// When: deleting one
	require.NoError(t, s.Delete(context.Background(), []string{"a#0"}))

	// Then: it's gone from lookups and search results
	assert.False(t, s.Contains("a#0"))
	assert.True(t, s.Contains("b#0"))
	assert.Equal(t, 1, s.Count())

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a#0", r.ID)
	}
}

func TestHNSWStore_Add_ReplacesExistingID(t *testing.T) {
	// Given: a stored vector
	s := newTestVectorStore(t, 3)
	require.NoError(t, s.Add(context.Background(), []string{"a#0"}, [][]float32{{1, 0, 0}}))

	// When: adding the same ID with a new vector
	require.NoError(t, s.Add(context.Background(), []string{"a#0"}, [][]float32{{0, 0, 1}}))

	// Then: the count stays at one and the new vector wins
	assert.Equal(t, 1, s.Count())
	results, err := s.Search(context.Background(), []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a#0", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)
}

func TestHNSWStore_SaveAndLoad(t *testing.T) {
	// Given: a persisted store
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	s := newTestVectorStore(t, 3)
	require.NoError(t, s.Add(context.Background(),
		[]string{"a#0", "b#0"}, [][]float32{{1, 0, 0}, {0, 1, 0}}))
	require.NoError(t, s.Save(path))

	// When: loading into a fresh store
	s2 := newTestVectorStore(t, 3)
	require.NoError(t, s2.Load(path))

	// Then: contents survive
	assert.Equal(t, 2, s2.Count())
	results, err := s2.Search(context.Background(), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a#0", results[0].ID)
}

func TestReadStoredDimensions(t *testing.T) {
	// Given: a persisted 5-dimensional index
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	s := newTestVectorStore(t, 5)
	require.NoError(t, s.Add(context.Background(), []string{"a#0"}, [][]float32{{1, 0, 0, 0, 0}}))
	require.NoError(t, s.Save(path))

	// When: reading stored dimensions
	dims, err := ReadStoredDimensions(path)
	require.NoError(t, err)

	// Then: the stored dimension is reported
	assert.Equal(t, 5, dims)

	// And: a missing index reports zero without error
	dims, err = ReadStoredDimensions(filepath.Join(dir, "nope.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

func TestHNSWStore_Closed(t *testing.T) {
	// Given: a closed store
	s, err := NewHNSWStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Then: all operations fail or report empty
	assert.Error(t, s.Add(context.Background(), []string{"a#0"}, [][]float32{{1, 0, 0}}))
	_, err = s.Search(context.Background(), []float32{1, 0, 0}, 1)
	assert.Error(t, err)
	assert.False(t, s.Contains("a#0"))
	assert.Equal(t, 0, s.Count())
}
