package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadataStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	s, err := NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteMetadataStore_SaveAndGetNote(t *testing.T) {
	// Given: a store and a note
	s := newTestMetadataStore(t)
	note := &Note{
		Path:        "notes/standup.md",
		Title:       "Standup",
		Vault:       "work",
		Category:    "meeting",
		People:      []string{"priya", "sam"},
		Date:        time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		ContentHash: "abc123",
		ModTime:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		IndexedAt:   time.Date(2026, 3, 14, 9, 1, 0, 0, time.UTC),
		ChunkCount:  2,
	}

	// When: saving and loading it
	require.NoError(t, s.SaveNote(context.Background(), note))
	got, err := s.GetNote(context.Background(), "notes/standup.md")
	require.NoError(t, err)

	// Then: all fields round-trip
	require.NotNil(t, got)
	assert.Equal(t, note.Title, got.Title)
	assert.Equal(t, note.People, got.People)
	assert.Equal(t, note.ContentHash, got.ContentHash)
	assert.True(t, note.Date.Equal(got.Date))
	assert.Equal(t, 2, got.ChunkCount)
}

func TestSQLiteMetadataStore_GetNote_Missing(t *testing.T) {
	// Given: an empty store
	s := newTestMetadataStore(t)

	// When: loading an unknown path
	got, err := s.GetNote(context.Background(), "nope.md")

	// Then: nil without error
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteMetadataStore_ChunkRoundTrip(t *testing.T) {
	// Given: saved chunks
	s := newTestMetadataStore(t)
	chunks := testChunks()
	require.NoError(t, s.SaveChunks(context.Background(), chunks))

	// When: loading one directly
	got, err := s.GetChunk(context.Background(), "notes/standup.md#1")
	require.NoError(t, err)

	// Then: it matches
	require.NotNil(t, got)
	assert.Equal(t, "Action items", got.Heading)
	assert.Equal(t, 1, got.Seq)

	// And: loading by note returns chunks ordered by sequence
	byNote, err := s.GetChunksByNote(context.Background(), "notes/standup.md")
	require.NoError(t, err)
	require.Len(t, byNote, 2)
	assert.Equal(t, 0, byNote[0].Seq)
	assert.Equal(t, 1, byNote[1].Seq)
}

func TestSQLiteMetadataStore_GetChunks_PreservesInputOrder(t *testing.T) {
	// Given: saved chunks
	s := newTestMetadataStore(t)
	require.NoError(t, s.SaveChunks(context.Background(), testChunks()))

	// When: requesting IDs out of storage order, with one unknown
	ids := []string{"journal/2026-03-10.md#0", "missing#0", "notes/standup.md#0"}
	got, err := s.GetChunks(context.Background(), ids)
	require.NoError(t, err)

	// Then: results follow input order and skip the unknown ID
	require.Len(t, got, 2)
	assert.Equal(t, "journal/2026-03-10.md#0", got[0].ID)
	assert.Equal(t, "notes/standup.md#0", got[1].ID)
}

func TestSQLiteMetadataStore_DeleteChunksByNote(t *testing.T) {
	// Given: chunks and embeddings for a note
	s := newTestMetadataStore(t)
	require.NoError(t, s.SaveChunks(context.Background(), testChunks()))
	require.NoError(t, s.SaveEmbeddings(context.Background(),
		[]string{"notes/standup.md#0", "notes/standup.md#1"},
		[][]float32{{1, 0}, {0, 1}}, "test-model"))

	// When: deleting the note's chunks
	require.NoError(t, s.DeleteChunksByNote(context.Background(), "notes/standup.md"))

	// Then: chunks and their embeddings are gone
	byNote, err := s.GetChunksByNote(context.Background(), "notes/standup.md")
	require.NoError(t, err)
	assert.Empty(t, byNote)

	embeddings, err := s.GetAllEmbeddings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestSQLiteMetadataStore_EmbeddingsRoundTrip(t *testing.T) {
	// Given: stored embeddings
	s := newTestMetadataStore(t)
	vectors := [][]float32{{0.1, -0.2, 0.3}, {1, 2, 3}}
	require.NoError(t, s.SaveEmbeddings(context.Background(),
		[]string{"a#0", "b#0"}, vectors, "nomic-embed-text"))

	// When: loading them all
	got, err := s.GetAllEmbeddings(context.Background())
	require.NoError(t, err)

	// Then: values round-trip exactly
	require.Len(t, got, 2)
	assert.Equal(t, vectors[0], got["a#0"])
	assert.Equal(t, vectors[1], got["b#0"])
}

func TestSQLiteMetadataStore_SaveEmbeddings_CountMismatch(t *testing.T) {
	// Given: a store
	s := newTestMetadataStore(t)

	// When: IDs and vectors disagree in length
	err := s.SaveEmbeddings(context.Background(), []string{"a#0"}, [][]float32{{1}, {2}}, "m")

	// Then: rejected
	assert.Error(t, err)
}

func TestSQLiteMetadataStore_State(t *testing.T) {
	// Given: a store
	s := newTestMetadataStore(t)

	// When: key is unset
	v, err := s.GetState(context.Background(), StateKeyIndexModel)
	require.NoError(t, err)
	assert.Empty(t, v)

	// When: setting and overwriting
	require.NoError(t, s.SetState(context.Background(), StateKeyIndexModel, "nomic-embed-text"))
	require.NoError(t, s.SetState(context.Background(), StateKeyIndexModel, "static"))

	// Then: last write wins
	v, err = s.GetState(context.Background(), StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "static", v)
}

func TestSQLiteMetadataStore_Stats(t *testing.T) {
	// Given: notes, chunks, embeddings, and a last-indexed timestamp
	s := newTestMetadataStore(t)
	require.NoError(t, s.SaveNote(context.Background(), &Note{Path: "a.md"}))
	require.NoError(t, s.SaveChunks(context.Background(), testChunks()))
	require.NoError(t, s.SaveEmbeddings(context.Background(), []string{"a#0"}, [][]float32{{1}}, "m"))

	last := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetState(context.Background(), StateKeyLastIndexed, last.Format(time.RFC3339)))

	// When: reading stats
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)

	// Then: counts and timestamp are reported
	assert.Equal(t, 1, stats.NoteCount)
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, 1, stats.EmbeddingCount)
	assert.True(t, last.Equal(stats.LastIndexed))
}

func TestSQLiteMetadataStore_PersistAndReopen(t *testing.T) {
	// Given: an on-disk store with a note
	path := filepath.Join(t.TempDir(), "recall.db")
	s, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveNote(context.Background(), &Note{Path: "a.md", Title: "A"}))
	require.NoError(t, s.Close())

	// When: reopening
	s2, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	// Then: data survives
	got, err := s2.GetNote(context.Background(), "a.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.Title)
}
