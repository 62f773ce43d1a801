package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall/internal/embed"
	rerrors "github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/store"
)

type indexerFixture struct {
	root    string
	indexer *Indexer
	keyword store.KeywordIndex
	vectors store.VectorStore
	meta    store.MetadataStore
}

func newIndexerFixture(t *testing.T) *indexerFixture {
	t.Helper()

	embedder := embed.NewStaticEmbedder()

	keyword, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { keyword.Close() })

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	meta, err := store.NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	root := t.TempDir()
	state := t.TempDir()
	indexer := NewIndexer(IndexerConfig{
		VaultName:  "work",
		VaultRoot:  root,
		Keyword:    keyword,
		Vectors:    vectors,
		Meta:       meta,
		Embedder:   embedder,
		Excludes:   []string{".recall", "node_modules"},
		VectorPath: filepath.Join(state, "vectors.hnsw"),
		LockPath:   filepath.Join(state, "index.lock"),
	})

	return &indexerFixture{
		root:    root,
		indexer: indexer,
		keyword: keyword,
		vectors: vectors,
		meta:    meta,
	}
}

func (f *indexerFixture) write(t *testing.T, rel, content string) {
	writeVaultFile(t, f.root, rel, content)
}

const standupNote = `---
title: Weekly Standup
category: meeting
people: [priya]
date: 2026-03-14
---

# Decisions

We ship the billing migration on Friday.

# Risks

Priya flagged the payment retries.
`

func TestIndexer_IndexVault(t *testing.T) {
	// Given a vault with two notes
	f := newIndexerFixture(t)
	f.write(t, "standup.md", standupNote)
	f.write(t, "journal/2026-03-10.md", "Slept badly, skipped the gym.\n")

	// When indexing
	stats, err := f.indexer.IndexVault(context.Background(), false)

	// Then every store is populated
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 3, stats.Embedded)

	count, err := f.keyword.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
	assert.Equal(t, 3, f.vectors.Count())

	// And note metadata carries the front matter
	note, err := f.meta.GetNote(context.Background(), "standup.md")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "Weekly Standup", note.Title)
	assert.Equal(t, "meeting", note.Category)
	assert.Equal(t, []string{"priya"}, note.People)
	assert.Equal(t, 2, note.ChunkCount)

	// And chunks are retrievable by ID
	chunk, err := f.meta.GetChunk(context.Background(), store.ChunkID("standup.md", 0))
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, "Decisions", chunk.Heading)
	assert.Equal(t, "work", chunk.Vault)
}

func TestIndexer_UnchangedNotesAreSkipped(t *testing.T) {
	// Given an already indexed vault
	f := newIndexerFixture(t)
	f.write(t, "note.md", "# Note\n\ncontent\n")
	_, err := f.indexer.IndexVault(context.Background(), false)
	require.NoError(t, err)

	// When indexing again without changes
	stats, err := f.indexer.IndexVault(context.Background(), false)

	// Then the note is skipped
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Indexed)
	assert.Equal(t, 1, stats.Skipped)
}

func TestIndexer_ForceReindexesUnchangedNotes(t *testing.T) {
	f := newIndexerFixture(t)
	f.write(t, "note.md", "# Note\n\ncontent\n")
	_, err := f.indexer.IndexVault(context.Background(), false)
	require.NoError(t, err)

	// When forcing
	stats, err := f.indexer.IndexVault(context.Background(), true)

	// Then the note is reindexed without duplicating chunks
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	count, err := f.keyword.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestIndexer_ModifiedNoteReplacesChunks(t *testing.T) {
	// Given an indexed note with two sections
	f := newIndexerFixture(t)
	f.write(t, "note.md", "# One\n\nfirst\n\n# Two\n\nsecond\n")
	_, err := f.indexer.IndexVault(context.Background(), false)
	require.NoError(t, err)

	// When the note shrinks to one section
	f.write(t, "note.md", "# Only\n\njust this\n")
	stats, err := f.indexer.IndexVault(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)

	// Then no orphan chunks remain in any store
	count, err := f.keyword.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, 1, f.vectors.Count())

	chunks, err := f.meta.GetChunksByNote(context.Background(), "note.md")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Only", chunks[0].Heading)
}

func TestIndexer_RemovedNotesAreDeleted(t *testing.T) {
	// Given two indexed notes
	f := newIndexerFixture(t)
	f.write(t, "keep.md", "# Keep\n\nstays\n")
	f.write(t, "gone.md", "# Gone\n\nleaves\n")
	_, err := f.indexer.IndexVault(context.Background(), false)
	require.NoError(t, err)

	// When one disappears from disk
	require.NoError(t, os.Remove(filepath.Join(f.root, "gone.md")))
	stats, err := f.indexer.IndexVault(context.Background(), false)

	// Then it is removed from every store
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	note, err := f.meta.GetNote(context.Background(), "gone.md")
	require.NoError(t, err)
	assert.Nil(t, note)
	count, err := f.keyword.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, 1, f.vectors.Count())
}

func TestIndexer_RecordsRunState(t *testing.T) {
	// Given a completed index run
	f := newIndexerFixture(t)
	f.write(t, "note.md", "# Note\n\ncontent\n")
	_, err := f.indexer.IndexVault(context.Background(), false)
	require.NoError(t, err)

	// Then last-indexed and embedder state are recorded
	last, err := f.meta.GetState(context.Background(), store.StateKeyLastIndexed)
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, last)
	assert.NoError(t, err)

	model, err := f.meta.GetState(context.Background(), store.StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "static", model)
}

func TestIndexer_ConcurrentRunIsRejected(t *testing.T) {
	// Given another process holding the index lock
	f := newIndexerFixture(t)
	unlock, err := f.indexer.acquireLock()
	require.NoError(t, err)
	defer unlock()

	// When a second run starts
	_, err = f.indexer.IndexVault(context.Background(), false)

	// Then it fails fast with the lock error
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeIndexLocked, rerrors.GetCode(err))
}

func TestIndexer_IndexFileAndRemoveFile(t *testing.T) {
	// Given a vault with one note on disk
	f := newIndexerFixture(t)
	f.write(t, "work/standup.md", standupNote)

	// When indexing just that file
	require.NoError(t, f.indexer.IndexFile(context.Background(), "work/standup.md"))

	chunks, err := f.meta.GetChunksByNote(context.Background(), "work/standup.md")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	// When removing it
	require.NoError(t, f.indexer.RemoveFile(context.Background(), "work/standup.md"))

	// Then nothing remains
	chunks, err = f.meta.GetChunksByNote(context.Background(), "work/standup.md")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	count, err := f.keyword.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestIndexer_IndexFileMissingFromDisk(t *testing.T) {
	f := newIndexerFixture(t)

	err := f.indexer.IndexFile(context.Background(), "ghost.md")

	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeFileNotFound, rerrors.GetCode(err))
}

func TestIndexer_EmptyNoteKeepsMetadataOnly(t *testing.T) {
	// Given a note whose body is only front matter
	f := newIndexerFixture(t)
	f.write(t, "stub.md", "---\ntitle: Stub\n---\n")

	stats, err := f.indexer.IndexVault(context.Background(), false)

	// Then the note is recorded with zero chunks
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 0, stats.Chunks)
	note, err := f.meta.GetNote(context.Background(), "stub.md")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, 0, note.ChunkCount)
}

func TestIndexer_PersistsVectorIndex(t *testing.T) {
	f := newIndexerFixture(t)
	f.write(t, "note.md", "# Note\n\ncontent\n")

	_, err := f.indexer.IndexVault(context.Background(), false)
	require.NoError(t, err)

	_, err = os.Stat(f.indexer.cfg.VectorPath)
	assert.NoError(t, err)
}
