package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/recallhq/recall/internal/embed"
	rerrors "github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/store"
)

// IndexStats summarizes one indexing run.
type IndexStats struct {
	Scanned  int
	Indexed  int
	Skipped  int
	Removed  int
	Chunks   int
	Embedded int
	Duration time.Duration
}

// IndexerConfig wires the indexer's collaborators.
type IndexerConfig struct {
	VaultName  string
	VaultRoot  string
	Keyword    store.KeywordIndex
	Vectors    store.VectorStore
	Meta       store.MetadataStore
	Embedder   embed.Embedder
	Excludes   []string
	VectorPath string // Where the vector index is persisted after a run
	LockPath   string // File lock guarding concurrent index runs
}

// Indexer coordinates the keyword, vector, and metadata stores for a vault.
// Notes whose content hash is unchanged are skipped unless forced; notes
// removed from disk are removed from every store.
type Indexer struct {
	cfg     IndexerConfig
	scanner *Scanner
	chunker *Chunker
}

func NewIndexer(cfg IndexerConfig) *Indexer {
	return &Indexer{
		cfg:     cfg,
		scanner: NewScanner(cfg.Excludes),
		chunker: NewChunker(),
	}
}

// IndexVault scans the vault and brings all stores up to date. Embedding
// failures degrade to keyword-only indexing for the affected notes instead
// of failing the run.
func (ix *Indexer) IndexVault(ctx context.Context, force bool) (*IndexStats, error) {
	start := time.Now()

	unlock, err := ix.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	files, err := ix.scanner.Scan(ctx, ix.cfg.VaultRoot)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeIndexFailed, "vault scan failed", err)
	}

	existing, err := ix.cfg.Meta.ListNotes(ctx)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeIndexFailed, "listing indexed notes failed", err)
	}
	stale := make(map[string]*store.Note, len(existing))
	for _, note := range existing {
		stale[note.Path] = note
	}

	stats := &IndexStats{Scanned: len(files)}
	for _, file := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		prev := stale[file.Path]
		delete(stale, file.Path)

		content, err := os.ReadFile(file.AbsPath)
		if err != nil {
			slog.Warn("note_read_failed",
				slog.String("path", file.Path),
				slog.String("error", err.Error()))
			continue
		}

		hash := contentHash(content)
		if !force && prev != nil && prev.ContentHash == hash {
			stats.Skipped++
			continue
		}

		chunks, embedded, err := ix.indexNote(ctx, file, content, hash)
		if err != nil {
			slog.Warn("note_index_failed",
				slog.String("path", file.Path),
				slog.String("error", err.Error()))
			continue
		}
		stats.Indexed++
		stats.Chunks += chunks
		stats.Embedded += embedded
	}

	for path := range stale {
		if err := ix.removeNote(ctx, path); err != nil {
			slog.Warn("note_remove_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		stats.Removed++
	}

	if err := ix.persistState(ctx); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	slog.Info("index_complete",
		slog.String("vault", ix.cfg.VaultName),
		slog.Int("scanned", stats.Scanned),
		slog.Int("indexed", stats.Indexed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("removed", stats.Removed),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// IndexFile reindexes a single note by vault-relative path. Used by the
// watcher; no lock is taken, the caller serializes.
func (ix *Indexer) IndexFile(ctx context.Context, relPath string) error {
	abs := filepath.Join(ix.cfg.VaultRoot, filepath.FromSlash(relPath))
	content, err := os.ReadFile(abs)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeFileNotFound, fmt.Sprintf("reading %s", relPath), err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeFileNotFound, fmt.Sprintf("stat %s", relPath), err)
	}

	file := NoteFile{
		Path:    filepath.ToSlash(relPath),
		AbsPath: abs,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	_, _, err = ix.indexNote(ctx, file, content, contentHash(content))
	return err
}

// RemoveFile removes a note from every store by vault-relative path.
func (ix *Indexer) RemoveFile(ctx context.Context, relPath string) error {
	return ix.removeNote(ctx, filepath.ToSlash(relPath))
}

// SaveVectors persists the vector index to its configured path. Single-file
// updates record the note's content hash durably, so the vector index must
// reach disk too or a restart would skip the note by hash while its vectors
// are missing.
func (ix *Indexer) SaveVectors() error {
	if ix.cfg.VectorPath == "" {
		return nil
	}
	return ix.cfg.Vectors.Save(ix.cfg.VectorPath)
}

// indexNote replaces a note's chunks across all stores. Returns the chunk
// count and how many chunks got embeddings.
func (ix *Indexer) indexNote(ctx context.Context, file NoteFile, content []byte, hash string) (int, int, error) {
	meta, body := ParseNote(file.Path, content)
	pieces := ix.chunker.Chunk(body)

	chunks := make([]*store.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &store.Chunk{
			ID:       store.ChunkID(file.Path, i),
			NotePath: file.Path,
			Seq:      i,
			Heading:  piece.Heading,
			Content:  piece.Content,
			Vault:    ix.cfg.VaultName,
			Category: meta.Category,
			People:   meta.People,
			Date:     meta.Date,
		})
	}

	// Old chunks go first so a note shrinking from 5 chunks to 3 leaves
	// no orphans behind.
	if err := ix.deleteNoteChunks(ctx, file.Path); err != nil {
		return 0, 0, err
	}

	if len(chunks) == 0 {
		return 0, 0, ix.cfg.Meta.SaveNote(ctx, ix.noteRecord(file, meta, hash, 0))
	}

	if err := ix.cfg.Keyword.Index(ctx, chunks); err != nil {
		return 0, 0, rerrors.New(rerrors.ErrCodeIndexFailed, fmt.Sprintf("keyword indexing %s", file.Path), err)
	}
	if err := ix.cfg.Meta.SaveChunks(ctx, chunks); err != nil {
		return 0, 0, rerrors.New(rerrors.ErrCodeIndexFailed, fmt.Sprintf("saving chunks for %s", file.Path), err)
	}

	embedded, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		slog.Warn("embedding_degraded",
			slog.String("path", file.Path),
			slog.String("error", err.Error()))
	}

	if err := ix.cfg.Meta.SaveNote(ctx, ix.noteRecord(file, meta, hash, len(chunks))); err != nil {
		return 0, 0, rerrors.New(rerrors.ErrCodeIndexFailed, fmt.Sprintf("saving note %s", file.Path), err)
	}
	return len(chunks), embedded, nil
}

func (ix *Indexer) noteRecord(file NoteFile, meta NoteMeta, hash string, chunkCount int) *store.Note {
	return &store.Note{
		Path:        file.Path,
		Title:       meta.Title,
		Vault:       ix.cfg.VaultName,
		Category:    meta.Category,
		People:      meta.People,
		Date:        meta.Date,
		ContentHash: hash,
		ModTime:     file.ModTime,
		IndexedAt:   time.Now().UTC(),
		ChunkCount:  chunkCount,
	}
}

func (ix *Indexer) embedChunks(ctx context.Context, chunks []*store.Chunk) (int, error) {
	if ix.cfg.Embedder == nil {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
		ids[i] = chunk.ID
	}

	vectors, err := ix.cfg.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if err := ix.cfg.Vectors.Add(ctx, ids, vectors); err != nil {
		return 0, err
	}
	if err := ix.cfg.Meta.SaveEmbeddings(ctx, ids, vectors, ix.cfg.Embedder.ModelName()); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (ix *Indexer) deleteNoteChunks(ctx context.Context, notePath string) error {
	old, err := ix.cfg.Meta.GetChunksByNote(ctx, notePath)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeIndexFailed, fmt.Sprintf("loading old chunks for %s", notePath), err)
	}
	if len(old) == 0 {
		return nil
	}

	ids := make([]string, len(old))
	for i, chunk := range old {
		ids[i] = chunk.ID
	}
	if err := ix.cfg.Keyword.Delete(ctx, ids); err != nil {
		return rerrors.New(rerrors.ErrCodeIndexFailed, fmt.Sprintf("keyword delete for %s", notePath), err)
	}
	if err := ix.cfg.Vectors.Delete(ctx, ids); err != nil {
		return rerrors.New(rerrors.ErrCodeIndexFailed, fmt.Sprintf("vector delete for %s", notePath), err)
	}
	return ix.cfg.Meta.DeleteChunksByNote(ctx, notePath)
}

func (ix *Indexer) removeNote(ctx context.Context, notePath string) error {
	if err := ix.deleteNoteChunks(ctx, notePath); err != nil {
		return err
	}
	return ix.cfg.Meta.DeleteNote(ctx, notePath)
}

// persistState saves the vector index and records run metadata.
func (ix *Indexer) persistState(ctx context.Context) error {
	if ix.cfg.VectorPath != "" {
		if err := ix.cfg.Vectors.Save(ix.cfg.VectorPath); err != nil {
			return rerrors.New(rerrors.ErrCodeIndexFailed, "saving vector index", err)
		}
	}

	state := map[string]string{
		store.StateKeyLastIndexed: time.Now().UTC().Format(time.RFC3339),
	}
	if ix.cfg.Embedder != nil {
		state[store.StateKeyIndexModel] = ix.cfg.Embedder.ModelName()
		state[store.StateKeyIndexDimension] = strconv.Itoa(ix.cfg.Embedder.Dimensions())
	}
	for key, value := range state {
		if err := ix.cfg.Meta.SetState(ctx, key, value); err != nil {
			return rerrors.New(rerrors.ErrCodeIndexFailed, "saving index state", err)
		}
	}
	return nil
}

// acquireLock takes the index file lock, or fails fast when another
// process holds it.
func (ix *Indexer) acquireLock() (func(), error) {
	if ix.cfg.LockPath == "" {
		return func() {}, nil
	}

	lock := flock.New(ix.cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeIndexLocked, "acquiring index lock", err)
	}
	if !locked {
		return nil, rerrors.New(rerrors.ErrCodeIndexLocked, "another index run is in progress", nil).
			WithSuggestion("wait for the other 'recall index' to finish, or remove the stale lock file")
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("index_unlock_failed", slog.String("error", err.Error()))
		}
	}, nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
