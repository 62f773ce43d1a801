package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteMetadataStore implements MetadataStore on SQLite. It holds notes,
// chunks, embeddings, and runtime state; WAL mode allows a watch process and
// a search process to share the database.
type SQLiteMetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// validateSQLiteIntegrity checks a database file before opening it.
// Returns nil if valid, an error describing corruption if not.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	return nil
}

// NewSQLiteMetadataStore creates or opens the metadata database.
// If path is empty, creates an in-memory store for testing.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("metadata_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("metadata store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("metadata_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite; DSN params
	// may be ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteMetadataStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS notes (
		path         TEXT PRIMARY KEY,
		title        TEXT NOT NULL DEFAULT '',
		vault        TEXT NOT NULL DEFAULT '',
		category     TEXT NOT NULL DEFAULT '',
		people       TEXT NOT NULL DEFAULT '[]',
		date         INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		mod_time     INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL DEFAULT 0,
		chunk_count  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id        TEXT PRIMARY KEY,
		note_path TEXT NOT NULL,
		seq       INTEGER NOT NULL,
		heading   TEXT NOT NULL DEFAULT '',
		content   TEXT NOT NULL,
		vault     TEXT NOT NULL DEFAULT '',
		category  TEXT NOT NULL DEFAULT '',
		people    TEXT NOT NULL DEFAULT '[]',
		date      INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_note_path ON chunks(note_path);

	CREATE TABLE IF NOT EXISTS embeddings (
		chunk_id TEXT PRIMARY KEY,
		model    TEXT NOT NULL,
		vector   BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveNote inserts or replaces a note record.
func (s *SQLiteMetadataStore) SaveNote(ctx context.Context, note *Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	people, err := json.Marshal(note.People)
	if err != nil {
		return fmt.Errorf("failed to encode people: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO notes
		(path, title, vault, category, people, date, content_hash, mod_time, indexed_at, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.Path, note.Title, note.Vault, note.Category, string(people),
		unixOrZero(note.Date), note.ContentHash,
		unixOrZero(note.ModTime), unixOrZero(note.IndexedAt), note.ChunkCount)
	if err != nil {
		return fmt.Errorf("failed to save note %s: %w", note.Path, err)
	}
	return nil
}

// GetNote returns the note at path, or (nil, nil) if not indexed.
func (s *SQLiteMetadataStore) GetNote(ctx context.Context, path string) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT path, title, vault, category, people, date, content_hash, mod_time, indexed_at, chunk_count
		FROM notes WHERE path = ?`, path)

	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", path, err)
	}
	return note, nil
}

// ListNotes returns all indexed notes ordered by path.
func (s *SQLiteMetadataStore) ListNotes(ctx context.Context) ([]*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, title, vault, category, people, date, content_hash, mod_time, indexed_at, chunk_count
		FROM notes ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// DeleteNote removes a note and its embeddings. Chunks are removed via
// DeleteChunksByNote.
func (s *SQLiteMetadataStore) DeleteNote(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings WHERE chunk_id IN
		(SELECT id FROM chunks WHERE note_path = ?)`, path); err != nil {
		return fmt.Errorf("failed to delete embeddings for %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", path, err)
	}

	return tx.Commit()
}

// SaveChunks inserts or replaces chunk records in one transaction.
func (s *SQLiteMetadataStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(id, note_path, seq, heading, content, vault, category, people, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		people, err := json.Marshal(chunk.People)
		if err != nil {
			return fmt.Errorf("failed to encode people for %s: %w", chunk.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.NotePath, chunk.Seq, chunk.Heading, chunk.Content,
			chunk.Vault, chunk.Category, string(people), unixOrZero(chunk.Date)); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", chunk.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunk returns one chunk by ID, or (nil, nil) if not present.
func (s *SQLiteMetadataStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, note_path, seq, heading, content, vault, category, people, date
		FROM chunks WHERE id = ?`, id)

	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", id, err)
	}
	return chunk, nil
}

// GetChunks returns chunks for the given IDs, preserving input order.
// IDs with no stored chunk are skipped.
func (s *SQLiteMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, note_path, seq, heading, content, vault, category, people, date
		FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := byID[id]; ok {
			ordered = append(ordered, chunk)
		}
	}
	return ordered, nil
}

// GetChunksByNote returns a note's chunks ordered by sequence.
func (s *SQLiteMetadataStore) GetChunksByNote(ctx context.Context, notePath string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note_path, seq, heading, content, vault, category, people, date
		FROM chunks WHERE note_path = ? ORDER BY seq`, notePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks for %s: %w", notePath, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksByNote removes a note's chunks and their embeddings.
func (s *SQLiteMetadataStore) DeleteChunksByNote(ctx context.Context, notePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings WHERE chunk_id IN
		(SELECT id FROM chunks WHERE note_path = ?)`, notePath); err != nil {
		return fmt.Errorf("failed to delete embeddings for %s: %w", notePath, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE note_path = ?`, notePath); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", notePath, err)
	}

	return tx.Commit()
}

// SaveEmbeddings stores vectors so the HNSW index can be rebuilt without
// calling the embedder again.
func (s *SQLiteMetadataStore) SaveEmbeddings(ctx context.Context, chunkIDs []string, vectors [][]float32, model string) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("chunk ID count (%d) does not match vector count (%d)", len(chunkIDs), len(vectors))
	}
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO embeddings (chunk_id, model, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, id, model, encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("failed to save embedding %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// GetAllEmbeddings returns every stored vector keyed by chunk ID.
func (s *SQLiteMetadataStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, vector FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vector, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedding %s: %w", id, err)
		}
		result[id] = vector
	}
	return result, rows.Err()
}

// GetState returns the stored value for key, or "" if unset.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a key-value pair.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Stats returns index-wide counts for the status command.
func (s *SQLiteMetadataStore) Stats(ctx context.Context) (*VaultStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stats := &VaultStats{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&stats.NoteCount); err != nil {
		return nil, fmt.Errorf("failed to count notes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.ChunkCount); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&stats.EmbeddingCount); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	var last string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, StateKeyLastIndexed).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read last indexed time: %w", err)
	}
	if last != "" {
		if t, parseErr := time.Parse(time.RFC3339, last); parseErr == nil {
			stats.LastIndexed = t
		}
	}

	return stats, nil
}

// Close releases the database connection.
func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row rowScanner) (*Note, error) {
	var note Note
	var people string
	var date, modTime, indexedAt int64
	if err := row.Scan(&note.Path, &note.Title, &note.Vault, &note.Category, &people,
		&date, &note.ContentHash, &modTime, &indexedAt, &note.ChunkCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(people), &note.People); err != nil {
		return nil, fmt.Errorf("failed to decode people: %w", err)
	}
	note.Date = timeOrZero(date)
	note.ModTime = timeOrZero(modTime)
	note.IndexedAt = timeOrZero(indexedAt)
	return &note, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var chunk Chunk
	var people string
	var date int64
	if err := row.Scan(&chunk.ID, &chunk.NotePath, &chunk.Seq, &chunk.Heading, &chunk.Content,
		&chunk.Vault, &chunk.Category, &people, &date); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(people), &chunk.People); err != nil {
		return nil, fmt.Errorf("failed to decode people: %w", err)
	}
	chunk.Date = timeOrZero(date)
	return &chunk, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// encodeVector packs float32s little-endian for BLOB storage.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
