// Package store provides the persistence layer for indexed vault data:
// keyword search (Bleve), vector search (HNSW), and note/chunk metadata
// (SQLite). The retrieval core consumes these through narrow interfaces and
// never writes to them.
package store

import (
	"context"
	"fmt"
	"time"
)

// State keys for the metadata key-value store.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyLastIndexed stores the RFC3339 timestamp of the last full index.
	StateKeyLastIndexed = "last_indexed_at"
)

// Note represents one markdown file in the vault.
type Note struct {
	Path        string    // Relative to vault root
	Title       string    // From front matter or first heading
	Vault       string    // Vault name
	Category    string    // From front matter
	People      []string  // From front matter
	Date        time.Time // From front matter or filename prefix
	ContentHash string    // SHA256 of file content
	ModTime     time.Time // File modification time
	IndexedAt   time.Time // When indexed
	ChunkCount  int
}

// Chunk represents a retrievable unit of note content. Its ID is the
// document reference used across every index: "<note path>#<seq>".
type Chunk struct {
	ID       string // note path + "#" + sequence number
	NotePath string
	Seq      int
	Heading  string // Nearest enclosing markdown heading
	Content  string
	Vault    string
	Category string
	People   []string
	Date     time.Time
}

// ChunkID builds the canonical chunk identifier.
func ChunkID(notePath string, seq int) string {
	return fmt.Sprintf("%s#%d", notePath, seq)
}

// SearchFilter narrows keyword and vector search. The retrieval core treats
// it as opaque and forwards it to backends unmodified.
type SearchFilter struct {
	Vault    string
	Category string
	Person   string
	From     time.Time
	To       time.Time
}

// IsZero reports whether no filter is set.
func (f SearchFilter) IsZero() bool {
	return f.Vault == "" && f.Category == "" && f.Person == "" && f.From.IsZero() && f.To.IsZero()
}

// KeywordResult is a single full-text search hit.
type KeywordResult struct {
	ChunkID  string
	Score    float64
	Fragment string // Highlighted or truncated content snippet
}

// KeywordIndex provides BM25-scored full-text search over chunks.
type KeywordIndex interface {
	// Index adds or replaces chunks in the index.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns chunks matching the query, scored by BM25, filtered
	// by the given filter.
	Search(ctx context.Context, query string, filter SearchFilter, limit int) ([]*KeywordResult, error)

	// Delete removes chunks from the index.
	Delete(ctx context.Context, chunkIDs []string) error

	// Count returns the number of indexed chunks.
	Count() (uint64, error)

	// Close releases resources.
	Close() error
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStore provides approximate nearest-neighbor search over chunk
// embeddings.
type VectorStore interface {
	// Add inserts vectors with their chunk IDs, replacing existing ones.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by chunk ID.
	Delete(ctx context.Context, ids []string) error

	// Contains checks if a chunk ID exists.
	Contains(id string) bool

	// Count returns the number of stored vectors.
	Count() int

	// Save persists the index to disk.
	Save(path string) error

	// Load loads the index from disk.
	Load(path string) error

	// Close releases resources.
	Close() error
}

// VaultStats summarizes the indexed state for the status command.
type VaultStats struct {
	NoteCount      int
	ChunkCount     int
	EmbeddingCount int
	LastIndexed    time.Time
}

// MetadataStore persists notes, chunks, embeddings, and runtime state.
type MetadataStore interface {
	// Note operations
	SaveNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, path string) (*Note, error)
	ListNotes(ctx context.Context) ([]*Note, error)
	DeleteNote(ctx context.Context, path string) error

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByNote(ctx context.Context, notePath string) ([]*Chunk, error)
	DeleteChunksByNote(ctx context.Context, notePath string) error

	// Embedding operations (to rebuild the vector index without re-embedding)
	SaveEmbeddings(ctx context.Context, chunkIDs []string, vectors [][]float32, model string) error
	GetAllEmbeddings(ctx context.Context) (map[string][]float32, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Stats returns index statistics.
	Stats(ctx context.Context) (*VaultStats, error)

	// Close releases resources.
	Close() error
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (768 for nomic-embed-text,
	// 256 for the static embedder).
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates a vector dimension mismatch between the
// index and the current embedder.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index has %d, got %d (reindex with 'recall index --force')", e.Expected, e.Got)
}
