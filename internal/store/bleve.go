package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// BleveKeywordIndex implements KeywordIndex with Bleve v2 full-text search.
// Filters compose as a conjunction around the text match: the match query
// scores, the filter terms narrow.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Verify interface implementation at compile time.
var _ KeywordIndex = (*BleveKeywordIndex)(nil)

// chunkDocument is the document shape stored in Bleve.
type chunkDocument struct {
	Content  string    `json:"content"`
	Heading  string    `json:"heading"`
	Vault    string    `json:"vault"`
	Category string    `json:"category"`
	People   []string  `json:"people"`
	Date     time.Time `json:"date"`
}

// fragmentLength caps result snippets.
const fragmentLength = 240

// validateIndexIntegrity checks if a Bleve index is valid before opening.
// Returns nil if valid, an error describing corruption if not. Lets the
// store auto-recover from a half-written index instead of failing every
// subsequent search.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Index doesn't exist, will be created
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// NewBleveKeywordIndex creates or opens a keyword index.
// If path is empty, creates an in-memory index for testing.
func NewBleveKeywordIndex(path string) (*BleveKeywordIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory: %w", mkErr)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			idx, err = bleve.New(path, indexMapping)
		} else {
			idx, err = bleve.Open(path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index: %w", err)
	}

	return &BleveKeywordIndex{index: idx, path: path}, nil
}

// createIndexMapping builds the field mappings: English analysis for prose,
// exact keyword matching for filter fields, datetime for the note date.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = en.AnalyzerName

	exactField := bleve.NewTextFieldMapping()
	exactField.Analyzer = keyword.Name

	dateField := bleve.NewDateTimeFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", textField)
	docMapping.AddFieldMappingsAt("heading", textField)
	docMapping.AddFieldMappingsAt("vault", exactField)
	docMapping.AddFieldMappingsAt("category", exactField)
	docMapping.AddFieldMappingsAt("people", exactField)
	docMapping.AddFieldMappingsAt("date", dateField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	return indexMapping, nil
}

// Index adds or replaces chunks in the index.
func (b *BleveKeywordIndex) Index(ctx context.Context, chunks []*Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, chunk := range chunks {
		// Zero time is outside Bleve's representable datetime range;
		// undated chunks index at the epoch.
		date := chunk.Date
		if date.IsZero() {
			date = time.Unix(0, 0).UTC()
		}
		doc := chunkDocument{
			Content:  chunk.Content,
			Heading:  chunk.Heading,
			Vault:    chunk.Vault,
			Category: chunk.Category,
			People:   chunk.People,
			Date:     date,
		}
		if err := batch.Index(chunk.ID, doc); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", chunk.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// Search returns chunks matching the query, scored by BM25-style relevance,
// narrowed by the filter.
func (b *BleveKeywordIndex) Search(ctx context.Context, queryStr string, filter SearchFilter, limit int) ([]*KeywordResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*KeywordResult{}, nil
	}

	contentMatch := bleve.NewMatchQuery(queryStr)
	contentMatch.SetField("content")

	headingMatch := bleve.NewMatchQuery(queryStr)
	headingMatch.SetField("heading")

	textQuery := bleve.NewDisjunctionQuery(contentMatch, headingMatch)

	searchQuery := composeWithFilter(textQuery, filter)

	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Size = limit
	searchRequest.Fields = []string{"content"}

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		fragment := ""
		if content, ok := hit.Fields["content"].(string); ok {
			fragment = truncateFragment(content, fragmentLength)
		}
		results = append(results, &KeywordResult{
			ChunkID:  hit.ID,
			Score:    hit.Score,
			Fragment: fragment,
		})
	}

	return results, nil
}

// composeWithFilter wraps the scoring query in a conjunction with exact
// filter terms. Filters do not contribute to scores.
func composeWithFilter(textQuery query.Query, filter SearchFilter) query.Query {
	if filter.IsZero() {
		return textQuery
	}

	conjuncts := []query.Query{textQuery}

	if filter.Vault != "" {
		q := bleve.NewTermQuery(filter.Vault)
		q.SetField("vault")
		conjuncts = append(conjuncts, q)
	}
	if filter.Category != "" {
		q := bleve.NewTermQuery(filter.Category)
		q.SetField("category")
		conjuncts = append(conjuncts, q)
	}
	if filter.Person != "" {
		q := bleve.NewTermQuery(filter.Person)
		q.SetField("people")
		conjuncts = append(conjuncts, q)
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		from := filter.From
		to := filter.To
		if from.IsZero() {
			from = time.Unix(0, 0).UTC()
		}
		if to.IsZero() {
			// Open-ended range.
			to = time.Now().AddDate(100, 0, 0)
		}
		q := bleve.NewDateRangeQuery(from, to)
		q.SetField("date")
		conjuncts = append(conjuncts, q)
	}

	return bleve.NewConjunctionQuery(conjuncts...)
}

// truncateFragment cuts content at a rune boundary near maxLen.
func truncateFragment(content string, maxLen int) string {
	content = strings.TrimSpace(content)
	if len(content) <= maxLen {
		return content
	}
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen]) + "…"
}

// Delete removes chunks from the index.
func (b *BleveKeywordIndex) Delete(ctx context.Context, chunkIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveKeywordIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return b.index.DocCount()
}

// Close releases resources.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
