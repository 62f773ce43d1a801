package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// expansionPromptTemplate asks for plain paraphrases, one per line. Models
// add numbering anyway; parsing strips it.
const expansionPromptTemplate = `Generate %d alternative search queries for the query below.
Rephrase it using different words with the same meaning.
Return one query per line, nothing else.

Query: %s`

// Expander produces query variants by asking a language model for
// paraphrases. It fails soft: any collaborator failure or unparseable
// response degrades to the original query alone, never to an error.
type Expander struct {
	gen     TextGenerator
	model   string
	timeout time.Duration
}

// NewExpander creates an expander backed by the given generation model.
func NewExpander(gen TextGenerator, model string, timeout time.Duration) *Expander {
	if timeout <= 0 {
		timeout = DefaultExpandTimeout
	}
	return &Expander{gen: gen, model: model, timeout: timeout}
}

// Expand returns query variants: the original first (tag original, weight
// 1.0), then up to variantCount paraphrases (tag expanded, weight below 1).
func (e *Expander) Expand(ctx context.Context, query string, variantCount int) []QueryVariant {
	variants := []QueryVariant{{Text: query, Weight: 1.0, Origin: OriginOriginal}}
	if variantCount <= 0 || e.gen == nil {
		return variants
	}

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := fmt.Sprintf(expansionPromptTemplate, variantCount, query)
	response, err := e.gen.Generate(genCtx, e.model, prompt)
	if err != nil {
		slog.Debug("query_expansion_failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return variants
	}

	for _, phrase := range parseExpansionResponse(response, query, variantCount) {
		variants = append(variants, QueryVariant{
			Text:   phrase,
			Weight: ExpandedVariantWeight,
			Origin: OriginExpanded,
		})
	}

	slog.Debug("query_expansion_complete",
		slog.String("query", query),
		slog.Int("variants", len(variants)))

	return variants
}

// parseExpansionResponse extracts up to max paraphrases from free-form model
// output. Fewer than requested is fine; zero usable lines means the caller
// proceeds with the original query only.
func parseExpansionResponse(response, original string, max int) []string {
	var phrases []string
	seen := map[string]bool{normalizePhrase(original): true}

	for _, line := range strings.Split(response, "\n") {
		phrase := stripListPrefix(strings.TrimSpace(line))
		if phrase == "" {
			continue
		}
		key := normalizePhrase(phrase)
		if seen[key] {
			continue
		}
		seen[key] = true
		phrases = append(phrases, phrase)
		if len(phrases) >= max {
			break
		}
	}

	return phrases
}

// stripListPrefix removes leading enumeration markers the model tends to add
// ("1.", "2)", "1:", "-", "•", "*") and surrounding quotes.
func stripListPrefix(line string) string {
	trimmed := strings.TrimLeft(line, "-•* \t")

	// Numbered prefixes: digits followed by '.', ')' or ':'.
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i > 0 && i < len(trimmed) {
		switch trimmed[i] {
		case '.', ')', ':':
			trimmed = trimmed[i+1:]
		}
	}

	trimmed = strings.TrimSpace(trimmed)
	return strings.Trim(trimmed, `"'`)
}

func normalizePhrase(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
