// Package answer synthesizes a grounded response from retrieved passages.
// It assembles the top-ranked chunks into a numbered source list, asks the
// generation model to answer only from that context, and returns the answer
// together with its source attributions. Sources survive generation failure
// so the caller can always show where an answer would have come from.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/internal/store"
)

// maxSourceChars bounds how much of each chunk enters the prompt.
const maxSourceChars = 1500

// DefaultTimeout bounds one answer generation call.
const DefaultTimeout = 60 * time.Second

const answerPromptTemplate = `Answer the question using only the sources below.
Cite sources by their [n] number. If the sources do not contain the answer, say so directly.

Question:
%s

Sources:
%s`

// Source is one passage the answer is grounded in.
type Source struct {
	Index    int // 1-based position in the prompt's source list
	DocRef   string
	NotePath string
	Heading  string
	Score    float64
	Excerpt  string
}

// Answer is the synthesis result.
type Answer struct {
	Text    string
	Sources []Source
}

// Generator is the text-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Synthesizer builds answers from ranked retrieval results.
type Synthesizer struct {
	gen     Generator
	meta    store.MetadataStore
	model   string
	timeout time.Duration
}

// NewSynthesizer wires the generation model and chunk metadata.
func NewSynthesizer(gen Generator, meta store.MetadataStore, model string, timeout time.Duration) *Synthesizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Synthesizer{gen: gen, meta: meta, model: model, timeout: timeout}
}

// Synthesize answers the question from the ranked results. On generation
// failure the assembled sources are still returned alongside the error.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, results []*retrieval.RankedResult) (*Answer, error) {
	if len(results) == 0 {
		return &Answer{}, nil
	}

	sources, err := s.assembleSources(ctx, results)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return &Answer{}, nil
	}

	prompt := fmt.Sprintf(answerPromptTemplate, question, formatSources(sources))

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.gen.Generate(genCtx, s.model, prompt)
	if err != nil {
		return &Answer{Sources: sources}, errors.New(errors.ErrCodeGenerationFailed,
			"answer generation failed", err).
			WithSuggestion("check that ollama is running and the model is pulled")
	}

	return &Answer{Text: strings.TrimSpace(text), Sources: sources}, nil
}

// assembleSources resolves ranked doc refs to chunk content, preserving rank
// order. Refs missing from the metadata store (mid-reindex staleness) are
// skipped.
func (s *Synthesizer) assembleSources(ctx context.Context, results []*retrieval.RankedResult) ([]Source, error) {
	refs := make([]string, len(results))
	scores := make(map[string]float64, len(results))
	for i, r := range results {
		refs[i] = r.DocRef
		scores[r.DocRef] = r.FinalScore
	}

	chunks, err := s.meta.GetChunks(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load source chunks: %w", err)
	}

	sources := make([]Source, 0, len(chunks))
	for _, chunk := range chunks {
		excerpt := truncateRunes(chunk.Content, maxSourceChars)
		sources = append(sources, Source{
			Index:    len(sources) + 1,
			DocRef:   chunk.ID,
			NotePath: chunk.NotePath,
			Heading:  chunk.Heading,
			Score:    scores[chunk.ID],
			Excerpt:  excerpt,
		})
	}
	return sources, nil
}

// truncateRunes caps s at max runes so the cut never splits a multibyte
// character.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// formatSources renders numbered source blocks for the prompt.
func formatSources(sources []Source) string {
	var b strings.Builder
	for _, src := range sources {
		b.WriteString(fmt.Sprintf("[%d] %s", src.Index, src.NotePath))
		if src.Heading != "" {
			b.WriteString(" > " + src.Heading)
		}
		b.WriteString("\n")
		b.WriteString(src.Excerpt)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
