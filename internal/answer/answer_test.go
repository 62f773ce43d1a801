package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/internal/store"
)

type fakeGenerator struct {
	response string
	err      error
	prompt   string
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, prompt string) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newAnswerFixture(t *testing.T) store.MetadataStore {
	t.Helper()
	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	chunks := []*store.Chunk{
		{
			ID:       "work/standup.md#0",
			NotePath: "work/standup.md",
			Seq:      0,
			Heading:  "Decisions",
			Content:  "We agreed to migrate the billing database in Q2.",
		},
		{
			ID:       "work/planning.md#0",
			NotePath: "work/planning.md",
			Seq:      0,
			Content:  "Q2 roadmap includes the billing migration and the audit log.",
		},
	}
	require.NoError(t, meta.SaveChunks(context.Background(), chunks))
	return meta
}

func rankedRefs(refs ...string) []*retrieval.RankedResult {
	out := make([]*retrieval.RankedResult, len(refs))
	for i, ref := range refs {
		out[i] = &retrieval.RankedResult{DocRef: ref, FinalScore: 1.0 - float64(i)*0.1}
	}
	return out
}

func TestSynthesizer_Synthesize_NumbersSourcesInRankOrder(t *testing.T) {
	// Given: two ranked chunks and a healthy model
	meta := newAnswerFixture(t)
	gen := &fakeGenerator{response: "The billing migration happens in Q2 [1]."}
	s := NewSynthesizer(gen, meta, "llama3.2", time.Second)

	// When: synthesizing
	ans, err := s.Synthesize(context.Background(),
		"when is the billing migration?",
		rankedRefs("work/standup.md#0", "work/planning.md#0"))
	require.NoError(t, err)

	// Then: the answer and ordered sources come back
	assert.Equal(t, "The billing migration happens in Q2 [1].", ans.Text)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, 1, ans.Sources[0].Index)
	assert.Equal(t, "work/standup.md#0", ans.Sources[0].DocRef)
	assert.Equal(t, "Decisions", ans.Sources[0].Heading)
	assert.Equal(t, 2, ans.Sources[1].Index)

	// And: the prompt contains numbered source blocks and the question
	assert.Contains(t, gen.prompt, "[1] work/standup.md > Decisions")
	assert.Contains(t, gen.prompt, "[2] work/planning.md")
	assert.Contains(t, gen.prompt, "when is the billing migration?")
}

func TestSynthesizer_Synthesize_GenerationFailureKeepsSources(t *testing.T) {
	// Given: a dead model
	meta := newAnswerFixture(t)
	gen := &fakeGenerator{err: errors.New("connection refused")}
	s := NewSynthesizer(gen, meta, "llama3.2", time.Second)

	// When: synthesizing
	ans, err := s.Synthesize(context.Background(), "question",
		rankedRefs("work/standup.md#0"))

	// Then: the coded error surfaces but sources are still attached
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeGenerationFailed, rerrors.GetCode(err))
	require.NotNil(t, ans)
	require.Len(t, ans.Sources, 1)
	assert.Empty(t, ans.Text)
}

func TestSynthesizer_Synthesize_EmptyResults(t *testing.T) {
	// Given: no retrieval results
	meta := newAnswerFixture(t)
	gen := &fakeGenerator{response: "unused"}
	s := NewSynthesizer(gen, meta, "llama3.2", time.Second)

	// When: synthesizing
	ans, err := s.Synthesize(context.Background(), "question", nil)

	// Then: an empty answer without calling the model
	require.NoError(t, err)
	assert.Empty(t, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.Empty(t, gen.prompt)
}

func TestSynthesizer_Synthesize_SkipsStaleRefs(t *testing.T) {
	// Given: one ranked ref no longer in the metadata store
	meta := newAnswerFixture(t)
	gen := &fakeGenerator{response: "answer"}
	s := NewSynthesizer(gen, meta, "llama3.2", time.Second)

	// When: synthesizing with a stale ref mixed in
	ans, err := s.Synthesize(context.Background(), "question",
		rankedRefs("deleted.md#0", "work/standup.md#0"))
	require.NoError(t, err)

	// Then: only the live chunk becomes a source
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "work/standup.md#0", ans.Sources[0].DocRef)
}

func TestSynthesizer_Synthesize_TruncatesLongExcerpts(t *testing.T) {
	// Given: a chunk larger than the per-source cap
	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	defer func() { _ = meta.Close() }()
	long := strings.Repeat("a", 4000)
	require.NoError(t, meta.SaveChunks(context.Background(), []*store.Chunk{
		{ID: "big.md#0", NotePath: "big.md", Content: long},
	}))

	gen := &fakeGenerator{response: "ok"}
	s := NewSynthesizer(gen, meta, "m", time.Second)

	// When: synthesizing
	ans, err := s.Synthesize(context.Background(), "q", rankedRefs("big.md#0"))
	require.NoError(t, err)

	// Then: the excerpt is capped
	require.Len(t, ans.Sources, 1)
	assert.Len(t, ans.Sources[0].Excerpt, maxSourceChars)
}

func TestSynthesizer_Synthesize_TruncationKeepsRunesIntact(t *testing.T) {
	// Given: a multibyte chunk whose byte length crosses the cap
	// mid-character
	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	defer func() { _ = meta.Close() }()
	long := strings.Repeat("木曜の会議メモ ", 300)
	require.NoError(t, meta.SaveChunks(context.Background(), []*store.Chunk{
		{ID: "big.md#0", NotePath: "big.md", Content: long},
	}))

	gen := &fakeGenerator{response: "ok"}
	s := NewSynthesizer(gen, meta, "m", time.Second)

	// When: synthesizing
	ans, err := s.Synthesize(context.Background(), "q", rankedRefs("big.md#0"))
	require.NoError(t, err)

	// Then: the excerpt is capped by rune count and stays valid UTF-8
	require.Len(t, ans.Sources, 1)
	excerpt := ans.Sources[0].Excerpt
	assert.True(t, utf8.ValidString(excerpt))
	assert.Equal(t, maxSourceChars, utf8.RuneCountInString(excerpt))
}
