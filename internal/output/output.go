// Package output renders search results, answers, and status to the
// terminal, with colors when stdout is a TTY and plain text otherwise.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/recallhq/recall/internal/answer"
	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/insights"
	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/internal/store"
)

// Renderer writes human-readable output. Write errors are ignored, the
// destination is a console.
type Renderer struct {
	out    io.Writer
	styles Styles
}

// NewRenderer picks colored or plain styles based on the destination.
func NewRenderer(out io.Writer) *Renderer {
	styles := PlainStyles()
	if IsTTY(out) && !DetectNoColor() {
		styles = DefaultStyles()
	}
	return &Renderer{out: out, styles: styles}
}

// NewPlainRenderer always renders without styling. Used for tests and
// explicit --plain output.
func NewPlainRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out, styles: PlainStyles()}
}

// Results renders ranked search results with rank, score, origin note,
// heading, and snippet.
func (r *Renderer) Results(results []*retrieval.RankedResult, diag *retrieval.Diagnostics) {
	if len(results) == 0 {
		r.printf("%s\n", r.styles.Label.Render("No results."))
		r.renderDiagnostics(diag)
		return
	}

	for i, res := range results {
		header := fmt.Sprintf("%d. %s", i+1, res.DocRef)
		score := fmt.Sprintf("(score %.3f)", res.FinalScore)
		r.printf("%s  %s\n", r.styles.Title.Render(header), r.styles.Score.Render(score))

		if snippet := strings.TrimSpace(res.Snippet); snippet != "" {
			r.printf("   %s\n", r.styles.Snippet.Render(snippet))
		}
		r.printf("\n")
	}

	r.renderDiagnostics(diag)
}

func (r *Renderer) renderDiagnostics(diag *retrieval.Diagnostics) {
	if diag == nil || len(diag.FailedBackends) == 0 {
		return
	}
	names := make([]string, len(diag.FailedBackends))
	for i, b := range diag.FailedBackends {
		names[i] = string(b)
	}
	r.Warning(fmt.Sprintf("partial results: %s backend unavailable", strings.Join(names, ", ")))
}

// Answer renders a synthesized answer followed by its numbered sources.
func (r *Renderer) Answer(ans *answer.Answer) {
	if ans == nil {
		return
	}

	if text := strings.TrimSpace(ans.Text); text != "" {
		r.printf("%s\n\n", r.styles.Snippet.Render(text))
	}

	if len(ans.Sources) == 0 {
		return
	}
	r.printf("%s\n", r.styles.Label.Render("Sources:"))
	for _, src := range ans.Sources {
		line := fmt.Sprintf("  [%d] %s", src.Index, src.NotePath)
		if src.Heading != "" {
			line += " > " + src.Heading
		}
		r.printf("%s\n", r.styles.Source.Render(line))
	}
}

// PersonContext renders a person's meeting summary.
func (r *Renderer) PersonContext(pc *insights.PersonContext) {
	if pc == nil {
		return
	}

	r.printf("%s\n", r.styles.Title.Render(pc.Person))
	r.printf("%s %d\n", r.styles.Label.Render("meetings:"), pc.MeetingCount)
	if !pc.LastMeeting.IsZero() {
		r.printf("%s %s\n", r.styles.Label.Render("last meeting:"), pc.LastMeeting.Format("2006-01-02"))
	}

	if len(pc.RecentTopics) > 0 {
		r.printf("\n%s\n", r.styles.Label.Render("Recent topics:"))
		for _, topic := range pc.RecentTopics {
			r.printf("  - %s\n", topic)
		}
	}
	if len(pc.OpenActions) > 0 {
		r.printf("\n%s\n", r.styles.Label.Render("Open actions:"))
		for _, action := range pc.OpenActions {
			r.printf("  - %s\n", r.styles.Snippet.Render(action))
		}
	}
	if len(pc.RecentMeetings) > 0 {
		r.printf("\n%s\n", r.styles.Label.Render("Recent meetings:"))
		for _, m := range pc.RecentMeetings {
			line := m.Title
			if !m.Date.IsZero() {
				line = m.Date.Format("2006-01-02") + "  " + line
			}
			r.printf("  %s\n", r.styles.Source.Render(line))
			if m.Summary != "" {
				r.printf("    %s\n", r.styles.Snippet.Render(m.Summary))
			}
		}
	}
}

// ActionItems renders extracted action items with their source notes.
func (r *Renderer) ActionItems(items []insights.ActionItem) {
	if len(items) == 0 {
		r.printf("%s\n", r.styles.Label.Render("No open action items."))
		return
	}

	for _, item := range items {
		r.printf("- %s\n", r.styles.Snippet.Render(item.Item))
		source := item.Source
		if !item.Date.IsZero() {
			source += ", " + item.Date.Format("2006-01-02")
		}
		if source != "" {
			r.printf("  %s\n", r.styles.Source.Render(source))
		}
	}
}

// IndexStats renders the outcome of an indexing run.
func (r *Renderer) IndexStats(stats *ingest.IndexStats) {
	summary := fmt.Sprintf("indexed %d notes (%d chunks, %d skipped, %d removed) in %s",
		stats.Indexed, stats.Chunks, stats.Skipped, stats.Removed,
		stats.Duration.Round(time.Millisecond))
	r.Success(summary)
}

// VaultStatus renders the status command output. model may be empty when
// the vault has never been indexed.
func (r *Renderer) VaultStatus(vault string, stats *store.VaultStats, model string) {
	r.printf("%s %s\n", r.styles.Label.Render("vault:"), r.styles.Title.Render(vault))
	r.printf("%s %d\n", r.styles.Label.Render("notes:"), stats.NoteCount)
	r.printf("%s %d\n", r.styles.Label.Render("chunks:"), stats.ChunkCount)
	r.printf("%s %d\n", r.styles.Label.Render("embeddings:"), stats.EmbeddingCount)
	if model != "" {
		r.printf("%s %s\n", r.styles.Label.Render("embedding model:"), model)
	}
	if !stats.LastIndexed.IsZero() {
		r.printf("%s %s\n", r.styles.Label.Render("last indexed:"),
			stats.LastIndexed.Format("2006-01-02 15:04:05"))
	} else {
		r.printf("%s %s\n", r.styles.Label.Render("last indexed:"), "never")
	}
}

// Success prints a success line.
func (r *Renderer) Success(msg string) {
	r.printf("%s\n", r.styles.Success.Render("✓ "+msg))
}

// Warning prints a warning line.
func (r *Renderer) Warning(msg string) {
	r.printf("%s\n", r.styles.Warning.Render("! "+msg))
}

// Error prints an error line, including the suggestion when the error
// carries one.
func (r *Renderer) Error(msg string) {
	r.printf("%s\n", r.styles.Error.Render("✗ "+msg))
}

func (r *Renderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// IsTTY reports whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether the NO_COLOR convention is in effect.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}
