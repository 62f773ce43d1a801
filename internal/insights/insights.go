// Package insights derives higher-level summaries from retrieval results:
// meeting context for a person and open action items across recent notes.
// It composes the retrieval pipeline and the metadata store; nothing here
// touches the indexes directly.
package insights

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/recallhq/recall/internal/retrieval"
	"github.com/recallhq/recall/internal/store"
)

const (
	// personSearchLimit bounds the person-filtered retrieval pass.
	personSearchLimit = 20

	// mentionSearchLimit bounds the unfiltered "meeting with" pass.
	mentionSearchLimit = 10

	// maxContextNotes is how many top notes feed topics and actions.
	maxContextNotes = 10

	// maxRecentTopics caps the topics listed in a person context.
	maxRecentTopics = 5

	// maxOpenActions caps the extracted action lines in a person context.
	maxOpenActions = 5

	// maxRecentMeetings caps the per-meeting summaries.
	maxRecentMeetings = 5

	// meetingSummaryChars bounds each meeting summary excerpt.
	meetingSummaryChars = 150

	// actionSearchLimit bounds the retrieval pass behind action items.
	actionSearchLimit = 50

	// DefaultActionLimit caps returned action items when the caller
	// passes no limit.
	DefaultActionLimit = 20

	// minActionLineChars filters out bullet stubs too short to be a task.
	minActionLineChars = 10
)

// actionKeywords mark a bullet line as a likely commitment when no person
// filter narrows the scan.
var actionKeywords = []string{"will", "to do", "todo", "action", "next", "follow"}

// Retriever runs the retrieval pipeline. Satisfied by retrieval.Orchestrator.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]*retrieval.RankedResult, *retrieval.Diagnostics, error)
}

// NoteResolver resolves ranked doc refs back to chunk content and note
// metadata. Satisfied by store.MetadataStore.
type NoteResolver interface {
	GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error)
	GetNote(ctx context.Context, path string) (*store.Note, error)
}

// Meeting is one recent meeting in a person context.
type Meeting struct {
	Date    time.Time
	Title   string
	Summary string
}

// PersonContext summarizes what the vault knows about meetings with one
// person, built for 1:1 preparation.
type PersonContext struct {
	Person         string
	MeetingCount   int
	LastMeeting    time.Time
	RecentTopics   []string
	OpenActions    []string
	RecentMeetings []Meeting
}

// ActionItem is one extracted commitment line.
type ActionItem struct {
	Item   string
	Date   time.Time
	Source string // Note title, or path when untitled
}

// Collector builds insights from retrieval results.
type Collector struct {
	retriever Retriever
	notes     NoteResolver
}

func NewCollector(retriever Retriever, notes NoteResolver) *Collector {
	return &Collector{retriever: retriever, notes: notes}
}

// PersonContext gathers recent meetings, topics, and action lines for one
// person. Two hybrid passes feed it: notes tagged with the person in front
// matter, and notes that merely mention meeting them. Results are deduped
// by note so one meeting contributes once.
func (c *Collector) PersonContext(ctx context.Context, person string) (*PersonContext, error) {
	person = strings.TrimSpace(person)
	if person == "" {
		return nil, fmt.Errorf("person name is empty")
	}

	tagged, _, err := c.retriever.Retrieve(ctx, retrieval.Query{
		Text:   person,
		Filter: store.SearchFilter{Person: strings.ToLower(person)},
		Limit:  personSearchLimit,
		Mode:   retrieval.ModeHybrid,
	})
	if err != nil {
		return nil, fmt.Errorf("person search: %w", err)
	}

	// Mentions outside front matter tags still count as meetings.
	mentions, _, err := c.retriever.Retrieve(ctx, retrieval.Query{
		Text:  "meeting with " + person,
		Limit: mentionSearchLimit,
		Mode:  retrieval.ModeHybrid,
	})
	if err != nil {
		return nil, fmt.Errorf("mention search: %w", err)
	}

	chunks, err := c.resolveUniqueNotes(ctx, append(tagged, mentions...))
	if err != nil {
		return nil, err
	}

	pc := &PersonContext{Person: person, MeetingCount: len(chunks)}
	actionPattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(person) + `[:\s]+(.+)`)

	for i, chunk := range chunks {
		if i >= maxContextNotes {
			break
		}
		if !chunk.Date.IsZero() && chunk.Date.After(pc.LastMeeting) {
			pc.LastMeeting = chunk.Date
		}
		if len(pc.OpenActions) < maxOpenActions {
			pc.OpenActions = append(pc.OpenActions,
				extractPersonActions(chunk.Content, actionPattern, maxOpenActions-len(pc.OpenActions))...)
		}
		if title := c.noteTitle(ctx, chunk.NotePath); title != "" {
			if len(pc.RecentTopics) < maxRecentTopics && !contains(pc.RecentTopics, title) {
				pc.RecentTopics = append(pc.RecentTopics, title)
			}
		}
	}

	for i, chunk := range chunks {
		if i >= maxRecentMeetings {
			break
		}
		pc.RecentMeetings = append(pc.RecentMeetings, Meeting{
			Date:    chunk.Date,
			Title:   c.noteTitle(ctx, chunk.NotePath),
			Summary: summarize(chunk.Content, meetingSummaryChars),
		})
	}

	return pc, nil
}

// ActionItems extracts bullet lines that read like commitments from recent
// notes. A person narrows both the search query and the line filter; without
// one, lines must carry a commitment keyword or an unchecked checkbox.
func (c *Collector) ActionItems(ctx context.Context, person string, limit int) ([]ActionItem, error) {
	if limit <= 0 {
		limit = DefaultActionLimit
	}

	query := "action items next steps"
	if person != "" {
		query = "action items " + person
	}

	results, _, err := c.retriever.Retrieve(ctx, retrieval.Query{
		Text:  query,
		Limit: actionSearchLimit,
		Mode:  retrieval.ModeHybrid,
	})
	if err != nil {
		return nil, fmt.Errorf("action search: %w", err)
	}

	chunks, err := c.resolveChunks(ctx, results)
	if err != nil {
		return nil, err
	}

	var items []ActionItem
	seen := make(map[string]bool)
	for _, chunk := range chunks {
		for _, line := range strings.Split(chunk.Content, "\n") {
			item, ok := actionLine(line, person)
			if !ok || seen[item] {
				continue
			}
			seen[item] = true
			items = append(items, ActionItem{
				Item:   item,
				Date:   chunk.Date,
				Source: c.noteTitle(ctx, chunk.NotePath),
			})
			if len(items) >= limit {
				return items, nil
			}
		}
	}
	return items, nil
}

// actionLine reports whether a raw note line is an action item and returns
// it with the bullet stripped.
func actionLine(line, person string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "*") && !strings.HasPrefix(line, "•") {
		return "", false
	}

	open := strings.HasPrefix(line, "- [ ]")
	done := strings.HasPrefix(line, "- [x]") || strings.HasPrefix(line, "- [X]")
	if done {
		return "", false
	}

	item := strings.TrimLeft(line, "-*• ")
	item = strings.TrimSpace(strings.TrimPrefix(item, "[ ]"))
	if len(item) < minActionLineChars {
		return "", false
	}

	if person != "" {
		if !strings.Contains(strings.ToLower(item), strings.ToLower(person)) {
			return "", false
		}
		return item, true
	}
	if open {
		return item, true
	}
	lower := strings.ToLower(item)
	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw) {
			return item, true
		}
	}
	return "", false
}

// extractPersonActions pulls up to max lines attributed to the person, in
// the "name: did the thing" style meeting notes use.
func extractPersonActions(content string, pattern *regexp.Regexp, max int) []string {
	var actions []string
	for _, line := range strings.Split(content, "\n") {
		if len(actions) >= max {
			break
		}
		m := pattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		action := strings.TrimSpace(m[1])
		if action != "" {
			actions = append(actions, action)
		}
	}
	return actions
}

// resolveUniqueNotes maps ranked results to chunks, keeping the first chunk
// per note in rank order.
func (c *Collector) resolveUniqueNotes(ctx context.Context, results []*retrieval.RankedResult) ([]*store.Chunk, error) {
	chunks, err := c.resolveChunks(ctx, results)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	unique := chunks[:0]
	for _, chunk := range chunks {
		if seen[chunk.NotePath] {
			continue
		}
		seen[chunk.NotePath] = true
		unique = append(unique, chunk)
	}
	return unique, nil
}

// resolveChunks loads chunk rows for ranked refs, preserving rank order.
// Refs missing from the store (mid-reindex staleness) are skipped.
func (c *Collector) resolveChunks(ctx context.Context, results []*retrieval.RankedResult) ([]*store.Chunk, error) {
	refs := make([]string, 0, len(results))
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.DocRef] {
			continue
		}
		seen[r.DocRef] = true
		refs = append(refs, r.DocRef)
	}

	chunks, err := c.notes.GetChunks(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}
	ordered := make([]*store.Chunk, 0, len(chunks))
	for _, ref := range refs {
		if chunk, ok := byID[ref]; ok {
			ordered = append(ordered, chunk)
		}
	}
	return ordered, nil
}

// noteTitle returns the note's title, falling back to its path.
func (c *Collector) noteTitle(ctx context.Context, path string) string {
	note, err := c.notes.GetNote(ctx, path)
	if err != nil || note == nil || note.Title == "" {
		return path
	}
	return note.Title
}

// summarize flattens content to one line capped at max runes.
func summarize(content string, max int) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= max {
		return content
	}
	runes := []rune(content)
	return strings.TrimSpace(string(runes[:max])) + "…"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
