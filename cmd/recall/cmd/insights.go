package cmd

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/insights"
)

func newPersonCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "person <name>",
		Short: "Summarize recent meetings with a person",
		Long: `Summarize what the vault knows about meetings with a person:
recent meetings, discussed topics, and lines attributed to them.
Useful before a 1:1.

Examples:
  recall person priya
  recall person "Priya Sharma" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPerson(cmd.Context(), strings.Join(args, " "), format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json")
	return cmd
}

func newActionsCmd() *cobra.Command {
	var (
		person string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List open action items from recent notes",
		Long: `Extract action items from recent notes: unchecked checkboxes and
bullet lines that read like commitments.

Examples:
  recall actions
  recall actions --person priya --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActions(cmd.Context(), person, limit, format)
		},
	}

	cmd.Flags().StringVar(&person, "person", "", "Only items mentioning this person")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of items")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json")
	return cmd
}

func runPerson(ctx context.Context, name, format string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	collector := insights.NewCollector(a.newOrchestrator(false), a.meta)
	pc, err := collector.PersonContext(ctx, name)
	if err != nil {
		a.renderer.Error(err.Error())
		return err
	}

	if strings.ToLower(format) == "json" {
		return writePersonJSON(pc)
	}
	a.renderer.PersonContext(pc)
	return nil
}

func runActions(ctx context.Context, person string, limit int, format string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	collector := insights.NewCollector(a.newOrchestrator(false), a.meta)
	items, err := collector.ActionItems(ctx, strings.TrimSpace(person), limit)
	if err != nil {
		a.renderer.Error(err.Error())
		return err
	}

	if strings.ToLower(format) == "json" {
		return writeActionsJSON(items)
	}
	a.renderer.ActionItems(items)
	return nil
}

// personContextJSON is the stable machine-readable person summary shape.
type personContextJSON struct {
	Person         string        `json:"person"`
	MeetingCount   int           `json:"meeting_count"`
	LastMeeting    string        `json:"last_meeting,omitempty"`
	RecentTopics   []string      `json:"recent_topics,omitempty"`
	OpenActions    []string      `json:"open_actions,omitempty"`
	RecentMeetings []meetingJSON `json:"recent_meetings,omitempty"`
}

type meetingJSON struct {
	Date    string `json:"date,omitempty"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func writePersonJSON(pc *insights.PersonContext) error {
	out := personContextJSON{
		Person:       pc.Person,
		MeetingCount: pc.MeetingCount,
		LastMeeting:  formatInsightDate(pc.LastMeeting),
		RecentTopics: pc.RecentTopics,
		OpenActions:  pc.OpenActions,
	}
	for _, m := range pc.RecentMeetings {
		out.RecentMeetings = append(out.RecentMeetings, meetingJSON{
			Date:    formatInsightDate(m.Date),
			Title:   m.Title,
			Summary: m.Summary,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type actionItemJSON struct {
	Item   string `json:"item"`
	Date   string `json:"date,omitempty"`
	Source string `json:"source,omitempty"`
}

func writeActionsJSON(items []insights.ActionItem) error {
	out := struct {
		Actions []actionItemJSON `json:"actions"`
	}{Actions: make([]actionItemJSON, 0, len(items))}

	for _, item := range items {
		out.Actions = append(out.Actions, actionItemJSON{
			Item:   item.Item,
			Date:   formatInsightDate(item.Date),
			Source: item.Source,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatInsightDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
