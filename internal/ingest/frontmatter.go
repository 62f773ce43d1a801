// Package ingest turns a markdown vault into indexed chunks: scanning,
// front-matter extraction, heading-aware chunking, and the indexer that
// coordinates keyword, vector, and metadata writes.
package ingest

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NoteMeta is the metadata extracted from a note's front matter, with
// fallbacks from the file itself.
type NoteMeta struct {
	Title    string
	Category string
	People   []string
	Date     time.Time
}

type frontMatter struct {
	Title    string   `yaml:"title"`
	Category string   `yaml:"category"`
	People   []string `yaml:"people"`
	Date     string   `yaml:"date"`
}

var (
	filenameDatePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
	firstHeadingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
)

// ParseNote extracts front matter from note content and returns the
// metadata plus the body with front matter stripped. Malformed front matter
// is ignored, never an error; fallbacks fill the gaps:
//   - title: first markdown heading, else the filename stem
//   - date: a YYYY-MM-DD filename prefix
func ParseNote(relPath string, content []byte) (NoteMeta, string) {
	var meta NoteMeta
	body := string(content)

	if raw, rest, ok := splitFrontMatter(body); ok {
		var fm frontMatter
		if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
			slog.Debug("front_matter_unparseable",
				slog.String("path", relPath),
				slog.String("error", err.Error()))
		} else {
			meta.Title = strings.TrimSpace(fm.Title)
			meta.Category = strings.TrimSpace(fm.Category)
			for _, p := range fm.People {
				if p = strings.TrimSpace(p); p != "" {
					meta.People = append(meta.People, strings.ToLower(p))
				}
			}
			meta.Date = parseNoteDate(fm.Date)
		}
		body = rest
	}

	if meta.Date.IsZero() {
		if m := filenameDatePattern.FindStringSubmatch(filepath.Base(relPath)); m != nil {
			meta.Date, _ = time.Parse("2006-01-02", m[1])
		}
	}

	if meta.Title == "" {
		if m := firstHeadingPattern.FindStringSubmatch(body); m != nil {
			meta.Title = strings.TrimSpace(m[1])
		} else {
			base := filepath.Base(relPath)
			meta.Title = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}

	return meta, body
}

// splitFrontMatter returns the YAML block and the remaining body when the
// content opens with a --- fence.
func splitFrontMatter(content string) (raw, rest string, ok bool) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return "", content, false
	}

	trimmed := content[strings.Index(content, "\n")+1:]
	end := strings.Index(trimmed, "\n---")
	if end < 0 {
		return "", content, false
	}

	raw = trimmed[:end]
	rest = trimmed[end+len("\n---"):]
	rest = strings.TrimLeft(rest, "-")
	rest = strings.TrimPrefix(rest, "\r")
	rest = strings.TrimPrefix(rest, "\n")
	return raw, rest, true
}

// parseNoteDate accepts the date formats people actually write in notes.
func parseNoteDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04", "02.01.2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
