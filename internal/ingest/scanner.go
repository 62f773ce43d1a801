package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxNoteSize guards against accidentally indexing exports or logs that
// snuck into the vault with a .md extension.
const maxNoteSize = 5 * 1024 * 1024

// NoteFile describes a markdown file discovered in the vault. Path is
// slash-separated and relative to the vault root.
type NoteFile struct {
	Path    string
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Scanner walks a vault directory and collects the markdown files worth
// indexing.
type Scanner struct {
	excludes map[string]struct{}
}

// NewScanner creates a scanner that skips the named directories anywhere
// in the tree. Hidden directories are always skipped.
func NewScanner(excludes []string) *Scanner {
	ex := make(map[string]struct{}, len(excludes))
	for _, name := range excludes {
		ex[name] = struct{}{}
	}
	return &Scanner{excludes: ex}
}

// Scan walks root and returns all indexable markdown files sorted by path.
func (s *Scanner) Scan(ctx context.Context, root string) ([]NoteFile, error) {
	var files []NoteFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("scan_entry_failed", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if s.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !isMarkdown(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("scan_stat_failed", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if info.Size() > maxNoteSize {
			slog.Warn("note_too_large",
				slog.String("path", path),
				slog.Int64("size", info.Size()))
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, NoteFile{
			Path:    filepath.ToSlash(rel),
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *Scanner) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, excluded := s.excludes[name]
	return excluded
}

func isMarkdown(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
