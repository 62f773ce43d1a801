package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVaultFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanner_FindsMarkdownOnly(t *testing.T) {
	// Given a vault with markdown and non-markdown files
	root := t.TempDir()
	writeVaultFile(t, root, "work/standup.md", "# Standup")
	writeVaultFile(t, root, "work/notes.markdown", "notes")
	writeVaultFile(t, root, "work/export.pdf", "binary")
	writeVaultFile(t, root, "readme.txt", "text")

	// When scanning
	files, err := NewScanner(nil).Scan(context.Background(), root)

	// Then only markdown files are returned, sorted by path
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "work/notes.markdown", files[0].Path)
	assert.Equal(t, "work/standup.md", files[1].Path)
}

func TestScanner_SkipsExcludedAndHiddenDirs(t *testing.T) {
	// Given notes inside excluded, hidden, and regular directories
	root := t.TempDir()
	writeVaultFile(t, root, "keep/note.md", "keep")
	writeVaultFile(t, root, ".obsidian/workspace.md", "config")
	writeVaultFile(t, root, ".trash/deleted.md", "old")
	writeVaultFile(t, root, "node_modules/pkg/readme.md", "dep")

	// When scanning with the default exclusion list
	scanner := NewScanner([]string{"node_modules", ".recall"})
	files, err := scanner.Scan(context.Background(), root)

	// Then only the regular directory is scanned
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep/note.md", files[0].Path)
}

func TestScanner_SkipsOversizedFiles(t *testing.T) {
	// Given a file over the size cap
	root := t.TempDir()
	big := make([]byte, maxNoteSize+1)
	writeVaultFile(t, root, "big.md", string(big))
	writeVaultFile(t, root, "small.md", "ok")

	files, err := NewScanner(nil).Scan(context.Background(), root)

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "small.md", files[0].Path)
}

func TestScanner_EmptyVault(t *testing.T) {
	files, err := NewScanner(nil).Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScanner_CancelledContext(t *testing.T) {
	// Given a cancelled context
	root := t.TempDir()
	writeVaultFile(t, root, "note.md", "content")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When scanning
	_, err := NewScanner(nil).Scan(ctx, root)

	// Then the walk aborts with the context error
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_RecordsFileInfo(t *testing.T) {
	root := t.TempDir()
	writeVaultFile(t, root, "note.md", "hello world")

	files, err := NewScanner(nil).Scan(context.Background(), root)

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(11), files[0].Size)
	assert.False(t, files[0].ModTime.IsZero())
	assert.Equal(t, filepath.Join(root, "note.md"), files[0].AbsPath)
}
