package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is how long a burst of file events must settle
// before a batch is emitted.
const DefaultDebounceWindow = 500 * time.Millisecond

// Watcher follows a vault directory with fsnotify and applies debounced
// note changes to the indexer. New subdirectories are watched as they
// appear.
type Watcher struct {
	root      string
	scanner   *Scanner
	indexer   *Indexer
	debouncer *Debouncer
	fsw       *fsnotify.Watcher
}

// NewWatcher creates a watcher over the indexer's vault root. Excluded and
// hidden directories are not watched.
func NewWatcher(indexer *Indexer, window time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:      indexer.cfg.VaultRoot,
		scanner:   indexer.scanner,
		indexer:   indexer,
		debouncer: NewDebouncer(window),
		fsw:       fsw,
	}
	if err := w.addRecursive(w.root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run pumps file events through the debouncer and applies each settled
// batch to the indexer. It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	go w.pump(ctx)

	for {
		select {
		case <-ctx.Done():
			w.debouncer.Stop()
			// Whatever had not settled yet still gets indexed and
			// persisted before shutdown.
			for batch := range w.debouncer.Batches() {
				w.apply(context.Background(), batch)
			}
			return ctx.Err()
		case batch, ok := <-w.debouncer.Batches():
			if !ok {
				return nil
			}
			w.apply(ctx, batch)
		}
	}
}

// pump translates raw fsnotify events into debounced note events.
func (w *Watcher) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New directories must be added to the watch set immediately or
	// events inside them are lost.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.scanner.skipDir(filepath.Base(event.Name)) {
				if err := w.addRecursive(event.Name); err != nil {
					slog.Warn("watch_add_failed",
						slog.String("path", event.Name),
						slog.String("error", err.Error()))
				}
			}
			return
		}
	}

	if !isMarkdown(filepath.Base(event.Name)) {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}

	var op Operation
	switch {
	case event.Op.Has(fsnotify.Create):
		op = OpCreate
	case event.Op.Has(fsnotify.Write):
		op = OpModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path: filepath.ToSlash(rel),
		Op:   op,
		Time: time.Now(),
	})
}

// apply reindexes or removes each note in a settled batch.
func (w *Watcher) apply(ctx context.Context, batch []FileEvent) {
	for _, event := range batch {
		var err error
		switch event.Op {
		case OpDelete:
			err = w.indexer.RemoveFile(ctx, event.Path)
		default:
			err = w.indexer.IndexFile(ctx, event.Path)
		}
		if err != nil {
			slog.Warn("watch_apply_failed",
				slog.String("path", event.Path),
				slog.String("op", event.Op.String()),
				slog.String("error", err.Error()))
			continue
		}
		slog.Info("note_updated",
			slog.String("path", event.Path),
			slog.String("op", event.Op.String()))
	}

	if err := w.indexer.SaveVectors(); err != nil {
		slog.Warn("vector_save_failed", slog.String("error", err.Error()))
	}
}

// addRecursive watches dir and all non-excluded subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.scanner.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
