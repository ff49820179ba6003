package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	qerrors "github.com/quiver-notes/quiver/internal/errors"
)

// DefaultDebounce is the default event-settling window.
const DefaultDebounce = 500 * time.Millisecond

// ReindexFunc runs one incremental indexing pass.
type ReindexFunc func(ctx context.Context) error

// Watcher watches a notes directory tree and runs a reindex callback
// after changes settle. fsnotify does not watch recursively, so every
// subdirectory gets its own watch, and newly created directories are
// added on the fly.
type Watcher struct {
	root     string
	debounce time.Duration
	reindex  ReindexFunc
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the tree rooted at dir.
func NewWatcher(dir string, debounce time.Duration, reindex ReindexFunc, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: dir, debounce: debounce, reindex: reindex, logger: logger}
}

// Run watches until ctx is cancelled. Reindex failures are logged and
// watching continues; only watcher breakdown ends the loop with an
// error.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return qerrors.Wrap(qerrors.ErrCodeInternal, err)
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}

	debouncer := NewDebouncer(w.debounce)
	defer debouncer.Stop()

	w.logger.Info("watching notes directory", "dir", w.root, "debounce", w.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(fsw, event) {
				debouncer.Trigger()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-debouncer.Output():
			if err := w.reindex(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("incremental reindex failed", "error", err)
			}
		}
	}
}

// handleEvent reports whether the event is relevant to the index, and
// registers watches for new subdirectories.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(fsw, event.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "dir", event.Name, "error", err)
			}
			return true
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".md" || ext == ".markdown"
}

// addTree registers watches on dir and every non-hidden subdirectory.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return qerrors.New(qerrors.ErrCodeNotesDirUnreadable,
					"cannot watch "+dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", "dir", path, "error", err)
		}
		return nil
	})
}
