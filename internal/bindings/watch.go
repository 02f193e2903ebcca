package bindings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchSettle = 100 * time.Millisecond

// Watcher reloads the store when another process rewrites the binding file.
// Writes made by this process are recognized by digest and ignored.
type Watcher struct {
	store     *Store
	persister *FilePersister
	fsw       *fsnotify.Watcher
}

// NewWatcher watches the directory holding p's file. The directory is
// watched rather than the file so atomic renames are observed.
func NewWatcher(store *Store, p *FilePersister) (*Watcher, error) {
	dir := filepath.Dir(p.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{store: store, persister: p, fsw: fsw}, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	target := filepath.Clean(w.persister.Path())
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				settle = time.After(watchSettle)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("bindings: watcher error", "error", err)
		case <-settle:
			settle = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.persister.Path())
	if err != nil {
		slog.Debug("bindings: watcher read failed", "error", err)
		return
	}
	if w.persister.IsOwnWrite(data) {
		return
	}
	records, err := decodeSnapshot(data)
	if err != nil {
		slog.Warn("bindings: ignoring unreadable external update", "error", err)
		return
	}
	w.persister.setDigest(digest(data))
	n := w.store.ReplaceAll(records)
	slog.Info("bindings: reloaded after external update", "count", n)
}
