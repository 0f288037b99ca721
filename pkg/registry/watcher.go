package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the create+write event bursts editors produce.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the registry when the points file changes on disk, so
// operators can edit points.json directly and the collector picks the new
// set up on its next tick.
type Watcher struct {
	registry *Registry
	store    *Store
	logger   *slog.Logger
}

// NewWatcher builds a watcher for the registry's backing store.
func NewWatcher(reg *Registry, store *Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{registry: reg, store: store, logger: logger}
}

// Run watches the points file until the context is cancelled. The parent
// directory is watched rather than the file itself because atomic saves
// replace the inode.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.store.Path())
	if err := fw.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(w.store.Path())
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("points file watcher error", "error", err)
		case <-reload:
			defs, err := w.store.Load()
			if err != nil {
				w.logger.Error("failed to reload points file", "error", err)
				continue
			}
			w.registry.Replace(defs)
		}
	}
}
