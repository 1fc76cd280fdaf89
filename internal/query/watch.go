package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/starcat/internal/util"
	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events around one store swap
const watchDebounce = 200 * time.Millisecond

// WatchStore reloads the store each time its file is replaced, until ctx is
// done. The watch is established before WatchStore returns; the returned
// channel is closed when watching stops.
func (e *Engine) WatchStore(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Swaps rename a new file over the old one, so the directory is watched
	// rather than the file itself. It may not exist before the first ingestion.
	dir := filepath.Dir(e.cfg.StorePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer w.Close()
		e.watchLoop(ctx, w, filepath.Clean(e.cfg.StorePath))
	}()
	return done, nil
}

func (e *Engine) watchLoop(ctx context.Context, w *fsnotify.Watcher, target string) {
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending = time.After(watchDebounce)
			}

		case <-pending:
			pending = nil
			if err := e.Reload(); err != nil {
				util.WarnLog("Catalog changed but could not be reloaded: %v", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			util.WarnLog("Catalog watch error: %v", err)
		}
	}
}
