package workspace

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/sternelee/forge-agent/internal/logging"
)

// Watch recursively watches root for filesystem changes and emits a tick
// on the returned channel whenever something under the tree is created,
// written, renamed, or removed, debounced to one tick per batch of events
// drained in a single select iteration. This supplements the sync
// algorithm (which spec.md does not itself define a watch loop for) with
// an incremental re-sync trigger; callers typically follow each tick with
// an Engine.Sync call.
//
// The returned channel is closed when ctx is canceled or the watcher
// fails to start.
func Watch(ctx context.Context, root string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && shouldSkipDir(entry.Name()) {
			return fs.SkipDir
		}
		return watcher.Add(path)
	}); err != nil {
		watcher.Close()
		return nil, err
	}

	ticks := make(chan struct{}, 1)

	go func() {
		defer watcher.Close()
		defer close(ticks)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) {
					if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				select {
				case ticks <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Logger().Warn("workspace watcher error", "err", err)
			}
		}
	}()

	return ticks, nil
}
