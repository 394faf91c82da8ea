package registry

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/trilogyctl/internal/config"
)

// DebounceInterval is the quiet period after a file event before rediscovery.
const DebounceInterval = 100 * time.Millisecond

// Watch rediscovers configs whenever a trilogy.toml file below any root is
// created, written, removed or renamed. It blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, root := range r.roots {
		if err := watchDirRecursive(watcher, root); err != nil {
			r.logger.Error("failed to watch workspace root", "root", root, "error", err)
			// Don't fail - continue with the remaining roots
		}
	}

	var (
		timerMu       sync.Mutex
		debounceTimer *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Create != 0 && isNewDir(event.Name) {
				if err := watchDirRecursive(watcher, event.Name); err != nil {
					r.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
				}
				// A directory may arrive with config files already inside.
			} else if !isConfigEvent(event) {
				continue
			}

			timerMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(DebounceInterval, func() {
				if ctx.Err() != nil {
					return
				}
				r.logger.Debug("config changed, re-discovering", "file", name)
				r.Discover(ctx)
			})
			timerMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("watcher error", "error", err)
		}
	}
}

func isConfigEvent(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != config.FileName {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func isNewDir(path string) bool {
	if IsSkippedDir(filepath.Base(path)) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && IsSkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}
