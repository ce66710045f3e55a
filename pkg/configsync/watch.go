package configsync

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/illumination-k/forgectl/pkg/logging"
)

// DefaultDebounce batches the burst of events an editor save produces
const DefaultDebounce = 300 * time.Millisecond

// ChangeHandler receives the outcome of each re-sync triggered by Watch
type ChangeHandler func(changes []Change, err error)

// Watch re-runs SyncValues whenever config.yaml changes until ctx is cancelled.
// The parent directory is watched so editors that replace the file are seen too.
func (s *Synchronizer) Watch(ctx context.Context, debounce time.Duration, onChange ChangeHandler) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(s.paths.ConfigFile)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	fmt.Fprintf(s.out, "👀 Watching %s for changes (Ctrl+C to stop)...\n", target)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("configsync", "event %s on %s", event.Op, event.Name)

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			changes, err := s.SyncValues()
			if err != nil {
				logging.Warn("configsync", "re-sync failed: %v", err)
			}
			if onChange != nil {
				onChange(changes, err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("configsync", "watcher error: %v", err)
		}
	}
}
