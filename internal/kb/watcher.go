package kb

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reindexDebounce = time.Second

// Watch re-indexes whenever a guideline file under the top-level directory
// changes. It blocks until ctx is done.
func (kb *KnowledgeBase) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create guidelines watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(kb.opts.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", kb.opts.Dir, err)
	}
	kb.logger.Info("Watching guidelines directory", "dir", kb.opts.Dir)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !shouldProcessEvent(event) {
				continue
			}
			kb.logger.V(1).Info("Guideline file changed", "file", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reindexDebounce)
			fire = timer.C

		case <-fire:
			fire = nil
			if _, err := kb.Reindex(ctx); err != nil {
				kb.logger.Error(err, "Failed to re-index guidelines")
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			kb.logger.Error(err, "Guidelines watcher error")
		}
	}
}

func shouldProcessEvent(event fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	if !Supported(event.Name) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}
