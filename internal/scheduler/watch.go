// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zonelift/zonelift/internal/log"
)

// watchDebounce batches a burst of landing writes into one trigger. An
// extractor dropping twenty files should cause one pass, not twenty.
const watchDebounce = 10 * time.Second

// landingWatcher fires the callback when files settle in the landing zone.
type landingWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	fire     func()
	debounce time.Duration
}

func newLandingWatcher(projectRoot string, fire func()) (*landingWatcher, error) {
	landing := filepath.Join(projectRoot, "landing")
	if err := os.MkdirAll(landing, 0o750); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(landing); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	// Existing service dirs are watched too; new ones are added on create.
	entries, err := os.ReadDir(landing)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
				_ = watcher.Add(filepath.Join(landing, entry.Name()))
			}
		}
	}
	return &landingWatcher{watcher: watcher, root: landing, fire: fire, debounce: watchDebounce}, nil
}

func (w *landingWatcher) run(ctx context.Context) {
	logger := log.WithComponentFromContext(ctx, "scheduler")
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
					continue
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, w.fire)
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).
				Str("event", "scheduler.watch_error").
				Msg("landing watcher error")
		}
	}
}

func (w *landingWatcher) close() {
	_ = w.watcher.Close()
}
