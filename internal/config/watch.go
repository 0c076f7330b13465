package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch watches path for writes and sends a debounced signal on the returned
// channel each time the file settles after a change. Mirrors
// genesis/pkg/config/watcher.go's debounced fsnotify reload pattern: a rapid
// burst of writes (editors commonly truncate-then-write) collapses into one
// signal, 500ms after the last event.
func Watch(ctx context.Context, path string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	reload := make(chan struct{}, 1)

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		signal := func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, signal)

			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "config watcher error", "path", path, "error", watchErr)
			}
		}
	}()

	return reload, nil
}
