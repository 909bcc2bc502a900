package alias

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LoadPoolFile reads a newline-delimited pool file.
func LoadPoolFile(path string) (Pool, error) {
	b, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		return nil, err
	}
	return ParsePool(string(b)), nil
}

// WatchPoolFile reloads path whenever it changes and hands the new pool to fn.
// Bursts of events are debounced. Running sessions keep the pool they started
// with; fn decides what the next session uses. The watcher stops with ctx.
func WatchPoolFile(ctx context.Context, path string, fn func(Pool)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer func() { _ = w.Close() }()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				// editors that save via rename drop the watch
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Warn("alias pool watch re-add failed", slog.String("path", ev.Name), slog.Any("err", err), slog.String("component", "alias"))
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				pool, err := LoadPoolFile(path)
				if err != nil {
					slog.Warn("alias pool reload failed", slog.String("path", path), slog.Any("err", err), slog.String("component", "alias"))
					continue
				}
				slog.Info("alias pool reloaded", slog.String("path", path), slog.Int("entries", len(pool)), slog.String("component", "alias"))
				fn(pool)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("alias pool watch error", slog.Any("err", err), slog.String("component", "alias"))
			}
		}
	}()
	return nil
}
