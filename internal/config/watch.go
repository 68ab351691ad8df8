package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchList re-reads the list file at path whenever it is written or
// replaced and passes the new contents to onChange. The parent directory is
// watched so that editors which rename over the file are picked up. WatchList
// returns once the watcher is running; it stops when ctx is done.
func WatchList(ctx context.Context, path string, onChange func([]string), logger *slog.Logger) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	logger.Info("Watching list file", "file", abs)
	go watchLoop(ctx, watcher, abs, onChange, logger)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, onChange func([]string), logger *slog.Logger) {
	defer func() { _ = watcher.Close() }()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			logger.Debug("List file changed",
				"file", filepath.Base(event.Name),
				"op", event.Op.String(),
			)
			items, err := ReadList(path)
			if err != nil {
				logger.Error("Failed to reload list file", "file", path, "error", err)
				continue
			}
			onChange(items)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("File watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}
