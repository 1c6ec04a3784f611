package mapper

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the mapping file into the table whenever it changes, until
// the context is cancelled. The watcher observes the parent directory so
// editors that replace the file via rename are picked up too. A reload that
// fails to parse keeps the previous mapping.
func Watch(ctx context.Context, table *Table, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				m, err := LoadFile(path)
				if err != nil {
					logger.Warn("mapping reload failed, keeping previous mapping", "path", path, "error", err)
					continue
				}
				table.Replace(m)
				logger.Info("mapping reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("mapping watcher error", "error", err)
			}
		}
	}()
	return nil
}
