package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchHotReload watches the custom document's directory for writes and
// re-runs Load on each one, logging and ignoring a reload that fails
// validation (the previously-loaded effective config stays in force).
// Grounded on the pack's fsnotify-based config watcher: watch the
// containing directory rather than the file itself, since editors and
// atomic renames often replace the inode rather than write in place.
func (m *Manager) WatchHotReload(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher
	dir := filepath.Dir(m.customPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

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
				if filepath.Clean(event.Name) != filepath.Clean(m.customPath) {
					continue
				}
				if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
					continue
				}
				if err := m.Load(ctx); err != nil {
					m.log.Error("hot-reload failed validation, keeping previous effective config", "error", err)
				} else {
					m.log.Info("configuration hot-reloaded", "path", m.customPath)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
