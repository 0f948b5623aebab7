package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TokenRefresher re-reads the gateway auth token from disk. Satisfied
// by the lifecycle controller.
type TokenRefresher interface {
	RefreshToken()
}

// WatchConfig follows the gateway config file and refreshes the cached
// auth token when the file changes. The parent directory is watched so
// atomic rename-into-place writes are seen too. Blocks until ctx is
// cancelled.
func WatchConfig(ctx context.Context, configPath string, gw TokenRefresher) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(configPath)
	if err := w.Add(dir); err != nil {
		return err
	}
	slog.Info("watching gateway config", "path", configPath)

	// Editors and atomic writers fire bursts of events; coalesce them.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(configPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(500 * time.Millisecond)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watch error", "error", err)
		case <-pending:
			pending = nil
			slog.Debug("gateway config changed, refreshing token")
			gw.RefreshToken()
		}
	}
}
