package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events an editor produces on save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes each valid
// result to onChange. Files that fail to load are logged and skipped; the
// previous configuration stays in force. Watch blocks until ctx is done.
//
// Only settings read through onChange take effect without a restart: the
// server applies log_level and rate_limit.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer w.Close()

	// The directory is watched because editors often replace the file by
	// renaming a temporary one over it.
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			reload = time.After(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watch error", "error", err)
		case <-reload:
			reload = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config: reload rejected", "path", path, "error", err)
				continue
			}
			logger.Info("config: reloaded", "path", path)
			onChange(cfg)
		}
	}
}
