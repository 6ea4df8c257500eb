package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/logger"
)

// reloadDelay coalesces the burst of events a single save produces.
const reloadDelay = 100 * time.Millisecond

// Watch reloads path whenever it changes and hands each valid Config to
// onChange. It returns nil once ctx is cancelled.
//
// An invalid file is logged and skipped, so the caller keeps whatever it
// applied last.
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(*Config)) error {
	log = logger.OrNop(log).With(zap.String("path", path))

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	log.Info("config: watching for changes")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Atomic saves show up as Create (or Rename of the old inode).
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.After(reloadDelay)
			}

		case <-pending:
			pending = nil
			// A replaced file drops the old watch.
			_ = w.Add(path)

			cfg, err := Load(path)
			if err != nil {
				log.Error("config: reload rejected, keeping previous config", zap.Error(err))
				continue
			}
			log.Info("config: reloaded")
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config: watcher error", zap.Error(err))
		}
	}
}
