package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses the burst of events editors emit on save.
var debounce = 250 * time.Millisecond

// Watch reloads the config file whenever it changes and calls fn with the
// result, until ctx is cancelled. Decode failures are passed to fn and the
// previous configuration stays in effect for the caller to keep.
func (l *Loader) Watch(ctx context.Context, fn func(*Config, error)) error {
	file := l.File()
	if file == "" {
		return errors.New("no config file to watch")
	}
	file, err := filepath.Abs(file)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// The directory is watched so renames by editors are seen.
	if err := w.Add(filepath.Dir(file)); err != nil {
		return fmt.Errorf("watch %s: %w", file, err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != file || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := l.v.ReadInConfig(); err != nil {
				fn(nil, fmt.Errorf("read config: %w", err))
				continue
			}
			cfg, err := l.decode()
			fn(cfg, err)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
