package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// DebugFlagFile enables debug logging while it exists.
const DebugFlagFile = "/tmp/.drm_cursor_debug"

// DebugFlagSet reports whether the debug flag file exists.
func DebugFlagSet(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WatchDebugFlag toggles debug level whenever path is created or removed.
// It blocks until ctx is done.
func WatchDebugFlag(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	name := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				SetDebug(true)
				Debug("debug logging enabled", "flag", path)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				Info("debug logging disabled", "flag", path)
				SetDebug(false)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			Warn("debug flag watcher", "error", err)
		}
	}
}
