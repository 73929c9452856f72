package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent reports a change to the settings file.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher emits a ReloadEvent whenever the settings file is written,
// created, or replaced.
type Watcher struct {
	path   string
	logger *slog.Logger
	events chan ReloadEvent
}

// NewWatcher creates a watcher for the settings file at path.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:   filepath.Clean(path),
		logger: logger,
		events: make(chan ReloadEvent, 16),
	}
}

// Events returns the reload channel. It is closed when the watcher stops.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching until ctx is cancelled.
//
// The parent directory is watched rather than the file itself: editors and
// Save replace the file, which would drop a direct watch.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != w.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
