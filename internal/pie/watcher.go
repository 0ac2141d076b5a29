// ABOUTME: Hot reload of pie config values from the values file
// ABOUTME: Watches the file's directory with fsnotify and debounces bursts of writes

package pie

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher applies the values file to the agent whenever it changes.
type Watcher struct {
	path     string
	agent    *Agent
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for the values file at path.
func NewWatcher(path string, agent *Agent, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		agent:    agent,
		logger:   logger.With("component", "watcher"),
		debounce: defaultDebounce,
	}
}

// Apply loads the values file once and pushes the values of every installed pie
// it names to the agent. Ids that are not installed are skipped.
func (w *Watcher) Apply(ctx context.Context) error {
	values, err := LoadConfigValues(w.path)
	if err != nil {
		return err
	}
	for id, v := range values {
		if _, ok := w.agent.Get(id); !ok {
			w.logger.Debug("config for pie that is not installed", "pie", id)
			continue
		}
		if err := w.agent.UpdateConfig(ctx, id, v); err != nil {
			w.logger.Warn("applying pie config failed", "pie", id, "error", err)
		}
	}
	return nil
}

// Run watches until ctx is done. Editors often replace files instead of writing
// them, so the directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching plugin config", "path", w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Apply(ctx); err != nil {
				w.logger.Warn("reloading plugin config failed", "error", err)
				continue
			}
			w.logger.Info("plugin config reloaded", "path", w.path)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}
