package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alanyoungcy/marketguard/internal/manipulation"
)

// ReloadListener observes the outcome of every reload attempt. err is nil
// when th was accepted.
type ReloadListener func(ctx context.Context, th manipulation.Thresholds, err error)

// Watcher hot-reloads the detection section of the config file. Writes are
// debounced; a file that fails to parse or validate leaves the holder on its
// last good thresholds.
type Watcher struct {
	path     string
	holder   *DetectionHolder
	level    *slog.LevelVar
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	listeners []ReloadListener
}

// NewWatcher creates a Watcher for the file at path. level may be nil; when
// set, log_level is reloaded as well.
func NewWatcher(path string, holder *DetectionHolder, level *slog.LevelVar, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(path),
		holder:   holder,
		level:    level,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "config_watcher")),
	}
}

// OnReload registers a listener.
func (w *Watcher) OnReload(fn ReloadListener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Run watches until ctx is cancelled. The parent directory is watched so
// that editors replacing the file by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", w.path, err)
	}
	w.logger.Info("config watcher started", slog.String("path", w.path))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			_ = w.Reload(ctx)
		}
	}
}

// Reload re-reads the file once and applies the detection section.
func (w *Watcher) Reload(ctx context.Context) error {
	cfg, err := LoadDetection(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping last good thresholds",
			slog.String("error", err.Error()),
			slog.Uint64("version", w.holder.Version()),
		)
		w.notify(ctx, w.holder.Current(), err)
		return err
	}

	if w.level != nil {
		w.level.Set(ParseLogLevel(cfg.LogLevel))
	}

	th, err := w.holder.Update(cfg.Detection)
	if err != nil {
		w.logger.Error("config reload rejected, keeping last good thresholds",
			slog.String("error", err.Error()),
			slog.Uint64("version", th.Version),
		)
		w.notify(ctx, th, err)
		return err
	}

	w.logger.Info("detection thresholds reloaded", slog.Uint64("version", th.Version))
	w.notify(ctx, th, nil)
	return nil
}

func (w *Watcher) notify(ctx context.Context, th manipulation.Thresholds, err error) {
	w.mu.Lock()
	ls := append([]ReloadListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, fn := range ls {
		fn(ctx, th, err)
	}
}
