package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 250 * time.Millisecond

// FsWatcher is the subset of fsnotify.Watcher the reloader uses.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// LevelReloader applies logging.log_level from the config file to a
// running process whenever the file changes. Only the level is hot:
// every other setting requires a restart.
type LevelReloader struct {
	path     string
	level    *slog.LevelVar
	lookup   LookupFunc
	logger   *slog.Logger
	onReload func(ok bool)
	debounce time.Duration
}

// NewLevelReloader creates a reloader for the file at path.
func NewLevelReloader(path string, level *slog.LevelVar, lookup LookupFunc, logger *slog.Logger, onReload func(ok bool)) *LevelReloader {
	if logger == nil {
		logger = slog.Default()
	}

	return &LevelReloader{
		path:     path,
		level:    level,
		lookup:   lookup,
		logger:   logger,
		onReload: onReload,
		debounce: reloadDebounce,
	}
}

// Reload re-reads the file and applies its log level. On any error the
// current level is kept.
func (r *LevelReloader) Reload() error {
	err := r.reload()

	if r.onReload != nil {
		r.onReload(err == nil)
	}

	return err
}

func (r *LevelReloader) reload() error {
	cfg, err := Load(r.path, r.lookup)
	if err != nil {
		return err
	}

	level, err := ParseLevel(cfg.Logging.LogLevel)
	if err != nil {
		return fmt.Errorf("logging.log_level: %w", err)
	}

	if old := r.level.Level(); old != level {
		r.level.Set(level)
		r.logger.Info("log level changed",
			slog.String("from", old.String()),
			slog.String("to", level.String()),
		)
	}

	return nil
}

// Watch blocks until ctx is done, reloading after each change to the
// file. The directory is watched rather than the file so that editors
// replacing the file by rename are seen.
func (r *LevelReloader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}

	return r.watch(ctx, fsnotifyWatcher{w: w})
}

func (r *LevelReloader) watch(ctx context.Context, w FsWatcher) error {
	defer w.Close()

	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("config: watching %s: %w", r.path, err)
	}

	target := filepath.Clean(r.path)

	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}

			pending = time.After(r.debounce)

		case werr, ok := <-w.Errors():
			if !ok {
				return nil
			}

			r.logger.Warn("config watcher error", slog.String("error", werr.Error()))

		case <-pending:
			pending = nil

			if err := r.Reload(); err != nil {
				r.logger.Warn("config reload failed, keeping current log level",
					slog.String("path", r.path),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
