package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// debounceWindow coalesces the bursts of write events editors emit when
// saving a file into one reload.
const debounceWindow = 300 * time.Millisecond

// Watcher watches config.yaml, policy.yaml, and the personas directory so
// persona/system-prompt edits take effect without a restart.
type Watcher struct {
	homeDir  string
	logger   *slog.Logger
	events   chan ReloadEvent
	debounce time.Duration
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir:  homeDir,
		logger:   logger,
		events:   make(chan ReloadEvent, 16),
		debounce: debounceWindow,
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Missing targets are tolerated; the personas dir in particular is
	// optional until the user creates it.
	for _, target := range []string{
		ConfigPath(w.homeDir),
		PolicyPath(w.homeDir),
		filepath.Join(w.homeDir, "personas"),
	} {
		_ = fsw.Add(target)
	}

	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	defer close(w.events)

	pending := make(map[string]fsnotify.Op)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if len(pending) == 0 {
				timer.Reset(w.debounce)
			}
			pending[ev.Name] |= ev.Op
		case <-timer.C:
			for path, op := range pending {
				select {
				case w.events <- ReloadEvent{Path: path, Op: op}:
					w.logger.Info("config file changed", "path", path, "op", op.String())
				default:
					w.logger.Warn("reload event dropped, channel full", "path", path)
				}
				delete(pending, path)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
