package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"quorum/internal/logger"
)

// Watcher holds the current immutable *Config snapshot and swaps it
// when the file on disk changes. Consumers call Snapshot at the start
// of a unit of work and use that pointer throughout; a reload never
// mutates a snapshot already handed out.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	onSwap  []func(*Config)
}

func NewWatcher(path string, initial *Config) *Watcher {
	w := &Watcher{path: path}
	w.current.Store(initial)
	return w
}

// Snapshot returns the currently active config. Never nil after construction.
func (w *Watcher) Snapshot() *Config {
	return w.current.Load()
}

// OnSwap registers a callback invoked with each freshly loaded config.
// Must be called before Run.
func (w *Watcher) OnSwap(fn func(*Config)) {
	if fn != nil {
		w.onSwap = append(w.onSwap, fn)
	}
}

// Run watches the config file until ctx is done. Editors replace files
// rather than writing in place, so both Write and Create (and Rename on
// the parent dir) count as a change; a short debounce absorbs the
// multi-event bursts they produce.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(w.path)
	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			logger.Errorf("config reload failed, keeping previous snapshot: %v", err)
			return
		}
		w.current.Store(cfg)
		logger.Infof("config reloaded from %s", w.path)
		for _, fn := range w.onSwap {
			fn(cfg)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}
