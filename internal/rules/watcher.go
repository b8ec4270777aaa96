package rules

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultReloadDebounce = 300 * time.Millisecond

// Reloader serves the current rules and swaps in a new Engine when the rules
// file changes. A file that fails to parse leaves the previous rules active.
type Reloader struct {
	path      string
	loopLimit int
	debounced func(f func())
	logger    *zap.Logger

	current atomic.Pointer[Engine]
}

// NewReloader loads path once. Load errors are returned as from NewEngine.
func NewReloader(path string, loopLimit int, logger *zap.Logger) (*Reloader, error) {
	engine, err := NewEngine(path, loopLimit)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reloader{
		path:      path,
		loopLimit: loopLimit,
		debounced: debounce.New(defaultReloadDebounce),
		logger:    logger,
	}
	r.current.Store(engine)
	return r, nil
}

// Apply implements ports.Normalizer with the most recently loaded rules.
func (r *Reloader) Apply(text string) (string, error) {
	return r.current.Load().Apply(text)
}

// Len returns the number of active rules.
func (r *Reloader) Len() int {
	return r.current.Load().Len()
}

// Reload re-reads the rules file.
func (r *Reloader) Reload() error {
	engine, err := NewEngine(r.path, r.loopLimit)
	if err != nil {
		r.logger.Warn("keeping previous rules", zap.String("path", r.path), zap.Error(err))
		return err
	}
	r.current.Store(engine)
	r.logger.Info("rules reloaded", zap.String("path", r.path), zap.Int("rules", engine.Len()))
	return nil
}

// Watch reloads the rules whenever the file is written, replaced or removed,
// until ctx is done. The parent directory is watched so editors that save by
// rename are picked up.
func (r *Reloader) Watch(ctx context.Context) error {
	if strings.TrimSpace(r.path) == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		r.logger.Debug("rules directory not watchable", zap.String("dir", dir), zap.Error(err))
		<-ctx.Done()
		return nil
	}

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug("rules file changed", zap.String("op", event.Op.String()))
			r.debounced(func() {
				if ctx.Err() == nil {
					_ = r.Reload()
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("rules watcher error", zap.Error(err))
		}
	}
}
