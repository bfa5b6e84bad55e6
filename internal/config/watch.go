package config

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Watcher reloads a config file when it changes. A file that fails to load
// is logged and the previous config stays current.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	log     *zap.Logger

	mu        sync.Mutex
	callbacks []func(*Config)

	stopCh chan struct{}
	done   chan struct{}
}

// NewWatcher starts watching path. initial is the config already loaded from it.
func NewWatcher(path string, initial *Config, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Errorf("watch %s: %v: %w", path, err, schema.ErrConfig)
	}
	// Watch the directory: editors replace the file, which drops a file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, errors.Errorf("watch %s: %v: %w", path, err, schema.ErrConfig)
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		log:     log,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.current.Store(initial)
	go w.watchLoop()
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnReload registers a callback run after each successful reload.
func (w *Watcher) OnReload(cb func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, cb)
	w.mu.Unlock()
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	select {
	case <-w.stopCh:
		return
	default:
		close(w.stopCh)
	}
	w.watcher.Close()
	<-w.done
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping previous", zap.String("path", w.path), zap.Error(err))
		return
	}
	cfg.DataDir = w.Current().DataDir
	w.current.Store(cfg)
	w.log.Info("config reloaded", zap.String("path", w.path))

	w.mu.Lock()
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
}
