package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// BufferLimits are the buffer settings pushed to subscribers on reload
type BufferLimits struct {
	MaxSize       int
	FlushInterval time.Duration
}

// Watcher reloads the YAML overlay when it changes and pushes the new
// buffer limits to subscribers. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	base     Config
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.RWMutex
	current  *Config
	onChange []func(BufferLimits)

	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches the overlay file of base. base is the configuration as
// loaded from the environment; every reload is applied to a fresh copy.
func NewWatcher(base *Config, logger *zap.Logger) (*Watcher, error) {
	if base.ConfigFile == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Editors save by renaming over the file, so the directory is watched
	if err := fw.Add(filepath.Dir(base.ConfigFile)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	current := *base
	return &Watcher{
		path:     filepath.Clean(base.ConfigFile),
		base:     *base,
		watcher:  fw,
		logger:   logger,
		debounce: 100 * time.Millisecond,
		current:  &current,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Subscribe registers fn to receive buffer limits after every valid reload
func (w *Watcher) Subscribe(fn func(BufferLimits)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Current returns the configuration as of the last valid reload
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *w.current
}

// Start begins watching for configuration changes
func (w *Watcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.watchLoop()
	w.logger.Info("Configuration watcher started", zap.String("path", w.path))
}

// Stop stops watching and waits for the loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		if w.started.Load() {
			<-w.doneCh
		}
		w.logger.Info("Configuration watcher stopped")
	})
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

// reload applies the file to a copy of the base configuration
func (w *Watcher) reload() {
	fc, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("Failed to reload configuration", zap.Error(err))
		return
	}

	next := w.base
	fc.ApplyTo(&next)
	if err := next.Validate(); err != nil {
		w.logger.Error("Invalid configuration, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = &next
	subscribers := append([]func(BufferLimits){}, w.onChange...)
	w.mu.Unlock()

	limits := BufferLimits{MaxSize: next.BufferMaxSize, FlushInterval: next.BufferFlushInterval}
	w.logger.Info("Configuration reloaded",
		zap.Int("buffer_max_size", limits.MaxSize),
		zap.Duration("buffer_flush_interval", limits.FlushInterval),
		zap.Bool("limits_changed", prev.BufferMaxSize != next.BufferMaxSize || prev.BufferFlushInterval != next.BufferFlushInterval),
	)

	for _, fn := range subscribers {
		fn(limits)
	}
}
