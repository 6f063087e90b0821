// Package settings watches the user-configuration root key and republishes
// SETTINGS_UPDATED to every container when it changes. Adapted from the
// teacher repo's pkg/config.Reloader: fsnotify watch on the containing
// directory (to survive atomic rename-based writes), a debounce timer so a
// burst of writes collapses into one reload, and an OnChange callback list
// notified off the watch goroutine.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/quicktabs/sync-core/internal/telemetry/logger"
)

// Settings is the subset of user configuration the core consumes (spec
// §6: "the core consumes only the maximum Quick-Tab count ... and a debug
// flag").
type Settings struct {
	MaxQuickTabs int  `yaml:"maxQuickTabs"`
	DebugLogging bool `yaml:"debugLogging"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (s *Settings) ApplyDefaults() {
	if s.MaxQuickTabs <= 0 {
		s.MaxQuickTabs = 50
	}
}

// ChangeCallback is notified with the new settings on every reload.
type ChangeCallback func(Settings)

// Watcher watches a settings file for changes and debounces reload
// notifications to registered callbacks.
type Watcher struct {
	path string
	log  *logger.Logger

	mu       sync.RWMutex
	current  Settings

	watcher *fsnotify.Watcher

	cbMu      sync.RWMutex
	callbacks []ChangeCallback

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceDelay time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Watcher for the settings file at path. It does not start
// watching until Start is called.
func New(path string, log *logger.Logger) *Watcher {
	return &Watcher{
		path:          path,
		log:           log,
		debounceDelay: 200 * time.Millisecond,
		stop:          make(chan struct{}),
	}
}

// OnChange registers callback to run (in its own goroutine) after every
// successful reload.
func (w *Watcher) OnChange(callback ChangeCallback) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Current returns the most recently loaded settings.
func (w *Watcher) Current() Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Load performs a synchronous initial load. A missing file yields defaults
// rather than an error, since settings are optional configuration.
func (w *Watcher) Load() error {
	cfg, err := w.readFile()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	return nil
}

// Start loads the initial settings and begins watching path's directory for
// changes (directory, not file, so atomic rename-based writes are caught).
func (w *Watcher) Start() error {
	if err := w.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: failed to create watcher: %w", err)
	}
	w.watcher = watcher

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return fmt.Errorf("settings: failed to ensure directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("settings: failed to watch directory: %w", err)
	}

	w.wg.Add(1)
	go w.watch()
	return nil
}

// Stop tears down the watcher and any pending debounce timer.
func (w *Watcher) Stop() {
	close(w.stop)
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("settings: watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.readFile()
	if err != nil {
		if w.log != nil {
			w.log.Warn("settings: reload failed, keeping previous settings", zap.Error(err))
		}
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.cbMu.RLock()
	callbacks := make([]ChangeCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.cbMu.RUnlock()

	for _, cb := range callbacks {
		go cb(cfg)
	}
}

func (w *Watcher) readFile() (Settings, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Settings{}
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return Settings{}, fmt.Errorf("settings: read failed: %w", err)
	}

	var cfg Settings
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("settings: parse failed: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
