package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/quicktabs/sync-core/internal/quicktab"
	"github.com/quicktabs/sync-core/internal/quicktaberr"
	"github.com/quicktabs/sync-core/internal/telemetry/logger"
)

// QuotaBytes is the advisory size limit the durable adapter enforces before
// falling back to an unlimited local store, matching the ~100KB budget of
// the real durable/cross-device storage backend (spec §4.3.1).
const QuotaBytes = 100 * 1024

// storedRoot is the on-disk v3 layout (spec §3.2).
type storedRoot struct {
	Containers map[string]rawContainer `json:"containers"`
	SaveID     string                  `json:"saveId"`
	Timestamp  time.Time               `json:"timestamp"`
}

// FileAdapter is the durable/cross-device storage adapter: a single JSON
// file holding storedRoot, watched via fsnotify so that a second OS process
// sharing the path observes external writes — the concrete stand-in for the
// browser storage backend's change-notification stream (spec §4.3.4) in a
// multi-process embedding of this module. Grounded on
// pkg/scheduler.JobStorage's full-rewrite-on-every-mutation discipline.
type FileAdapter struct {
	mu       sync.Mutex
	path     string
	log      *logger.Logger
	pending  *pendingSaves
	watcher  *fsnotify.Watcher
	changes  chan ChangeNotification
	fallback Adapter // installed by UseFallback; each Save that would exceed the quota delegates here
	onQuota  func()   // invoked on every Save that exceeds the quota while a fallback is installed
}

// NewFileAdapter opens (creating if absent) the JSON store at path.
func NewFileAdapter(path string, log *logger.Logger, onQuotaExceeded func()) (*FileAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	a := &FileAdapter{
		path:    path,
		log:     log,
		pending: newPendingSaves(),
		changes: make(chan ChangeNotification, 32),
		onQuota: onQuotaExceeded,
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	a.watcher = watcher
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	go a.watch()

	return a, nil
}

func (a *FileAdapter) watch() {
	for {
		select {
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(a.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			a.handleExternalWrite()
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			if a.log != nil {
				a.log.Warn("storage watcher error", zap.Error(err))
			}
		}
	}
}

func (a *FileAdapter) handleExternalWrite() {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return
	}

	var root storedRoot
	saveID := ""
	if json.Unmarshal(data, &root) == nil {
		saveID = root.SaveID
	}

	if saveID != "" && a.pending.consume(saveID) {
		// Own echo — suppressed, no storage:external-change emitted.
		return
	}

	containers := migrate(data, a.log)
	select {
	case a.changes <- ChangeNotification{SaveID: saveID, Containers: containers, Foreign: true}:
	default:
		if a.log != nil {
			a.log.Warn("dropping storage change notification: channel full")
		}
	}
}

// Save writes the full slice for container atomically, returning the fresh
// saveId. If the resulting payload would exceed QuotaBytes, Save falls back
// to the provided fallback adapter (set via UseFallback) and fires onQuota,
// once per such Save; data is not lost. Without a fallback it returns a
// QuotaExceeded error instead.
func (a *FileAdapter) Save(container string, tabs []*quicktab.QuickTab) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	root, err := a.readLocked()
	if err != nil {
		return "", err
	}

	plains := make([]quicktab.Plain, 0, len(tabs))
	for _, t := range tabs {
		plains = append(plains, t.Serialize())
	}
	root.Containers[container] = rawContainer{Tabs: plains, LastUpdate: time.Now()}

	saveID := newSaveID()
	root.SaveID = saveID
	root.Timestamp = time.Now()

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return "", err
	}

	if len(data) > QuotaBytes && a.fallback != nil {
		if a.onQuota != nil {
			a.onQuota()
		}
		return a.fallback.Save(container, tabs)
	}
	if len(data) > QuotaBytes {
		return "", quicktaberr.QuotaExceededf("store would exceed %d bytes", QuotaBytes)
	}

	if err := os.WriteFile(a.path, data, 0644); err != nil {
		return "", err
	}
	a.pending.add(saveID)
	return saveID, nil
}

// UseFallback installs a fallback adapter to absorb writes once the quota
// is exceeded (spec §4.3.1: SyncDisabled warning, no data loss).
func (a *FileAdapter) UseFallback(fallback Adapter) {
	a.mu.Lock()
	a.fallback = fallback
	a.mu.Unlock()
}

func (a *FileAdapter) readLocked() (storedRoot, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return storedRoot{Containers: map[string]rawContainer{}}, nil
		}
		return storedRoot{}, err
	}
	containers := migrate(data, a.log)
	root := storedRoot{Containers: make(map[string]rawContainer, len(containers))}
	for id, c := range containers {
		root.Containers[id] = rawContainer{Tabs: c.Tabs, LastUpdate: c.LastUpdate}
	}
	return root, nil
}

// Load returns only the specified container's slice, or nil if absent.
func (a *FileAdapter) Load(container string) (*ContainerSlice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	root, err := a.readLocked()
	if err != nil {
		return nil, err
	}
	rc, ok := root.Containers[container]
	if !ok {
		return nil, nil
	}
	return &ContainerSlice{Tabs: filterValid(rc.Tabs, a.log), LastUpdate: rc.LastUpdate}, nil
}

// LoadAll returns every container's slice.
func (a *FileAdapter) LoadAll() (map[string]ContainerSlice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	root, err := a.readLocked()
	if err != nil {
		return nil, err
	}
	out := make(map[string]ContainerSlice, len(root.Containers))
	for id, rc := range root.Containers {
		out[id] = ContainerSlice{Tabs: filterValid(rc.Tabs, a.log), LastUpdate: rc.LastUpdate}
	}
	return out, nil
}

// Delete removes a single Quick Tab from container's slice.
func (a *FileAdapter) Delete(container, quickTabID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	root, err := a.readLocked()
	if err != nil {
		return err
	}
	rc, ok := root.Containers[container]
	if !ok {
		return nil
	}
	filtered := rc.Tabs[:0]
	for _, p := range rc.Tabs {
		if p.ID != quickTabID {
			filtered = append(filtered, p)
		}
	}
	root.Containers[container] = rawContainer{Tabs: filtered, LastUpdate: time.Now()}
	return a.writeLocked(root)
}

// DeleteContainer removes an entire container's slice.
func (a *FileAdapter) DeleteContainer(container string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	root, err := a.readLocked()
	if err != nil {
		return err
	}
	delete(root.Containers, container)
	return a.writeLocked(root)
}

// Clear removes every container.
func (a *FileAdapter) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeLocked(storedRoot{Containers: map[string]rawContainer{}})
}

func (a *FileAdapter) writeLocked(root storedRoot) error {
	root.SaveID = newSaveID()
	root.Timestamp = time.Now()
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(a.path, data, 0644); err != nil {
		return err
	}
	a.pending.add(root.SaveID)
	return nil
}

// Changes returns the external-change notification channel.
func (a *FileAdapter) Changes() <-chan ChangeNotification { return a.changes }

// Close stops the background watcher.
func (a *FileAdapter) Close() error {
	if a.watcher != nil {
		return a.watcher.Close()
	}
	return nil
}
