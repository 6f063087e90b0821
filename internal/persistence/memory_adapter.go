package persistence

import (
	"sync"
	"time"

	"github.com/quicktabs/sync-core/internal/quicktab"
)

// MemoryAdapter is the session-local storage adapter: unlimited but
// non-persistent (it holds no durable backing store and never fires an
// external-change notification, since nothing outside this process can
// observe or mutate it). Used as the FileAdapter's quota-exceeded fallback
// and directly in tests.
type MemoryAdapter struct {
	mu         sync.Mutex
	containers map[string]ContainerSlice
	pending    *pendingSaves
	changes    chan ChangeNotification
}

// NewMemoryAdapter returns an empty, process-local adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		containers: make(map[string]ContainerSlice),
		pending:    newPendingSaves(),
		changes:    make(chan ChangeNotification),
	}
}

func (a *MemoryAdapter) Save(container string, tabs []*quicktab.QuickTab) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	plains := make([]quicktab.Plain, 0, len(tabs))
	for _, t := range tabs {
		plains = append(plains, t.Serialize())
	}
	a.containers[container] = ContainerSlice{Tabs: plains, LastUpdate: time.Now()}

	saveID := newSaveID()
	a.pending.add(saveID)
	return saveID, nil
}

func (a *MemoryAdapter) Load(container string) (*ContainerSlice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cs, ok := a.containers[container]
	if !ok {
		return nil, nil
	}
	return &cs, nil
}

func (a *MemoryAdapter) LoadAll() (map[string]ContainerSlice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]ContainerSlice, len(a.containers))
	for id, cs := range a.containers {
		out[id] = cs
	}
	return out, nil
}

func (a *MemoryAdapter) Delete(container, quickTabID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cs, ok := a.containers[container]
	if !ok {
		return nil
	}
	filtered := cs.Tabs[:0]
	for _, p := range cs.Tabs {
		if p.ID != quickTabID {
			filtered = append(filtered, p)
		}
	}
	a.containers[container] = ContainerSlice{Tabs: filtered, LastUpdate: time.Now()}
	return nil
}

func (a *MemoryAdapter) DeleteContainer(container string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.containers, container)
	return nil
}

func (a *MemoryAdapter) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.containers = make(map[string]ContainerSlice)
	return nil
}

// Changes never fires for MemoryAdapter: nothing outside this process can
// write to it.
func (a *MemoryAdapter) Changes() <-chan ChangeNotification { return a.changes }

func (a *MemoryAdapter) Close() error { return nil }
