// Package persistence implements the storage adapters over a durable
// key-value store, the format migrator that reads any of the three
// historical on-disk layouts, and the save-id bookkeeping that lets a writer
// recognize and suppress its own change notifications.
//
// Grounded on pkg/scheduler.JobStorage in the teacher repo: a mutex-guarded
// in-memory mirror of a JSON file, rewritten in full on every mutation.
package persistence

import (
	"time"

	"github.com/quicktabs/sync-core/internal/quicktab"
)

// RootKey is the storage key the adapters read and write under, per spec §3.2.
const RootKey = "quick_tabs_state_v2"

// ContainerSlice is one container's stored payload.
type ContainerSlice struct {
	Tabs       []quicktab.Plain `json:"tabs"`
	LastUpdate time.Time        `json:"lastUpdate"`
}

// ChangeNotification is what Adapter implementations deliver on their
// change channel: the parsed containers after a write was observed,
// together with the saveId that produced it so callers can apply the
// self-write suppression rule (spec §4.3.2) themselves if they hold their
// own pendingSaves bookkeeping, or rely on the Adapter's built-in one.
type ChangeNotification struct {
	SaveID     string
	Containers map[string]ContainerSlice
	Foreign    bool // true for every delivered notification; self-echoes are dropped before delivery
}

// Adapter is the capability-level contract over a durable key-value store.
type Adapter interface {
	// Save writes the full container slice atomically under RootKey and
	// returns a fresh saveId.
	Save(container string, tabs []*quicktab.QuickTab) (saveID string, err error)

	// Load returns only the specified container's slice. Never reveals
	// another container's data.
	Load(container string) (*ContainerSlice, error)

	// LoadAll returns every container's slice.
	LoadAll() (map[string]ContainerSlice, error)

	Delete(container, quickTabID string) error
	DeleteContainer(container string) error
	Clear() error

	// Changes returns the channel of external-change notifications. The
	// adapter's own echoes (saveId present in pendingSaves) are filtered
	// out before reaching this channel — see saveid.go.
	Changes() <-chan ChangeNotification

	// Close releases any background watchers.
	Close() error
}
