package persistence

import (
	cryptorand "crypto/rand"
	"fmt"
	"sync"
	"time"
)

// pendingTTL is how long a saveId is remembered before eviction. The spec
// calls for "a fixed TTL (~5s)"; the teacher's WorkerInfo.IsHealthy uses the
// same order-of-magnitude window (30s) for its own liveness check, scaled
// down here because storage round-trips are local and fast.
const pendingTTL = 5 * time.Second

// pendingSaves tracks saveIds this adapter instance produced, so the
// adapter can recognize its own echo when the storage backend's change
// stream reports the write back. This is the sole mechanism preventing a
// self-sync loop between the storage-change path and the bus-republish
// path (spec §4.3.2).
type pendingSaves struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func newPendingSaves() *pendingSaves {
	return &pendingSaves{expires: make(map[string]time.Time)}
}

// add records id, scheduling its own eviction after pendingTTL.
func (p *pendingSaves) add(id string) {
	p.mu.Lock()
	p.expires[id] = time.Now().Add(pendingTTL)
	p.mu.Unlock()

	time.AfterFunc(pendingTTL, func() {
		p.mu.Lock()
		delete(p.expires, id)
		p.mu.Unlock()
	})
}

// consume reports whether id is a known self-write, removing it so a
// second, distinct notification carrying the same id (which should not
// happen, but would indicate a replayed echo) is not silently swallowed.
func (p *pendingSaves) consume(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.expires[id]
	if ok {
		delete(p.expires, id)
	}
	return ok
}

// newSaveID mints a saveId drawn from timestamp-random, per spec §4.3.2.
func newSaveID() string {
	var b [8]byte
	_, _ = cryptorand.Read(b[:])
	return fmt.Sprintf("%d-%x", time.Now().UnixNano(), b)
}
