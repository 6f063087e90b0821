package main

import "sync"

// containerSet tracks every container id the daemon has seen a
// CREATE_QUICK_TAB command for, so the settings watcher knows where to
// broadcast SETTINGS_UPDATED. Containers named only by other commands are
// not recorded.
type containerSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func (c *containerSet) add(container string) {
	if container == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	c.seen[container] = struct{}{}
}

// Snapshot returns every known container id. Matches the settings.Watcher
// BroadcastTo containers callback signature.
func (c *containerSet) Snapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.seen))
	for id := range c.seen {
		out = append(out, id)
	}
	return out
}
