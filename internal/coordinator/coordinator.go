// Package coordinator wires the per-context glue described by spec.md §4.6:
// on a local operation, mutate the state store, persist, then publish; on an
// inbound replication message or a storage-change notification, reconcile
// the store.
//
// This is the thin sequencing layer the design notes call out as
// unavoidable "coroutine-style control flow": local mutation completes
// first, I/O follows. Persistence runs synchronously in the calling
// goroutine, so a local operation returns only after Save has returned. It owns no algorithm of its own — every
// decision is delegated to C2 (store), C3 (persistence), or C4 (bus).
package coordinator

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/quicktabs/sync-core/internal/bus"
	"github.com/quicktabs/sync-core/internal/persistence"
	"github.com/quicktabs/sync-core/internal/quicktab"
	"github.com/quicktabs/sync-core/internal/store"
	"github.com/quicktabs/sync-core/internal/telemetry/logger"
)

// Coordinator sequences one page context's store, storage adapter, and bus
// subscription for a single container. A privileged background context may
// run one Coordinator per container it manages; a page context runs exactly
// one, for its own container.
type Coordinator struct {
	container string
	contextID string
	store     *store.Store
	adapter   persistence.Adapter
	bus       *bus.Bus
	log       *logger.Logger

	sub *bus.Subscription
}

// New builds a Coordinator for container, wiring the bus subscription
// immediately (spec §4.4.1: "every page context opens exactly one channel
// for its container at startup").
func New(container, contextID string, st *store.Store, adapter persistence.Adapter, b *bus.Bus, log *logger.Logger) *Coordinator {
	c := &Coordinator{container: container, contextID: contextID, store: st, adapter: adapter, bus: b, log: log}
	c.sub = b.Subscribe(container, c.onReceive)
	return c
}

// Close tears down the bus subscription (spec §4.4.1: "... and closes it at
// teardown").
func (c *Coordinator) Close() {
	if c.sub != nil {
		c.sub.Close()
	}
}

// CreateLocal performs the full create flow: local mutation, persistence,
// publication (spec §4.6 steps 1-3).
func (c *Coordinator) CreateLocal(args quicktab.CreateArgs) (*quicktab.QuickTab, error) {
	q, err := quicktab.Create(args)
	if err != nil {
		return nil, err
	}
	c.store.Add(q)
	c.persist()
	c.publish(bus.OpCreate, bus.CreatePayload{
		ID: q.ID, URL: q.URL, Title: q.Title,
		Left: q.Position.Left, Top: q.Position.Top,
		Width: q.Size.Width, Height: q.Size.Height,
		Container: q.Container,
	})
	return q, nil
}

// UpdatePositionLocal mutates position, persists, and publishes.
func (c *Coordinator) UpdatePositionLocal(id string, left, top int) bool {
	var mutateErr error
	applied := c.store.Mutate(id, func(q *quicktab.QuickTab) {
		mutateErr = q.UpdatePosition(left, top)
	})
	if !applied || mutateErr != nil {
		return false
	}
	c.persist()
	c.publish(bus.OpUpdatePosition, bus.UpdatePositionPayload{ID: id, Left: left, Top: top})
	return true
}

// CloseLocal removes id, persists, and publishes CLOSE. A non-existent id is
// a no-op (spec §5).
func (c *Coordinator) CloseLocal(id string) {
	if !c.store.Delete(id) {
		return
	}
	c.persist()
	c.publish(bus.OpClose, bus.ClosePayload{ID: id})
}

func (c *Coordinator) persist() {
	if c.adapter == nil {
		return
	}
	tabs := c.store.GetContainer(c.container)
	if _, err := c.adapter.Save(c.container, tabs); err != nil && c.log != nil {
		c.log.Error("coordinator: persist failed", zap.String("container", c.container), zap.Error(err))
	}
}

func (c *Coordinator) publish(op bus.Op, payload interface{}) {
	if err := c.bus.Publish(c.container, c.sub.ID(), op, payload, c.contextID, ""); err != nil && c.log != nil {
		c.log.Warn("coordinator: publish failed", zap.String("op", string(op)), zap.Error(err))
	}
}

// onReceive is the bus Handler: applies a validated, non-self message to the
// local store (spec §4.6 step 4). CREATE is idempotent on id; an UPDATE on
// an unknown id is silently ignored (the entity may have been closed
// concurrently).
func (c *Coordinator) onReceive(r bus.Received) {
	switch r.Op {
	case bus.OpCreate:
		var p bus.CreatePayload
		if err := json.Unmarshal(r.Data, &p); err != nil {
			return
		}
		q, err := quicktab.Deserialize(quicktab.Plain{
			ID: p.ID, URL: p.URL, Title: p.Title,
			Left: p.Left, Top: p.Top, Width: p.Width, Height: p.Height,
			Container: p.Container,
		})
		if err != nil {
			return
		}
		c.store.Add(q)
	case bus.OpClose:
		var p bus.ClosePayload
		if json.Unmarshal(r.Data, &p) == nil {
			c.store.Delete(p.ID)
		}
	case bus.OpCloseAll:
		for _, t := range c.store.GetContainer(c.container) {
			c.store.Delete(t.ID)
		}
	case bus.OpCloseMinimized:
		for _, t := range c.store.GetContainer(c.container) {
			if t.Visibility.Minimized {
				c.store.Delete(t.ID)
			}
		}
	case bus.OpUpdatePosition:
		var p bus.UpdatePositionPayload
		if json.Unmarshal(r.Data, &p) == nil {
			c.store.Mutate(p.ID, func(q *quicktab.QuickTab) { _ = q.UpdatePosition(p.Left, p.Top) })
		}
	case bus.OpUpdateSize:
		var p bus.UpdateSizePayload
		if json.Unmarshal(r.Data, &p) == nil {
			c.store.Mutate(p.ID, func(q *quicktab.QuickTab) { _ = q.UpdateSize(p.Width, p.Height) })
		}
	case bus.OpUpdateMinimize:
		var p bus.UpdateMinimizePayload
		if json.Unmarshal(r.Data, &p) == nil {
			c.store.Mutate(p.ID, func(q *quicktab.QuickTab) { q.Minimize(p.Minimized) })
		}
	case bus.OpUpdateSolo:
		var p bus.UpdateSoloPayload
		if json.Unmarshal(r.Data, &p) == nil {
			c.store.Mutate(p.ID, func(q *quicktab.QuickTab) {
				ids := make([]quicktab.TabId, len(p.SoloedTabs))
				for i, v := range p.SoloedTabs {
					ids[i] = quicktab.TabId(v)
				}
				q.Solo(ids)
			})
		}
	case bus.OpUpdateMute:
		var p bus.UpdateMutePayload
		if json.Unmarshal(r.Data, &p) == nil {
			c.store.Mutate(p.ID, func(q *quicktab.QuickTab) {
				ids := make([]quicktab.TabId, len(p.MutedTabs))
				for i, v := range p.MutedTabs {
					ids[i] = quicktab.TabId(v)
				}
				q.Mute(ids)
			})
		}
	}
}

// Reconcile rehydrates the store from an externally-observed storage change
// (spec §4.6 step 5): entities newly absent are removed, entities newly
// present are added, by an atomic swap of this container's contents.
func (c *Coordinator) Reconcile(n persistence.ChangeNotification) {
	cs, ok := n.Containers[c.container]
	if !ok {
		c.store.Replace(c.container, nil)
		return
	}
	tabs := make([]*quicktab.QuickTab, 0, len(cs.Tabs))
	for _, p := range cs.Tabs {
		q, err := quicktab.Deserialize(p)
		if err != nil {
			if c.log != nil {
				c.log.Warn("coordinator: dropping corrupt entry during reconciliation", zap.String("id", p.ID), zap.Error(err))
			}
			continue
		}
		tabs = append(tabs, q)
	}
	c.store.Replace(c.container, tabs)
}

// Run watches adapter's change stream and reconciles on every foreign
// change, until stop is closed. Intended to run in its own goroutine.
func (c *Coordinator) Run(stop <-chan struct{}) {
	for {
		select {
		case n, open := <-c.adapter.Changes():
			if !open {
				return
			}
			if n.Foreign {
				c.Reconcile(n)
			}
		case <-stop:
			return
		}
	}
}
