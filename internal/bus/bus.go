// Package bus implements the replication channel (container-scoped pub/sub)
// that propagates state-mutation messages between peer page contexts.
//
// The hub/subscriber shape is adapted from the teacher repo's
// internal/server.Hub and MetricsHub: a registry of per-connection channels
// plus a broadcast fan-out, generalized here to a map of one hub per
// container so that isolation is enforced by the transport itself rather
// than by post-filtering.
package bus

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/quicktabs/sync-core/internal/telemetry/logger"
)

// Op identifies the kind of state mutation carried by a Message.
type Op string

const (
	OpCreate           Op = "CREATE"
	OpClose            Op = "CLOSE"
	OpCloseAll         Op = "CLOSE_ALL"
	OpCloseMinimized   Op = "CLOSE_MINIMIZED"
	OpUpdatePosition   Op = "UPDATE_POSITION"
	OpUpdateSize       Op = "UPDATE_SIZE"
	OpUpdateMinimize   Op = "UPDATE_MINIMIZE"
	OpUpdateSolo       Op = "UPDATE_SOLO"
	OpUpdateMute       Op = "UPDATE_MUTE"
	OpSettingsUpdated  Op = "SETTINGS_UPDATED"
)

// validOps is consulted by Validate; keeping it as a set avoids a long
// switch for what is, at heart, a membership test.
var validOps = map[Op]bool{
	OpCreate: true, OpClose: true, OpCloseAll: true, OpCloseMinimized: true,
	OpUpdatePosition: true, OpUpdateSize: true, OpUpdateMinimize: true,
	OpUpdateSolo: true, OpUpdateMute: true, OpSettingsUpdated: true,
}

// Message is the wire envelope published on a container channel.
type Message struct {
	Type    Op              `json:"type"`
	Data    json.RawMessage `json:"data"`
	Origin  string          `json:"origin"`
	TraceID string          `json:"traceId,omitempty"`
}

// Payload shapes, one per Op, carrying only the fields that Op's handler
// needs (spec table in the replication channel's message schema).
type CreatePayload struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	Left       int      `json:"left"`
	Top        int      `json:"top"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Container  string   `json:"container"`
	SoloedTabs []int    `json:"soloedOnTabs,omitempty"`
	MutedTabs  []int    `json:"mutedOnTabs,omitempty"`
}

type ClosePayload struct {
	ID string `json:"id"`
}

type EmptyPayload struct{}

type UpdatePositionPayload struct {
	ID   string `json:"id"`
	Left int    `json:"left"`
	Top  int    `json:"top"`
}

type UpdateSizePayload struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type UpdateMinimizePayload struct {
	ID        string `json:"id"`
	Minimized bool   `json:"minimized"`
}

type UpdateSoloPayload struct {
	ID         string `json:"id"`
	SoloedTabs []int  `json:"soloedOnTabs"`
}

type UpdateMutePayload struct {
	ID        string `json:"id"`
	MutedTabs []int  `json:"mutedOnTabs"`
}

// Received is delivered to a channel's subscribers: the message's op, origin
// and trace id, plus its data payload as raw JSON for the handler to decode.
type Received struct {
	Op      Op
	Data    json.RawMessage
	Origin  string
	TraceID string
}

// Handler is invoked for every validated, non-self message received on a
// channel. It must not block for long; the channel invokes it synchronously
// per message, mirroring the host transport's onmessage callback.
type Handler func(Received)

// channel is one container's subscriber set — the per-container analogue of
// the teacher's Hub, scoped to a single container identifier so that no
// cross-container delivery is structurally possible.
type channel struct {
	mu   sync.RWMutex
	subs map[int]Handler
	next int
}

func newChannel() *channel {
	return &channel{subs: make(map[int]Handler)}
}

func (c *channel) subscribe(h Handler) (id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id = c.next
	c.next++
	c.subs[id] = h
	return id
}

func (c *channel) unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

func (c *channel) fanOut(self int, r Received) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, h := range c.subs {
		if id == self {
			continue
		}
		h(r)
	}
}

// Bus is the process-wide replication channel registry: one channel per
// container, created lazily. It is a capability injected into each
// coordinator, never a package-level singleton (spec design note on global
// mutable state).
type Bus struct {
	mu         sync.RWMutex
	channels   map[string]*channel
	log        *logger.Logger
	invalidCnt int64
	recvCnt    int64
	cntMu      sync.Mutex
}

// New returns an empty Bus. log may be nil, in which case validation
// failures are not logged.
func New(log *logger.Logger) *Bus {
	return &Bus{channels: make(map[string]*channel), log: log}
}

func (b *Bus) channelFor(container string) *channel {
	b.mu.RLock()
	c, ok := b.channels[container]
	b.mu.RUnlock()
	if ok {
		return c
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.channels[container]; ok {
		return c
	}
	c = newChannel()
	b.channels[container] = c
	return c
}

// Subscription is a handle returned by Subscribe, used to later Close it.
type Subscription struct {
	bus       *Bus
	container string
	id        int
}

// ID returns the subscriber id this Subscription was registered under,
// passed as selfID to Publish so a coordinator's own publishes are excluded
// from its own fan-out (self-write suppression, spec §4.4.4).
func (s *Subscription) ID() int { return s.id }

// Close unsubscribes from the channel. Idempotent.
func (s *Subscription) Close() {
	s.bus.mu.RLock()
	c, ok := s.bus.channels[s.container]
	s.bus.mu.RUnlock()
	if ok {
		c.unsubscribe(s.id)
	}
}

// Subscribe opens this context's channel for container and registers h for
// every validated, non-self message delivered to it. Every page context is
// expected to call this exactly once per container at startup and Close the
// returned Subscription at teardown.
func (b *Bus) Subscribe(container string, h Handler) *Subscription {
	c := b.channelFor(container)
	id := c.subscribe(h)
	return &Subscription{bus: b, container: container, id: id}
}

// Publish validates msg against the schema, stamps origin, and fans it out
// to every other subscriber of container's channel. selfID identifies the
// publishing subscription so self-write suppression (§4.4.4) can exclude it
// without relying on payload equality.
func (b *Bus) Publish(container string, selfID int, op Op, data interface{}, origin, traceID string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg := Message{Type: op, Data: raw, Origin: origin, TraceID: traceID}
	if err := b.Validate(msg); err != nil {
		b.countInvalid()
		if b.log != nil {
			b.log.Warn("broadcast:invalid", zap.String("container", container), zap.String("op", string(op)), zap.Error(err))
		}
		return err
	}

	c := b.channelFor(container)
	c.fanOut(selfID, Received{Op: op, Data: raw, Origin: origin, TraceID: traceID})
	b.countReceived()
	return nil
}

// Validate checks msg against the schema (§4.4.2/4.4.3): a known op, a
// non-empty origin, a payload that decodes into the Op's declared payload
// type, and the required fields checked by requireFields (non-empty id, and
// for CREATE also url and container). Field values beyond those are not
// checked; this is the hard defense against structurally malformed peers,
// not a full schema validator.
func (b *Bus) Validate(msg Message) error {
	if !validOps[msg.Type] {
		return errInvalidOp(msg.Type)
	}
	if msg.Origin == "" {
		return errMissingOrigin
	}
	return validatePayloadShape(msg.Type, msg.Data)
}

func validatePayloadShape(op Op, data json.RawMessage) error {
	var target interface{}
	switch op {
	case OpCreate:
		target = &CreatePayload{}
	case OpClose:
		target = &ClosePayload{}
	case OpCloseAll, OpCloseMinimized:
		target = &EmptyPayload{}
	case OpUpdatePosition:
		target = &UpdatePositionPayload{}
	case OpUpdateSize:
		target = &UpdateSizePayload{}
	case OpUpdateMinimize:
		target = &UpdateMinimizePayload{}
	case OpUpdateSolo:
		target = &UpdateSoloPayload{}
	case OpUpdateMute:
		target = &UpdateMutePayload{}
	case OpSettingsUpdated:
		target = &EmptyPayload{}
	default:
		return errInvalidOp(op)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return err
	}
	return requireFields(op, target)
}

// requireFields checks the required-field subset the spec's payload table
// calls out (e.g. CREATE needs a non-empty id/container/url) beyond what a
// bare JSON decode can enforce.
func requireFields(op Op, target interface{}) error {
	switch p := target.(type) {
	case *CreatePayload:
		if p.ID == "" || p.URL == "" || p.Container == "" {
			return errMissingField(op)
		}
	case *ClosePayload:
		if p.ID == "" {
			return errMissingField(op)
		}
	case *UpdatePositionPayload:
		if p.ID == "" {
			return errMissingField(op)
		}
	case *UpdateSizePayload:
		if p.ID == "" {
			return errMissingField(op)
		}
	case *UpdateMinimizePayload:
		if p.ID == "" {
			return errMissingField(op)
		}
	case *UpdateSoloPayload:
		if p.ID == "" {
			return errMissingField(op)
		}
	case *UpdateMutePayload:
		if p.ID == "" {
			return errMissingField(op)
		}
	}
	return nil
}

func (b *Bus) countInvalid() {
	b.cntMu.Lock()
	b.invalidCnt++
	b.cntMu.Unlock()
}

func (b *Bus) countReceived() {
	b.cntMu.Lock()
	b.recvCnt++
	b.cntMu.Unlock()
}

// Stats returns the running counts of invalid and delivered messages, for
// the metrics layer to scrape.
func (b *Bus) Stats() (invalid, received int64) {
	b.cntMu.Lock()
	defer b.cntMu.Unlock()
	return b.invalidCnt, b.recvCnt
}
