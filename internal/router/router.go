// Package router implements the command router (C5): the privileged
// background-context dispatcher that authorizes callers, validates
// payloads, executes mutations through the state store and persistence
// layer, then publishes the result through the replication channel.
//
// The handler table and structured {success, ...}/{success:false, error,
// code} response shape are adapted from the teacher repo's
// pkg/distributed.Master HTTP dispatch (coordinator.go): one handler per
// operation, auth middleware in front, errors returned as values rather than
// propagated as panics/exceptions out of the dispatch loop.
package router

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quicktabs/sync-core/internal/bus"
	"github.com/quicktabs/sync-core/internal/persistence"
	"github.com/quicktabs/sync-core/internal/quicktab"
	"github.com/quicktabs/sync-core/internal/quicktaberr"
	"github.com/quicktabs/sync-core/internal/store"
	"github.com/quicktabs/sync-core/internal/telemetry/logger"
	"github.com/quicktabs/sync-core/internal/telemetry/metrics"
)

// Op names an operation from the command table (spec.md §4.5.1).
type Op string

const (
	OpCreateQuickTab   Op = "CREATE_QUICK_TAB"
	OpCloseQuickTab    Op = "CLOSE_QUICK_TAB"
	OpCloseAll         Op = "CLOSE_ALL"
	OpCloseMinimized   Op = "CLOSE_MINIMIZED"
	OpUpdatePosition   Op = "UPDATE_POSITION"
	OpUpdateSize       Op = "UPDATE_SIZE"
	OpMinimize         Op = "MINIMIZE"
	OpRestore          Op = "RESTORE"
	OpSolo             Op = "SOLO"
	OpUnsolo           Op = "UNSOLO"
	OpMute             Op = "MUTE"
	OpUnmute           Op = "UNMUTE"
	OpGetQuickTabs     Op = "GET_QUICK_TABS"
	OpGetQuickTab      Op = "GET_QUICK_TAB"
	OpCleanupDeadTabs  Op = "CLEANUP_DEAD_TABS"
)

// CreateArgs is the payload for OpCreateQuickTab.
type CreateArgs struct {
	URL       string
	Title     string
	Position  quicktab.Position
	Size      quicktab.Size
	Container string
}

// IDArgs carries only a target id, used by CLOSE/MINIMIZE/RESTORE.
type IDArgs struct {
	ID string
}

// PositionArgs is the payload for OpUpdatePosition.
type PositionArgs struct {
	ID         string
	Left, Top  int
}

// SizeArgs is the payload for OpUpdateSize.
type SizeArgs struct {
	ID            string
	Width, Height int
}

// VisibilityArgs is the payload for SOLO/UNSOLO/MUTE/UNMUTE: a single tabId
// is added to or removed from the entity's solo/mute set.
type VisibilityArgs struct {
	ID    string
	TabID quicktab.TabId
}

// ContainerArgs is the payload for CLOSE_ALL/CLOSE_MINIMIZED: both are
// scoped to a single container, matching the data model's replication
// partition (spec §3.1).
type ContainerArgs struct {
	Container string
}

// GetArgs is the payload for GET_QUICK_TABS (ID empty) / GET_QUICK_TAB.
type GetArgs struct {
	Container string
	ID        string
}

// CleanupArgs is the payload for CLEANUP_DEAD_TABS.
type CleanupArgs struct {
	Container  string
	AliveTabIDs []quicktab.TabId
}

// Command is one inbound request to the router.
type Command struct {
	Op Op
	// SenderIdentity must match the router's configured identity (spec
	// §4.5.2: "sender identity (must be this extension)").
	SenderIdentity string
	// TabID identifies the sending page context; nil for commands that
	// originate from the host platform itself (e.g. CLEANUP_DEAD_TABS).
	TabID *quicktab.TabId
	Args  interface{}
}

// Response is the structured result every Dispatch call returns. Errors
// never escape Dispatch as panics/exceptions — every failure mode is
// encoded here (spec §4.5.3).
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func ok(data interface{}) Response         { return Response{Success: true, Data: data} }
func fail(err error) Response {
	return Response{Success: false, Error: err.Error(), Code: quicktaberr.Code(err)}
}
func failCode(code, msg string) Response {
	return Response{Success: false, Error: msg, Code: code}
}

// Config configures a Router.
type Config struct {
	Identity  string
	Adapter   persistence.Adapter
	Bus       *bus.Bus
	Log       *logger.Logger
	// MaxQuickTabsPerContainer is an advisory, per-container limit (spec
	// §9 open question, resolved per-container). Zero means unlimited.
	MaxQuickTabsPerContainer int
	// Limiter guards the whole dispatch loop against a runaway sender;
	// nil disables rate limiting.
	Limiter *rate.Limiter
	// Metrics receives operational counters; nil disables instrumentation.
	Metrics *metrics.Collector
}

// Router is the background-context command dispatcher.
type Router struct {
	identity string
	adapter  persistence.Adapter
	bus      *bus.Bus
	log      *logger.Logger
	maxPerContainer int
	limiter  *rate.Limiter
	metrics  *metrics.Collector

	mu      sync.Mutex
	stores  map[string]*store.Store // container -> authoritative C2 for this context
}

// New builds a Router from cfg.
func New(cfg Config) *Router {
	return &Router{
		identity:        cfg.Identity,
		adapter:         cfg.Adapter,
		bus:             cfg.Bus,
		log:             cfg.Log,
		maxPerContainer: cfg.MaxQuickTabsPerContainer,
		limiter:         cfg.Limiter,
		metrics:         cfg.Metrics,
		stores:          make(map[string]*store.Store),
	}
}

func (r *Router) storeFor(container string) *store.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[container]
	if !ok {
		s = store.New()
		r.stores[container] = s
	}
	return s
}

// noSubscriber is the selfID passed to Bus.Publish: the router never holds a
// bus subscription of its own, so no real subscriber id can equal it.
const noSubscriber = -1

// Dispatch authorizes, executes, and publishes cmd, returning a structured
// Response. It never panics on a malformed or unauthorized command — the bad
// command is rejected as a value, and dispatch continues to accept further
// commands (spec §4.5.3: "one bad command must not kill the router").
func (r *Router) Dispatch(cmd Command) Response {
	if r.limiter != nil && !r.limiter.Allow() {
		if r.metrics != nil {
			r.metrics.RateLimited.Inc()
		}
		return failCode("RATE_LIMITED", "too many commands")
	}
	if err := r.authorize(cmd); err != nil {
		if r.log != nil {
			r.log.Warn("router: rejected unauthorized command", zap.String("op", string(cmd.Op)))
		}
		return fail(err)
	}

	switch cmd.Op {
	case OpCreateQuickTab:
		return r.handleCreate(cmd)
	case OpCloseQuickTab:
		return r.handleClose(cmd)
	case OpCloseAll:
		return r.handleCloseAll(cmd)
	case OpCloseMinimized:
		return r.handleCloseMinimized(cmd)
	case OpUpdatePosition:
		return r.handleUpdatePosition(cmd)
	case OpUpdateSize:
		return r.handleUpdateSize(cmd)
	case OpMinimize:
		return r.handleMinimize(cmd, true)
	case OpRestore:
		return r.handleMinimize(cmd, false)
	case OpSolo:
		return r.handleVisibility(cmd, bus.OpUpdateSolo)
	case OpUnsolo:
		return r.handleVisibility(cmd, bus.OpUpdateSolo)
	case OpMute:
		return r.handleVisibility(cmd, bus.OpUpdateMute)
	case OpUnmute:
		return r.handleVisibility(cmd, bus.OpUpdateMute)
	case OpGetQuickTabs:
		return r.handleGetQuickTabs(cmd)
	case OpGetQuickTab:
		return r.handleGetQuickTab(cmd)
	case OpCleanupDeadTabs:
		return r.handleCleanup(cmd)
	default:
		return failCode("UNKNOWN_ACTION", "unknown action")
	}
}

func (r *Router) authorize(cmd Command) error {
	if cmd.SenderIdentity != r.identity {
		return quicktaberr.Unauthorizedf("sender identity %q is not this extension", cmd.SenderIdentity)
	}
	if cmd.TabID != nil && *cmd.TabID <= 0 {
		return quicktaberr.Unauthorizedf("invalid TabId")
	}
	return nil
}

func (r *Router) handleCreate(cmd Command) Response {
	args, valid := cmd.Args.(CreateArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad CREATE_QUICK_TAB args")
	}

	s := r.storeFor(args.Container)
	if r.maxPerContainer > 0 && s.CountContainer(args.Container) >= r.maxPerContainer {
		return failCode("LIMIT_REACHED", "container quick tab limit reached")
	}

	q, err := quicktab.Create(quicktab.CreateArgs{
		URL: args.URL, Title: args.Title, Position: args.Position,
		Size: args.Size, Container: args.Container,
	})
	if err != nil {
		return fail(err)
	}

	s.Add(q)
	r.persistContainer(args.Container, s)
	r.publish(args.Container, bus.OpCreate, bus.CreatePayload{
		ID: q.ID, URL: q.URL, Title: q.Title,
		Left: q.Position.Left, Top: q.Position.Top,
		Width: q.Size.Width, Height: q.Size.Height,
		Container: q.Container,
	}, cmd)

	return ok(q.Serialize())
}

func (r *Router) handleClose(cmd Command) Response {
	args, valid := cmd.Args.(IDArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad CLOSE_QUICK_TAB args")
	}
	container, s, found := r.findContainer(args.ID)
	if !found {
		// CLOSE on a non-existent id is a no-op, per spec §5.
		return ok(nil)
	}
	s.Delete(args.ID)
	r.persistContainer(container, s)
	r.publish(container, bus.OpClose, bus.ClosePayload{ID: args.ID}, cmd)
	return ok(nil)
}

// handleCloseAll is idempotent: closing an already-empty container is not an
// error (spec §5: "CLOSE_ALL ... idempotent").
func (r *Router) handleCloseAll(cmd Command) Response {
	args, valid := cmd.Args.(ContainerArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad CLOSE_ALL args")
	}
	s := r.storeFor(args.Container)
	for _, t := range s.GetContainer(args.Container) {
		s.Delete(t.ID)
	}
	r.persistContainer(args.Container, s)
	r.publish(args.Container, bus.OpCloseAll, bus.EmptyPayload{}, cmd)
	return ok(nil)
}

// handleCloseMinimized removes only the entities currently minimized in
// args.Container. Visibility is derived (V2), so minimized state is read
// directly off the stored entity rather than recomputed per-viewer.
func (r *Router) handleCloseMinimized(cmd Command) Response {
	args, valid := cmd.Args.(ContainerArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad CLOSE_MINIMIZED args")
	}
	s := r.storeFor(args.Container)
	for _, t := range s.GetContainer(args.Container) {
		if t.Visibility.Minimized {
			s.Delete(t.ID)
		}
	}
	r.persistContainer(args.Container, s)
	r.publish(args.Container, bus.OpCloseMinimized, bus.EmptyPayload{}, cmd)
	return ok(nil)
}

func (r *Router) handleUpdatePosition(cmd Command) Response {
	args, valid := cmd.Args.(PositionArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad UPDATE_POSITION args")
	}
	container, s, found := r.findContainer(args.ID)
	if !found {
		// NotFound on UPDATE is benign: treated as a no-op (spec §7).
		return ok(nil)
	}
	var mutateErr error
	s.Mutate(args.ID, func(q *quicktab.QuickTab) {
		mutateErr = q.UpdatePosition(args.Left, args.Top)
	})
	if mutateErr != nil {
		return fail(mutateErr)
	}
	r.persistContainer(container, s)
	r.publish(container, bus.OpUpdatePosition, bus.UpdatePositionPayload{ID: args.ID, Left: args.Left, Top: args.Top}, cmd)
	return ok(nil)
}

func (r *Router) handleUpdateSize(cmd Command) Response {
	args, valid := cmd.Args.(SizeArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad UPDATE_SIZE args")
	}
	container, s, found := r.findContainer(args.ID)
	if !found {
		return ok(nil)
	}
	var mutateErr error
	s.Mutate(args.ID, func(q *quicktab.QuickTab) {
		mutateErr = q.UpdateSize(args.Width, args.Height)
	})
	if mutateErr != nil {
		return fail(mutateErr)
	}
	r.persistContainer(container, s)
	r.publish(container, bus.OpUpdateSize, bus.UpdateSizePayload{ID: args.ID, Width: args.Width, Height: args.Height}, cmd)
	return ok(nil)
}

func (r *Router) handleMinimize(cmd Command, minimized bool) Response {
	args, valid := cmd.Args.(IDArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad MINIMIZE/RESTORE args")
	}
	container, s, found := r.findContainer(args.ID)
	if !found {
		return ok(nil)
	}
	s.Mutate(args.ID, func(q *quicktab.QuickTab) { q.Minimize(minimized) })
	r.persistContainer(container, s)
	r.publish(container, bus.OpUpdateMinimize, bus.UpdateMinimizePayload{ID: args.ID, Minimized: minimized}, cmd)
	return ok(nil)
}

func (r *Router) handleVisibility(cmd Command, op bus.Op) Response {
	args, valid := cmd.Args.(VisibilityArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad visibility args")
	}
	container, s, found := r.findContainer(args.ID)
	if !found {
		return ok(nil)
	}

	var solo, mute []int
	s.Mutate(args.ID, func(q *quicktab.QuickTab) {
		switch cmd.Op {
		case OpSolo:
			q.AddSolo(args.TabID)
		case OpUnsolo:
			q.RemoveSolo(args.TabID)
		case OpMute:
			q.AddMute(args.TabID)
		case OpUnmute:
			q.RemoveMute(args.TabID)
		}
		solo = setToInts(q.Visibility.SoloedOnTabs)
		mute = setToInts(q.Visibility.MutedOnTabs)
	})
	r.persistContainer(container, s)

	if op == bus.OpUpdateSolo {
		r.publish(container, bus.OpUpdateSolo, bus.UpdateSoloPayload{ID: args.ID, SoloedTabs: solo}, cmd)
	} else {
		r.publish(container, bus.OpUpdateMute, bus.UpdateMutePayload{ID: args.ID, MutedTabs: mute}, cmd)
	}
	return ok(nil)
}

func (r *Router) handleGetQuickTabs(cmd Command) Response {
	args, valid := cmd.Args.(GetArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad GET_QUICK_TABS args")
	}
	s := r.storeFor(args.Container)
	tabs := s.GetContainer(args.Container)
	plains := make([]quicktab.Plain, 0, len(tabs))
	for _, t := range tabs {
		plains = append(plains, t.Serialize())
	}
	return ok(plains)
}

func (r *Router) handleGetQuickTab(cmd Command) Response {
	args, valid := cmd.Args.(GetArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad GET_QUICK_TAB args")
	}
	_, s, found := r.findContainer(args.ID)
	if !found {
		return fail(quicktaberr.NotFoundf("quick tab %q not found", args.ID))
	}
	return ok(s.Get(args.ID).Serialize())
}

func (r *Router) handleCleanup(cmd Command) Response {
	args, valid := cmd.Args.(CleanupArgs)
	if !valid {
		return failCode("INVALID_ARGUMENT", "bad CLEANUP_DEAD_TABS args")
	}
	alive := make(map[quicktab.TabId]struct{}, len(args.AliveTabIDs))
	for _, id := range args.AliveTabIDs {
		alive[id] = struct{}{}
	}

	s := r.storeFor(args.Container)
	changed := 0
	for _, t := range s.GetContainer(args.Container) {
		id := t.ID
		var solo, mute []int
		s.Mutate(id, func(q *quicktab.QuickTab) {
			q.CleanupDeadTabs(alive)
			solo = setToInts(q.Visibility.SoloedOnTabs)
			mute = setToInts(q.Visibility.MutedOnTabs)
		})
		r.publish(args.Container, bus.OpUpdateSolo, bus.UpdateSoloPayload{ID: id, SoloedTabs: solo}, cmd)
		r.publish(args.Container, bus.OpUpdateMute, bus.UpdateMutePayload{ID: id, MutedTabs: mute}, cmd)
		changed++
	}
	r.persistContainer(args.Container, s)
	return ok(map[string]int{"updated": changed})
}

func (r *Router) findContainer(id string) (container string, s *store.Store, found bool) {
	r.mu.Lock()
	stores := make([]*store.Store, 0, len(r.stores))
	containers := make([]string, 0, len(r.stores))
	for c, st := range r.stores {
		stores = append(stores, st)
		containers = append(containers, c)
	}
	r.mu.Unlock()

	for i, st := range stores {
		if st.Get(id) != nil {
			return containers[i], st, true
		}
	}
	return "", nil, false
}

func (r *Router) persistContainer(container string, s *store.Store) {
	tabs := s.GetContainer(container)
	if r.metrics != nil {
		r.metrics.QuickTabsActive.WithLabelValues(container).Set(float64(len(tabs)))
	}
	if r.adapter == nil {
		return
	}
	start := time.Now()
	_, err := r.adapter.Save(container, tabs)
	if r.metrics != nil {
		r.metrics.SaveLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil && r.log != nil {
		r.log.Error("router: persist failed", zap.String("container", container), zap.Error(err))
	}
}

func (r *Router) publish(container string, op bus.Op, payload interface{}, cmd Command) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(container, noSubscriber, op, payload, r.identity, ""); err != nil && r.log != nil {
		r.log.Warn("router: publish failed", zap.String("container", container), zap.String("op", string(op)), zap.Error(err))
	}
}

func setToInts(set map[quicktab.TabId]struct{}) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, int(id))
	}
	return out
}
