// Package quicktab holds the Quick Tab domain entity and its visibility
// algebra. Every method here is pure with respect to I/O: no method talks to
// storage or the bus, and none emits events — callers (the store, the
// coordinator) own that responsibility.
package quicktab

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/quicktabs/sync-core/internal/quicktaberr"
)

// TabId is a host-assigned integer identifying a page context. Not durable
// across a browser restart.
type TabId int

// Position is a CSS-pixel top-left anchor. May be negative.
type Position struct {
	Left int `json:"left"`
	Top  int `json:"top"`
}

// Size is a CSS-pixel width/height. Must be strictly positive.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Visibility holds the per-context visibility controls described by
// invariants V1/V2. SoloedOnTabs and MutedOnTabs are mutually exclusive.
type Visibility struct {
	SoloedOnTabs map[TabId]struct{} `json:"-"`
	MutedOnTabs  map[TabId]struct{} `json:"-"`
	Minimized    bool               `json:"minimized"`
}

// QuickTab is the unit of replication: a floating window anchored to a page
// context, replicated to peer contexts within the same container.
type QuickTab struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Position   Position
	Size       Size
	Container  string `json:"container"`
	Visibility Visibility
	ZIndex     int       `json:"zIndex"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateArgs are the validated inputs to Create.
type CreateArgs struct {
	URL       string
	Title     string
	Position  Position
	Size      Size
	Container string
}

// NewID mints a fresh globally-unique Quick Tab identifier.
func NewID() string {
	return uuid.NewString()
}

// Create returns a new QuickTab with validated fields, or an
// InvalidArgument error. The id is generated here; callers never supply one.
func Create(args CreateArgs) (*QuickTab, error) {
	if args.URL == "" {
		return nil, quicktaberr.InvalidArgument("url must not be empty")
	}
	if args.Container == "" {
		return nil, quicktaberr.InvalidArgument("container must not be empty")
	}
	if err := validatePosition(args.Position); err != nil {
		return nil, err
	}
	if err := validateSize(args.Size); err != nil {
		return nil, err
	}

	return &QuickTab{
		ID:        NewID(),
		URL:       args.URL,
		Title:     args.Title,
		Position:  args.Position,
		Size:      args.Size,
		Container: args.Container,
		Visibility: Visibility{
			SoloedOnTabs: map[TabId]struct{}{},
			MutedOnTabs:  map[TabId]struct{}{},
		},
		CreatedAt: time.Now(),
	}, nil
}

func validatePosition(p Position) error {
	if math.IsNaN(float64(p.Left)) || math.IsInf(float64(p.Left), 0) {
		return quicktaberr.InvalidArgument("position.left must be finite")
	}
	if math.IsNaN(float64(p.Top)) || math.IsInf(float64(p.Top), 0) {
		return quicktaberr.InvalidArgument("position.top must be finite")
	}
	return nil
}

func validateSize(s Size) error {
	if s.Width <= 0 || s.Height <= 0 {
		return quicktaberr.InvalidArgument("size must be positive")
	}
	return nil
}

// UpdatePosition replaces the position field in place, rejecting non-finite
// values. Idempotent: replaying the same (left, top) is a no-op in effect.
func (q *QuickTab) UpdatePosition(left, top int) error {
	p := Position{Left: left, Top: top}
	if err := validatePosition(p); err != nil {
		return err
	}
	q.Position = p
	return nil
}

// UpdateSize replaces the size field in place, rejecting non-positive values.
func (q *QuickTab) UpdateSize(width, height int) error {
	s := Size{Width: width, Height: height}
	if err := validateSize(s); err != nil {
		return err
	}
	q.Size = s
	return nil
}

// Solo sets soloedOnTabs and atomically clears mutedOnTabs, preserving V1.
func (q *QuickTab) Solo(tabIDs []TabId) {
	q.Visibility.MutedOnTabs = map[TabId]struct{}{}
	q.Visibility.SoloedOnTabs = toSet(tabIDs)
}

// Mute sets mutedOnTabs and atomically clears soloedOnTabs, preserving V1.
func (q *QuickTab) Mute(tabIDs []TabId) {
	q.Visibility.SoloedOnTabs = map[TabId]struct{}{}
	q.Visibility.MutedOnTabs = toSet(tabIDs)
}

// AddSolo adds tabID to soloedOnTabs, atomically clearing mutedOnTabs if this
// is the transition that first makes soloedOnTabs non-empty (preserves V1).
// Used by the per-tab SOLO command, as distinct from Solo which replaces the
// whole set.
func (q *QuickTab) AddSolo(tabID TabId) {
	if len(q.Visibility.SoloedOnTabs) == 0 {
		q.Visibility.MutedOnTabs = map[TabId]struct{}{}
	}
	if q.Visibility.SoloedOnTabs == nil {
		q.Visibility.SoloedOnTabs = map[TabId]struct{}{}
	}
	q.Visibility.SoloedOnTabs[tabID] = struct{}{}
}

// RemoveSolo removes tabID from soloedOnTabs (UNSOLO). If the set becomes
// empty the entity reverts to globally visible per V2, with no special
// casing required since ShouldBeVisible already treats an empty set as
// "no solo restriction".
func (q *QuickTab) RemoveSolo(tabID TabId) {
	delete(q.Visibility.SoloedOnTabs, tabID)
}

// AddMute is the mute-side counterpart of AddSolo.
func (q *QuickTab) AddMute(tabID TabId) {
	if len(q.Visibility.MutedOnTabs) == 0 {
		q.Visibility.SoloedOnTabs = map[TabId]struct{}{}
	}
	if q.Visibility.MutedOnTabs == nil {
		q.Visibility.MutedOnTabs = map[TabId]struct{}{}
	}
	q.Visibility.MutedOnTabs[tabID] = struct{}{}
}

// RemoveMute is the mute-side counterpart of RemoveSolo (UNMUTE).
func (q *QuickTab) RemoveMute(tabID TabId) {
	delete(q.Visibility.MutedOnTabs, tabID)
}

// Minimize sets the minimized flag.
func (q *QuickTab) Minimize(minimized bool) {
	q.Visibility.Minimized = minimized
}

// CleanupDeadTabs intersects soloedOnTabs and mutedOnTabs with aliveSet,
// dropping any TabId that no longer refers to a live page context.
func (q *QuickTab) CleanupDeadTabs(aliveSet map[TabId]struct{}) {
	q.Visibility.SoloedOnTabs = intersect(q.Visibility.SoloedOnTabs, aliveSet)
	q.Visibility.MutedOnTabs = intersect(q.Visibility.MutedOnTabs, aliveSet)
}

// ShouldBeVisible derives visibility for currentTabId per invariant V2. It
// is a pure function of q.Visibility and currentTabId; nothing is stored.
func (q *QuickTab) ShouldBeVisible(currentTabId TabId) bool {
	if q.Visibility.Minimized {
		return false
	}
	if len(q.Visibility.SoloedOnTabs) > 0 {
		_, ok := q.Visibility.SoloedOnTabs[currentTabId]
		return ok
	}
	if len(q.Visibility.MutedOnTabs) > 0 {
		_, ok := q.Visibility.MutedOnTabs[currentTabId]
		return !ok
	}
	return true
}

// Clone returns a deep copy, used by the store so mutations by one caller
// never alias another caller's view of the same entity.
func (q *QuickTab) Clone() *QuickTab {
	c := *q
	c.Visibility.SoloedOnTabs = cloneSet(q.Visibility.SoloedOnTabs)
	c.Visibility.MutedOnTabs = cloneSet(q.Visibility.MutedOnTabs)
	return &c
}

func toSet(ids []TabId) map[TabId]struct{} {
	set := make(map[TabId]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func cloneSet(set map[TabId]struct{}) map[TabId]struct{} {
	out := make(map[TabId]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}

func intersect(set, alive map[TabId]struct{}) map[TabId]struct{} {
	out := make(map[TabId]struct{}, len(set))
	for id := range set {
		if _, ok := alive[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
