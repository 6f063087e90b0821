package quicktab

import (
	"time"

	"github.com/quicktabs/sync-core/internal/quicktaberr"
)

// Plain is the lossless wire/storage representation of a QuickTab. It is the
// shape written by Serialize and accepted by Deserialize; the format
// migrator (internal/persistence) reads historical variants of this shape
// and always re-emits it.
type Plain struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Left        int    `json:"left"`
	Top         int    `json:"top"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Container   string `json:"container"`
	SoloedOnTabs []int `json:"soloedOnTabs,omitempty"`
	MutedOnTabs  []int `json:"mutedOnTabs,omitempty"`
	Minimized    bool  `json:"minimized,omitempty"`
	ZIndex       int   `json:"zIndex,omitempty"`
	CreatedAt    int64 `json:"createdAt,omitempty"` // unix millis
}

// Serialize produces the lossless plain representation of q.
func (q *QuickTab) Serialize() Plain {
	var createdAt int64
	if !q.CreatedAt.IsZero() {
		createdAt = q.CreatedAt.UnixMilli()
	}
	return Plain{
		ID:           q.ID,
		URL:          q.URL,
		Title:        q.Title,
		Left:         q.Position.Left,
		Top:          q.Position.Top,
		Width:        q.Size.Width,
		Height:       q.Size.Height,
		Container:    q.Container,
		SoloedOnTabs: setToSlice(q.Visibility.SoloedOnTabs),
		MutedOnTabs:  setToSlice(q.Visibility.MutedOnTabs),
		Minimized:    q.Visibility.Minimized,
		ZIndex:       q.ZIndex,
		CreatedAt:    createdAt,
	}
}

// Deserialize reconstructs a QuickTab from its plain representation,
// validating the required fields and supplying defaults for everything
// optional (visibility -> all-empty/false, zIndex -> 0). Entries whose id,
// position, or size fail validation return an error so the migrator can
// skip them without the whole load failing.
func Deserialize(p Plain) (*QuickTab, error) {
	if p.ID == "" {
		return nil, invalidPlain("id", p)
	}
	pos := Position{Left: p.Left, Top: p.Top}
	size := Size{Width: p.Width, Height: p.Height}
	if err := validatePosition(pos); err != nil {
		return nil, err
	}
	if err := validateSize(size); err != nil {
		return nil, err
	}
	if p.Container == "" {
		p.Container = "<default>"
	}

	createdAt := time.UnixMilli(p.CreatedAt)
	if p.CreatedAt == 0 {
		createdAt = time.Time{}
	}

	return &QuickTab{
		ID:        p.ID,
		URL:       p.URL,
		Title:     p.Title,
		Position:  pos,
		Size:      size,
		Container: p.Container,
		Visibility: Visibility{
			SoloedOnTabs: sliceToSet(p.SoloedOnTabs),
			MutedOnTabs:  sliceToSet(p.MutedOnTabs),
			Minimized:    p.Minimized,
		},
		ZIndex:    p.ZIndex,
		CreatedAt: createdAt,
	}, nil
}

func invalidPlain(field string, p Plain) error {
	return quicktaberr.InvalidArgumentf("invalid %s for entry %q", field, p.ID)
}

func setToSlice(set map[TabId]struct{}) []int {
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, int(id))
	}
	return out
}

func sliceToSet(ids []int) map[TabId]struct{} {
	out := make(map[TabId]struct{}, len(ids))
	for _, id := range ids {
		out[TabId(id)] = struct{}{}
	}
	return out
}
