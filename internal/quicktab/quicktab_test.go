package quicktab

import (
	"errors"
	"testing"

	"github.com/quicktabs/sync-core/internal/quicktaberr"
)

func validArgs() CreateArgs {
	return CreateArgs{
		URL:       "https://example.com",
		Position:  Position{Left: 100, Top: 100},
		Size:      Size{Width: 800, Height: 600},
		Container: "default",
	}
}

func TestCreateValidatesFields(t *testing.T) {
	t.Run("rejects empty url", func(t *testing.T) {
		args := validArgs()
		args.URL = ""
		if _, err := Create(args); quicktaberr.KindOf(err) != quicktaberr.KindInvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("rejects empty container", func(t *testing.T) {
		args := validArgs()
		args.Container = ""
		if _, err := Create(args); quicktaberr.KindOf(err) != quicktaberr.KindInvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		args := validArgs()
		args.Size = Size{Width: 0, Height: 600}
		if _, err := Create(args); quicktaberr.KindOf(err) != quicktaberr.KindInvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("accepts negative position", func(t *testing.T) {
		args := validArgs()
		args.Position = Position{Left: -50, Top: -1}
		q, err := Create(args)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if q.Position.Left != -50 {
			t.Fatalf("position not preserved: %+v", q.Position)
		}
	})
}

func TestSoloMuteMutualExclusion(t *testing.T) {
	q, err := Create(validArgs())
	if err != nil {
		t.Fatal(err)
	}
	q.Mute([]TabId{7})

	q.Solo([]TabId{3})

	if len(q.Visibility.MutedOnTabs) != 0 {
		t.Fatalf("expected mutedOnTabs cleared, got %v", q.Visibility.MutedOnTabs)
	}
	if _, ok := q.Visibility.SoloedOnTabs[3]; !ok {
		t.Fatalf("expected soloedOnTabs = {3}, got %v", q.Visibility.SoloedOnTabs)
	}

	if !q.ShouldBeVisible(3) {
		t.Errorf("tab 3 should be visible (soloed)")
	}
	if !q.ShouldBeVisible(7) {
		t.Errorf("tab 7 should be visible: solo set excludes it but V2 only restricts to the solo set")
	}
	if q.ShouldBeVisible(5) {
		t.Errorf("tab 5 should not be visible: outside the solo set")
	}
}

func TestDeadTabCleanup(t *testing.T) {
	q, err := Create(validArgs())
	if err != nil {
		t.Fatal(err)
	}
	q.Solo([]TabId{11, 12})

	q.CleanupDeadTabs(map[TabId]struct{}{12: {}})
	if _, ok := q.Visibility.SoloedOnTabs[11]; ok {
		t.Fatalf("expected tab 11 removed: %v", q.Visibility.SoloedOnTabs)
	}
	if len(q.Visibility.SoloedOnTabs) != 1 {
		t.Fatalf("expected exactly tab 12 remaining: %v", q.Visibility.SoloedOnTabs)
	}

	q.CleanupDeadTabs(map[TabId]struct{}{})
	if len(q.Visibility.SoloedOnTabs) != 0 {
		t.Fatalf("expected soloedOnTabs empty, got %v", q.Visibility.SoloedOnTabs)
	}
	if !q.ShouldBeVisible(99) {
		t.Errorf("expected globally visible once solo set empties")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	q, err := Create(CreateArgs{
		URL:       "https://example.com/a-long-title-page",
		Title:     "A reasonably long title for round trip coverage",
		Position:  Position{Left: -5, Top: 10001},
		Size:      Size{Width: 800, Height: 600},
		Container: "work",
	})
	if err != nil {
		t.Fatal(err)
	}
	q.Solo([]TabId{1, 2, 3})
	q.Minimize(true)
	q.ZIndex = 42

	plain := q.Serialize()
	got, err := Deserialize(plain)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if got.ID != q.ID || got.URL != q.URL || got.Title != q.Title {
		t.Fatalf("identity fields mismatch: %+v vs %+v", got, q)
	}
	if got.Position != q.Position || got.Size != q.Size || got.Container != q.Container {
		t.Fatalf("geometry mismatch: %+v vs %+v", got, q)
	}
	if got.Visibility.Minimized != q.Visibility.Minimized || got.ZIndex != q.ZIndex {
		t.Fatalf("visibility/zindex mismatch: %+v vs %+v", got, q)
	}
	if len(got.Visibility.SoloedOnTabs) != 3 {
		t.Fatalf("solo set not round-tripped: %v", got.Visibility.SoloedOnTabs)
	}
}

func TestDeserializeDefaultsMissingOptionalFields(t *testing.T) {
	got, err := Deserialize(Plain{
		ID:     "legacy1",
		URL:    "https://example.com",
		Left:   10,
		Top:    10,
		Width:  500,
		Height: 400,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Container != "<default>" {
		t.Fatalf("expected default container, got %q", got.Container)
	}
	if got.ZIndex != 0 || got.Visibility.Minimized {
		t.Fatalf("expected zero-value defaults, got %+v", got)
	}
	if len(got.Visibility.SoloedOnTabs) != 0 || len(got.Visibility.MutedOnTabs) != 0 {
		t.Fatalf("expected empty visibility sets")
	}
}

func TestDeserializeSkipsCorruptEntries(t *testing.T) {
	_, err := Deserialize(Plain{ID: "bad", Left: 0, Top: 0, Width: 0, Height: 0})
	if !errors.Is(err, quicktaberr.InvalidArgument("")) {
		t.Fatalf("expected an invalid-argument error, got %v", err)
	}
}
