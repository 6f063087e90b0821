package store

import (
	"testing"

	"github.com/quicktabs/sync-core/internal/quicktab"
)

func mustCreate(t *testing.T, container string) *quicktab.QuickTab {
	t.Helper()
	q, err := quicktab.Create(quicktab.CreateArgs{
		URL:       "https://example.com",
		Position:  quicktab.Position{Left: 0, Top: 0},
		Size:      quicktab.Size{Width: 800, Height: 600},
		Container: container,
	})
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func TestAddIsIdempotentOnCollision(t *testing.T) {
	s := New()
	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })

	q := mustCreate(t, "default")
	s.Add(q)
	s.Add(q)

	if s.Count() != 1 {
		t.Fatalf("expected one entity, got %d", s.Count())
	}
	if len(events) != 2 || events[0].Kind != EventAdded || events[1].Kind != EventUpdated {
		t.Fatalf("expected added then updated, got %+v", events)
	}
}

func TestDeleteTwiceIsNoopSecondTime(t *testing.T) {
	s := New()
	q := mustCreate(t, "default")
	s.Add(q)

	if !s.Delete(q.ID) {
		t.Fatal("expected first delete to report removal")
	}
	if s.Delete(q.ID) {
		t.Fatal("expected second delete to be a no-op")
	}
	if s.Count() != 0 {
		t.Fatalf("expected empty store, got %d", s.Count())
	}
}

func TestContainerIsolationWithinSharedStore(t *testing.T) {
	s := New()
	s.Add(mustCreate(t, "default"))
	s.Add(mustCreate(t, "work"))

	if got := s.CountContainer("default"); got != 1 {
		t.Fatalf("expected 1 in default, got %d", got)
	}
	if got := s.CountContainer("work"); got != 1 {
		t.Fatalf("expected 1 in work, got %d", got)
	}
	for _, tab := range s.GetContainer("default") {
		if tab.Container != "default" {
			t.Fatalf("leaked entity from another container: %+v", tab)
		}
	}
}

func TestUpdateUnknownIdIsNoop(t *testing.T) {
	s := New()
	q := mustCreate(t, "default")
	if s.Update(q) {
		t.Fatal("expected update on unknown id to report false")
	}
	if s.Count() != 0 {
		t.Fatal("expected store untouched")
	}
}

func TestReplaceReconcilesContainer(t *testing.T) {
	s := New()
	stale := mustCreate(t, "default")
	s.Add(stale)
	fresh := mustCreate(t, "default")

	s.Replace("default", []*quicktab.QuickTab{fresh})

	if s.Get(stale.ID) != nil {
		t.Fatal("expected stale entity removed")
	}
	if s.Get(fresh.ID) == nil {
		t.Fatal("expected fresh entity present")
	}
}
