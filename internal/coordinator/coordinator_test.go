package coordinator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/quicktabs/sync-core/internal/bus"
	"github.com/quicktabs/sync-core/internal/persistence"
	"github.com/quicktabs/sync-core/internal/quicktab"
	"github.com/quicktabs/sync-core/internal/store"
)

func TestCreateLocalMutatesPersistsAndPublishes(t *testing.T) {
	b := bus.New(nil)
	adapterA := persistence.NewMemoryAdapter()
	storeA := store.New()
	coordA := New("default", "contextA", storeA, adapterA, b, nil)
	defer coordA.Close()

	storeB := store.New()
	coordB := New("default", "contextB", storeB, persistence.NewMemoryAdapter(), b, nil)
	defer coordB.Close()

	q, err := coordA.CreateLocal(quicktab.CreateArgs{
		URL: "https://example.com", Container: "default",
		Position: quicktab.Position{Left: 100, Top: 100}, Size: quicktab.Size{Width: 800, Height: 600},
	})
	if err != nil {
		t.Fatal(err)
	}

	if storeA.Get(q.ID) == nil {
		t.Fatal("expected local store to hold the new entity immediately")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if storeB.Get(q.ID) != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if storeB.Get(q.ID) == nil {
		t.Fatal("expected peer context to observe the created entity")
	}

	cs, err := adapterA.Load("default")
	if err != nil || cs == nil || len(cs.Tabs) != 1 {
		t.Fatalf("expected persisted entity, cs=%v err=%v", cs, err)
	}
}

func TestContainerIsolationAcrossCoordinators(t *testing.T) {
	b := bus.New(nil)
	storeDefault := store.New()
	coordDefault := New("default", "contextA", storeDefault, persistence.NewMemoryAdapter(), b, nil)
	defer coordDefault.Close()

	storeWork := store.New()
	coordWork := New("work", "contextC", storeWork, persistence.NewMemoryAdapter(), b, nil)
	defer coordWork.Close()

	_, err := coordDefault.CreateLocal(quicktab.CreateArgs{
		URL: "https://example.com", Container: "default",
		Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 100, Height: 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if storeWork.Count() != 0 {
		t.Fatalf("expected container work to observe nothing, got %d entities", storeWork.Count())
	}
}

func TestReceiveUpdateOnUnknownIDIsSilentlyIgnored(t *testing.T) {
	b := bus.New(nil)
	st := store.New()
	coord := New("default", "contextB", st, persistence.NewMemoryAdapter(), b, nil)
	defer coord.Close()

	coord.onReceive(bus.Received{
		Op:     bus.OpUpdatePosition,
		Data:   mustMarshal(bus.UpdatePositionPayload{ID: "unknown", Left: 5, Top: 5}),
		Origin: "contextA",
	})

	if st.Get("unknown") != nil {
		t.Fatal("update on unknown id must not create an entity")
	}
}

func TestReconcileRemovesAndAddsEntities(t *testing.T) {
	b := bus.New(nil)
	st := store.New()
	coord := New("default", "contextA", st, persistence.NewMemoryAdapter(), b, nil)
	defer coord.Close()

	stale, _ := quicktab.Create(quicktab.CreateArgs{
		URL: "https://stale.example", Container: "default",
		Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 10, Height: 10},
	})
	st.Add(stale)

	fresh := quicktab.Plain{ID: "fresh1", URL: "https://fresh.example", Left: 1, Top: 1, Width: 50, Height: 50, Container: "default"}

	coord.Reconcile(persistence.ChangeNotification{
		Foreign: true,
		Containers: map[string]persistence.ContainerSlice{
			"default": {Tabs: []quicktab.Plain{fresh}},
		},
	})

	if st.Get(stale.ID) != nil {
		t.Fatal("expected stale entity to be removed on reconcile")
	}
	if st.Get("fresh1") == nil {
		t.Fatal("expected fresh entity to be present after reconcile")
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
