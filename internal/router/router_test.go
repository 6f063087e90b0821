package router

import (
	"testing"

	"github.com/quicktabs/sync-core/internal/bus"
	"github.com/quicktabs/sync-core/internal/persistence"
	"github.com/quicktabs/sync-core/internal/quicktab"
)

const testIdentity = "quicktab-extension"

func newTestRouter() *Router {
	return New(Config{
		Identity: testIdentity,
		Adapter:  persistence.NewMemoryAdapter(),
		Bus:      bus.New(nil),
	})
}

func tabID(v int) *quicktab.TabId {
	id := quicktab.TabId(v)
	return &id
}

func TestUnauthorizedSenderRejected(t *testing.T) {
	r := newTestRouter()
	resp := r.Dispatch(Command{
		Op:             OpCreateQuickTab,
		SenderIdentity: "someone-else",
		Args: CreateArgs{
			URL: "https://example.com", Container: "default",
			Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 100, Height: 100},
		},
	})
	if resp.Success {
		t.Fatal("expected unauthorized rejection")
	}
	if resp.Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED code, got %q", resp.Code)
	}
}

func TestInvalidTabIDRejected(t *testing.T) {
	r := newTestRouter()
	resp := r.Dispatch(Command{
		Op:             OpSolo,
		SenderIdentity: testIdentity,
		TabID:          tabID(0),
		Args:           VisibilityArgs{ID: "whatever", TabID: 3},
	})
	if resp.Success {
		t.Fatal("expected rejection for invalid (zero) TabId")
	}
}

func TestCreateAndGetQuickTab(t *testing.T) {
	r := newTestRouter()
	createResp := r.Dispatch(Command{
		Op: OpCreateQuickTab, SenderIdentity: testIdentity,
		Args: CreateArgs{
			URL: "https://example.com", Container: "default",
			Position: quicktab.Position{Left: 100, Top: 100}, Size: quicktab.Size{Width: 800, Height: 600},
		},
	})
	if !createResp.Success {
		t.Fatalf("create failed: %+v", createResp)
	}
	plain := createResp.Data.(quicktab.Plain)

	getResp := r.Dispatch(Command{
		Op: OpGetQuickTab, SenderIdentity: testIdentity,
		Args: GetArgs{Container: "default", ID: plain.ID},
	})
	if !getResp.Success {
		t.Fatalf("get failed: %+v", getResp)
	}
}

func TestGetUnknownQuickTabReturnsNotFound(t *testing.T) {
	r := newTestRouter()
	resp := r.Dispatch(Command{
		Op: OpGetQuickTab, SenderIdentity: testIdentity,
		Args: GetArgs{Container: "default", ID: "nope"},
	})
	if resp.Success {
		t.Fatal("expected NotFound for unknown id")
	}
	if resp.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND code, got %q", resp.Code)
	}
}

func TestCloseTwiceIsNoop(t *testing.T) {
	r := newTestRouter()
	createResp := r.Dispatch(Command{
		Op: OpCreateQuickTab, SenderIdentity: testIdentity,
		Args: CreateArgs{
			URL: "https://example.com", Container: "default",
			Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 100, Height: 100},
		},
	})
	plain := createResp.Data.(quicktab.Plain)

	first := r.Dispatch(Command{Op: OpCloseQuickTab, SenderIdentity: testIdentity, Args: IDArgs{ID: plain.ID}})
	second := r.Dispatch(Command{Op: OpCloseQuickTab, SenderIdentity: testIdentity, Args: IDArgs{ID: plain.ID}})
	if !first.Success || !second.Success {
		t.Fatalf("expected both closes to succeed (idempotent), got %+v %+v", first, second)
	}
}

func TestPerContainerLimitEnforced(t *testing.T) {
	r := New(Config{
		Identity:                 testIdentity,
		Adapter:                  persistence.NewMemoryAdapter(),
		Bus:                      bus.New(nil),
		MaxQuickTabsPerContainer: 1,
	})

	args := CreateArgs{
		URL: "https://example.com", Container: "default",
		Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 100, Height: 100},
	}
	first := r.Dispatch(Command{Op: OpCreateQuickTab, SenderIdentity: testIdentity, Args: args})
	if !first.Success {
		t.Fatalf("first create should succeed: %+v", first)
	}
	second := r.Dispatch(Command{Op: OpCreateQuickTab, SenderIdentity: testIdentity, Args: args})
	if second.Success || second.Code != "LIMIT_REACHED" {
		t.Fatalf("expected LIMIT_REACHED on the second create, got %+v", second)
	}
}

func TestCloseMinimizedOnlyRemovesMinimized(t *testing.T) {
	r := newTestRouter()
	a := r.Dispatch(Command{
		Op: OpCreateQuickTab, SenderIdentity: testIdentity,
		Args: CreateArgs{
			URL: "https://a.example.com", Container: "default",
			Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 100, Height: 100},
		},
	}).Data.(quicktab.Plain)
	b := r.Dispatch(Command{
		Op: OpCreateQuickTab, SenderIdentity: testIdentity,
		Args: CreateArgs{
			URL: "https://b.example.com", Container: "default",
			Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 100, Height: 100},
		},
	}).Data.(quicktab.Plain)

	minResp := r.Dispatch(Command{Op: OpMinimize, SenderIdentity: testIdentity, Args: IDArgs{ID: a.ID}})
	if !minResp.Success {
		t.Fatalf("minimize failed: %+v", minResp)
	}

	closeResp := r.Dispatch(Command{Op: OpCloseMinimized, SenderIdentity: testIdentity, Args: ContainerArgs{Container: "default"}})
	if !closeResp.Success {
		t.Fatalf("close minimized failed: %+v", closeResp)
	}

	if r.Dispatch(Command{Op: OpGetQuickTab, SenderIdentity: testIdentity, Args: GetArgs{Container: "default", ID: a.ID}}).Success {
		t.Fatal("expected minimized quick tab to be removed")
	}
	if !r.Dispatch(Command{Op: OpGetQuickTab, SenderIdentity: testIdentity, Args: GetArgs{Container: "default", ID: b.ID}}).Success {
		t.Fatal("expected non-minimized quick tab to survive")
	}
}

func TestCloseAllIsIdempotent(t *testing.T) {
	r := newTestRouter()
	r.Dispatch(Command{
		Op: OpCreateQuickTab, SenderIdentity: testIdentity,
		Args: CreateArgs{
			URL: "https://example.com", Container: "default",
			Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 100, Height: 100},
		},
	})

	first := r.Dispatch(Command{Op: OpCloseAll, SenderIdentity: testIdentity, Args: ContainerArgs{Container: "default"}})
	second := r.Dispatch(Command{Op: OpCloseAll, SenderIdentity: testIdentity, Args: ContainerArgs{Container: "default"}})
	if !first.Success || !second.Success {
		t.Fatalf("expected both CLOSE_ALL calls to succeed, got %+v %+v", first, second)
	}
	if r.storeFor("default").Count() != 0 {
		t.Fatal("expected container to be empty after CLOSE_ALL")
	}
}

func TestMuteThenSoloMutualExclusionViaRouter(t *testing.T) {
	r := newTestRouter()
	createResp := r.Dispatch(Command{
		Op: OpCreateQuickTab, SenderIdentity: testIdentity,
		Args: CreateArgs{
			URL: "https://example.com", Container: "default",
			Position: quicktab.Position{Left: 0, Top: 0}, Size: quicktab.Size{Width: 100, Height: 100},
		},
	})
	plain := createResp.Data.(quicktab.Plain)

	muteResp := r.Dispatch(Command{Op: OpMute, SenderIdentity: testIdentity, Args: VisibilityArgs{ID: plain.ID, TabID: 7}})
	if !muteResp.Success {
		t.Fatalf("mute failed: %+v", muteResp)
	}
	soloResp := r.Dispatch(Command{Op: OpSolo, SenderIdentity: testIdentity, Args: VisibilityArgs{ID: plain.ID, TabID: 3}})
	if !soloResp.Success {
		t.Fatalf("solo failed: %+v", soloResp)
	}

	getResp := r.Dispatch(Command{Op: OpGetQuickTab, SenderIdentity: testIdentity, Args: GetArgs{Container: "default", ID: plain.ID}})
	got := getResp.Data.(quicktab.Plain)
	if len(got.MutedOnTabs) != 0 {
		t.Fatalf("expected mutedOnTabs cleared after solo, got %v", got.MutedOnTabs)
	}
	if len(got.SoloedOnTabs) != 1 || got.SoloedOnTabs[0] != 3 {
		t.Fatalf("expected soloedOnTabs=[3], got %v", got.SoloedOnTabs)
	}
}
