package hub

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cardlab/tabletop-sync-backend/internal/lobby"
)

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())

	lb1 := h.Ensure("table1")
	lb2 := h.Get("table1")

	if lb1 == nil || lb2 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}
	if lb1.ID() != "table1" {
		t.Fatalf("lobby id: want table1, got %q", lb1.ID())
	}
}

func TestHub_GetMissingIsNil(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())
	if lb := h.Get("nope"); lb != nil {
		t.Fatalf("expected nil for unknown lobby")
	}
}

func TestHub_EmptiedLobbyIsRemovedAndRecreatedFresh(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())

	lb := h.Ensure("table1")
	out := make(chan []byte, 16)
	lb.Send(lobby.Join{ConnID: "c1", PlayerID: "alice", Outbox: out})

	// last member leaves: the lobby shuts down and reports itself empty
	lb.Send(lobby.Leave{ConnID: "c1"})

	deadline := time.After(2 * time.Second)
	for h.Get("table1") == lb {
		select {
		case <-deadline:
			t.Fatalf("emptied lobby never removed from registry")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// a recreated lobby is a fresh actor with empty state
	lb2 := h.Ensure("table1")
	if lb2 == lb {
		t.Fatalf("expected a fresh lobby after removal")
	}
	view, ok := lb2.View()
	if !ok {
		t.Fatalf("fresh lobby not running")
	}
	if view.NumConns != 0 || len(view.Members) != 0 {
		t.Fatalf("recreated lobby not empty: %+v", view)
	}
}

func TestHub_ShutdownStopsLobbies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(ctx, zap.NewNop())
	lb := h.Ensure("table1")

	h.Inbox() <- ShutdownHub{}

	deadline := time.After(2 * time.Second)
	for lb.Send(lobby.GetView{Reply: make(chan lobby.View, 1)}) {
		select {
		case <-deadline:
			t.Fatalf("lobby still accepting messages after hub shutdown")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
