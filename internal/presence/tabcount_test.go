package presence

import (
	"context"
	"testing"
	"time"

	"flowroom/internal/models"
	"flowroom/internal/realtime"
)

func TestRefreshTabCount_CountsFreshTabs(t *testing.T) {
	env := setupTest(t)
	h1 := env.open(t, "u1", "r1")
	env.open(t, "u1", "r2")

	if err := h1.RefreshTabCount(context.Background()); err != nil {
		t.Fatalf("RefreshTabCount failed: %v", err)
	}

	tc, err := env.registrar.TabCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TabCount failed: %v", err)
	}
	if tc.Count != 2 {
		t.Errorf("Got count %d, want 2", tc.Count)
	}
}

func TestRefreshTabCount_ReapsStaleTabsAndTheirRooms(t *testing.T) {
	env := setupTest(t)
	h1 := env.open(t, "u1", "r1")

	// h1's tab record ages past the threshold; h2 opens fresh afterwards.
	env.clock.Advance(80 * time.Second)
	h2 := env.open(t, "u1", "r2")

	if err := h2.RefreshTabCount(context.Background()); err != nil {
		t.Fatalf("RefreshTabCount failed: %v", err)
	}

	tc, err := env.registrar.TabCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TabCount failed: %v", err)
	}
	if tc.Count != 1 {
		t.Errorf("Got count %d, want 1", tc.Count)
	}

	var tab models.TabSession
	if err := env.store.Get(context.Background(), TabSessionPath("u1", h1.SessionID), &tab); err != realtime.ErrNotFound {
		t.Errorf("Stale tab record still present: %v", err)
	}

	// The room held only by the stale tab loses the user.
	if _, ok := env.indexEntry(t, "r1", "u1"); ok {
		t.Error("Stale room index entry still present")
	}
	removals := env.rooms.removals()
	if len(removals) != 1 || removals[0] != "r1/u1" {
		t.Errorf("Got removals %v, want [r1/u1]", removals)
	}

	// The fresh tab's room is untouched.
	if _, ok := env.indexEntry(t, "r2", "u1"); !ok {
		t.Error("Fresh room index entry removed")
	}
}

func TestRefreshTabCount_RoomSurvivesWhenAnyFreshTabHoldsIt(t *testing.T) {
	env := setupTest(t)
	env.open(t, "u1", "r1")

	env.clock.Advance(80 * time.Second)
	h2 := env.open(t, "u1", "r1") // same room, fresh tab

	if err := h2.RefreshTabCount(context.Background()); err != nil {
		t.Fatalf("RefreshTabCount failed: %v", err)
	}

	if _, ok := env.indexEntry(t, "r1", "u1"); !ok {
		t.Error("Room index entry removed despite a fresh tab holding the room")
	}
	if removals := env.rooms.removals(); len(removals) != 0 {
		t.Errorf("Got removals %v, want none", removals)
	}
}

func TestRefreshTabCount_NoLiveTabsDropsAggregate(t *testing.T) {
	env := setupTest(t)
	h := env.open(t, "u1", "r1")

	if err := h.RefreshTabCount(context.Background()); err != nil {
		t.Fatalf("RefreshTabCount failed: %v", err)
	}
	env.clock.Advance(80 * time.Second)
	if err := h.RefreshTabCount(context.Background()); err != nil {
		t.Fatalf("RefreshTabCount failed: %v", err)
	}

	tc, err := env.registrar.TabCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TabCount failed: %v", err)
	}
	if tc.Count != 0 {
		t.Errorf("Got count %d, want 0", tc.Count)
	}
}
