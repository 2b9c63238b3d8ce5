package presence

import (
	"context"
	"testing"
	"time"

	"flowroom/internal/models"
	"flowroom/internal/realtime"
)

func openOnFailingStore(t *testing.T) (*failingStore, *fakeClock, *SessionHandle) {
	t.Helper()
	store := &failingStore{MemoryStore: realtime.NewMemoryStore()}
	clock := newFakeClock()
	opts := DefaultOptions()
	opts.Clock = clock.Now
	registrar := NewRegistrar(store, nil, nil, nil, opts)

	h, err := registrar.Open(context.Background(), "u1", "r1", "public", models.DeviceDesktop)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { h.Close(context.Background()) })
	return store, clock, h
}

func TestHeartbeatTick_RefreshesLiveness(t *testing.T) {
	env := setupTest(t)
	h := env.open(t, "u1", "r1")
	ctx := context.Background()

	env.clock.Advance(30 * time.Second)
	h.heartbeat.tick(ctx)

	now := env.clock.Now().UnixMilli()
	s := env.session(t, "u1", h.SessionID)
	if s.LastSeen != now {
		t.Errorf("Got session lastSeen %d, want %d", s.LastSeen, now)
	}

	var tab models.TabSession
	if err := env.store.Get(ctx, TabSessionPath("u1", h.SessionID), &tab); err != nil {
		t.Fatalf("Tab session read failed: %v", err)
	}
	if tab.LastSeen != now {
		t.Errorf("Got tab lastSeen %d, want %d", tab.LastSeen, now)
	}

	entry, _ := env.indexEntry(t, "r1", "u1")
	if entry.LastUpdated != now {
		t.Errorf("Got index lastUpdated %d, want %d", entry.LastUpdated, now)
	}
}

func TestHeartbeatTick_RepairsClobberedRoomPointer(t *testing.T) {
	env := setupTest(t)
	h := env.open(t, "u1", "r1")
	ctx := context.Background()

	// A concurrent partial update drops the room pointer.
	if err := env.store.Update(ctx, map[string]interface{}{
		SessionPath("u1", h.SessionID) + "/roomId": nil,
	}); err != nil {
		t.Fatalf("Clobber failed: %v", err)
	}

	h.heartbeat.tick(ctx)

	s := env.session(t, "u1", h.SessionID)
	if s.RoomID != "r1" {
		t.Errorf("Got roomId %q after tick, want r1", s.RoomID)
	}
}

func TestHeartbeatTick_DoesNotForceIndexInactive(t *testing.T) {
	env := setupTest(t)
	h := env.open(t, "u1", "r1")
	ctx := context.Background()

	if err := h.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	h.heartbeat.tick(ctx)

	entry, _ := env.indexEntry(t, "r1", "u1")
	if !entry.IsActive {
		t.Error("Tick demoted an active index entry")
	}

	// An inactive session's tick leaves the flag alone rather than writing false.
	if err := h.SetActive(ctx, false); err != nil {
		t.Fatalf("SetActive(false) failed: %v", err)
	}
	if err := env.store.Update(ctx, map[string]interface{}{
		RoomIndexPath("r1", "u1") + "/isActive": true,
	}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	h.heartbeat.tick(ctx)
	entry, _ = env.indexEntry(t, "r1", "u1")
	if !entry.IsActive {
		t.Error("Tick from an inactive session forced the index flag to false")
	}
}

func TestHeartbeat_FailuresBelowLimitJustCount(t *testing.T) {
	store, _, h := openOnFailingStore(t)
	ctx := context.Background()

	store.setFailTimes(2)
	h.heartbeat.tick(ctx)
	h.heartbeat.tick(ctx)

	s := readSession(t, store.MemoryStore, "u1", h.SessionID)
	if s.Recovered {
		t.Error("Recovery ran before the failure limit")
	}

	// A successful tick resets the strike count.
	h.heartbeat.tick(ctx)
	h.heartbeat.mu.Lock()
	failures := h.heartbeat.failures
	h.heartbeat.mu.Unlock()
	if failures != 0 {
		t.Errorf("Got %d failures after success, want 0", failures)
	}
}

func TestHeartbeat_RepeatedFailuresForceRecovery(t *testing.T) {
	store, _, h := openOnFailingStore(t)
	ctx := context.Background()

	// The third consecutive failure triggers recovery; by then the store is
	// healthy again, so the full payload rewrite succeeds.
	store.setFailTimes(3)
	h.heartbeat.tick(ctx)
	h.heartbeat.tick(ctx)
	h.heartbeat.tick(ctx)

	s := readSession(t, store.MemoryStore, "u1", h.SessionID)
	if !s.Recovered {
		t.Error("Session not marked recovered after repeated heartbeat failures")
	}
	if s.RoomID != "r1" {
		t.Errorf("Got roomId %q after recovery, want r1", s.RoomID)
	}
	if got := store.RegisteredDisconnects(h.SessionID); got != 2 {
		t.Errorf("Got %d disconnect ops after recovery, want 2", got)
	}
}

func readSession(t *testing.T, store *realtime.MemoryStore, userID, sessionID string) models.Session {
	t.Helper()
	var s models.Session
	if err := store.Get(context.Background(), SessionPath(userID, sessionID), &s); err != nil {
		t.Fatalf("Session read failed: %v", err)
	}
	return s
}
