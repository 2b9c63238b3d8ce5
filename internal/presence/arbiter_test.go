package presence

import (
	"context"
	"testing"
	"time"

	"flowroom/internal/models"
	"flowroom/internal/realtime"
	"flowroom/internal/services"
)

func countActiveSessions(t *testing.T, env *testEnv, userID string) int {
	t.Helper()
	sessions, err := env.registrar.UserSessions(context.Background(), userID)
	if err != nil {
		t.Fatalf("UserSessions failed: %v", err)
	}
	active := 0
	for _, s := range sessions {
		if s.IsActive {
			active++
		}
	}
	return active
}

func TestSetActive_MarksSessionAndIndex(t *testing.T) {
	env := setupTest(t)
	h := env.open(t, "u1", "r1")
	ctx := context.Background()

	if err := h.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	s := env.session(t, "u1", h.SessionID)
	if !s.IsActive {
		t.Error("Session not active after SetActive(true)")
	}
	entry, _ := env.indexEntry(t, "r1", "u1")
	if !entry.IsActive {
		t.Error("Index entry not active after SetActive(true)")
	}
	if !h.IsActive() {
		t.Error("Local state not active after SetActive(true)")
	}
}

func TestSetActive_AtMostOneActiveSession(t *testing.T) {
	env := setupTest(t)
	h1 := env.open(t, "u1", "r1")
	h2 := env.open(t, "u1", "r2")
	ctx := context.Background()

	if err := h1.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive h1 failed: %v", err)
	}
	if err := h2.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive h2 failed: %v", err)
	}

	if got := countActiveSessions(t, env, "u1"); got != 1 {
		t.Errorf("Got %d active sessions, want 1", got)
	}
	s2 := env.session(t, "u1", h2.SessionID)
	if !s2.IsActive {
		t.Error("Most recent activation lost")
	}
	s1 := env.session(t, "u1", h1.SessionID)
	if s1.IsActive {
		t.Error("Old session still active after activation elsewhere")
	}

	// Foreign room index entry demoted, target promoted.
	e1, _ := env.indexEntry(t, "r1", "u1")
	if e1.IsActive {
		t.Error("Foreign room entry still active")
	}
	e2, _ := env.indexEntry(t, "r2", "u1")
	if !e2.IsActive {
		t.Error("Target room entry not active")
	}
}

func TestSetActive_PausesCrossRoomTaskAndStopsTimer(t *testing.T) {
	env := setupTest(t)
	h1 := env.open(t, "u1", "r1")
	h2 := env.open(t, "u1", "r2")
	ctx := context.Background()

	env.tasks.statuses["t1"] = services.TaskStatusInProgress
	if err := h1.UpdateCurrentTask(ctx, "t1", "Deep work"); err != nil {
		t.Fatalf("UpdateCurrentTask failed: %v", err)
	}
	if err := h1.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive h1 failed: %v", err)
	}
	if err := env.store.Set(ctx, TimerPath("u1"), models.TimerRecord{IsRunning: true}); err != nil {
		t.Fatalf("Timer seed failed: %v", err)
	}

	if err := h2.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive h2 failed: %v", err)
	}

	paused := env.tasks.pausedTasks()
	if len(paused) != 1 || paused[0] != "t1" {
		t.Errorf("Got paused tasks %v, want [t1]", paused)
	}

	var timer models.TimerRecord
	if err := env.store.Get(ctx, TimerPath("u1"), &timer); err != nil {
		t.Fatalf("Timer read failed: %v", err)
	}
	if timer.IsRunning {
		t.Error("Timer still running after cross-room activation")
	}
	if timer.LastPaused == 0 {
		t.Error("Timer lastPaused not stamped")
	}
}

func TestSetActive_DoesNotPauseNonRunningTask(t *testing.T) {
	env := setupTest(t)
	h1 := env.open(t, "u1", "r1")
	h2 := env.open(t, "u1", "r2")
	ctx := context.Background()

	env.tasks.statuses["t1"] = "todo"
	if err := h1.UpdateCurrentTask(ctx, "t1", "Backlog item"); err != nil {
		t.Fatalf("UpdateCurrentTask failed: %v", err)
	}

	if err := h2.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	if paused := env.tasks.pausedTasks(); len(paused) != 0 {
		t.Errorf("Got paused tasks %v, want none", paused)
	}
}

func TestSetActive_SameStateIsNoOp(t *testing.T) {
	env := setupTest(t)
	h := env.open(t, "u1", "r1")
	ctx := context.Background()

	if err := h.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	before := env.session(t, "u1", h.SessionID)

	if err := h.SetActive(ctx, true); err != nil {
		t.Fatalf("Repeated SetActive failed: %v", err)
	}
	after := env.session(t, "u1", h.SessionID)
	if after != before {
		t.Errorf("Repeated activation changed the record: %+v vs %+v", before, after)
	}
}

func TestSetActive_ReassertingFalseRefreshesLastSeen(t *testing.T) {
	env := setupTest(t)
	h := env.open(t, "u1", "r1")
	ctx := context.Background()

	env.clock.Advance(10 * time.Second)
	if err := h.SetActive(ctx, false); err != nil {
		t.Fatalf("SetActive(false) failed: %v", err)
	}

	s := env.session(t, "u1", h.SessionID)
	if s.LastSeen != env.clock.Now().UnixMilli() {
		t.Errorf("Got lastSeen %d, want %d", s.LastSeen, env.clock.Now().UnixMilli())
	}
	if s.IsActive {
		t.Error("Session unexpectedly active")
	}
}

func TestSetActive_Deactivate(t *testing.T) {
	env := setupTest(t)
	h := env.open(t, "u1", "r1")
	ctx := context.Background()

	if err := h.SetActive(ctx, true); err != nil {
		t.Fatalf("SetActive(true) failed: %v", err)
	}
	if err := h.SetActive(ctx, false); err != nil {
		t.Fatalf("SetActive(false) failed: %v", err)
	}

	s := env.session(t, "u1", h.SessionID)
	if s.IsActive {
		t.Error("Session active after deactivate")
	}
	entry, _ := env.indexEntry(t, "r1", "u1")
	if entry.IsActive {
		t.Error("Index entry active after deactivate")
	}
	if h.IsActive() {
		t.Error("Local state active after deactivate")
	}
}

func TestSetActive_FailedWriteKeepsLocalState(t *testing.T) {
	store := &failingStore{MemoryStore: realtime.NewMemoryStore()}
	clock := newFakeClock()
	opts := DefaultOptions()
	opts.Clock = clock.Now
	registrar := NewRegistrar(store, nil, nil, nil, opts)

	h, err := registrar.Open(context.Background(), "u1", "r1", "public", models.DeviceDesktop)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close(context.Background())

	store.setFail(true)
	if err := h.SetActive(context.Background(), true); err == nil {
		t.Fatal("SetActive succeeded against a failing store")
	}
	if h.IsActive() {
		t.Error("Local state flipped despite failed write")
	}

	// The next attempt after recovery is not treated as a no-op.
	store.setFail(false)
	if err := h.SetActive(context.Background(), true); err != nil {
		t.Fatalf("SetActive after recovery failed: %v", err)
	}
	if !h.IsActive() {
		t.Error("Local state not active after successful retry")
	}
}
