package jobs

import (
	"context"
	"testing"
	"time"

	"flowroom/internal/models"
	"flowroom/internal/presence"
	"flowroom/internal/realtime"
)

func newTestSweeper(store realtime.Store, now time.Time) *StaleRoomSweeperJob {
	j := NewStaleRoomSweeperJob(store, nil, nil, 65*time.Second, 5*time.Minute, 30*time.Second)
	j.now = func() time.Time { return now }
	return j
}

func seedMember(t *testing.T, store realtime.Store, roomID, userID, sessionID string, lastSeen time.Time) {
	t.Helper()
	ctx := context.Background()
	ms := lastSeen.UnixMilli()

	err := store.Update(ctx, map[string]interface{}{
		presence.RoomIndexPath(roomID, userID): models.RoomIndexEntry{
			UserID:      userID,
			JoinedAt:    ms,
			LastUpdated: ms,
		},
		presence.SessionPath(userID, sessionID): models.Session{
			SessionID: sessionID,
			UserID:    userID,
			RoomID:    roomID,
			LastSeen:  ms,
		},
		presence.TabSessionPath(userID, sessionID): models.TabSession{
			UserID:    userID,
			SessionID: sessionID,
			RoomID:    roomID,
			LastSeen:  ms,
		},
	})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
}

func TestSweeper_ReapsStaleRoom(t *testing.T) {
	store := realtime.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedMember(t, store, "r1", "u1", "s1", now.Add(-10*time.Minute))
	seedMember(t, store, "r1", "u2", "s2", now.Add(-8*time.Minute))

	sweeper := newTestSweeper(store, now)
	if err := sweeper.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := store.Children(ctx, presence.RoomIndexRoot("r1")); err != realtime.ErrNotFound {
		t.Errorf("Room index still present: %v", err)
	}

	var s models.Session
	if err := store.Get(ctx, presence.SessionPath("u1", "s1"), &s); err != realtime.ErrNotFound {
		t.Errorf("Stale session s1 still present: %v", err)
	}
	var tab models.TabSession
	if err := store.Get(ctx, presence.TabSessionPath("u2", "s2"), &tab); err != realtime.ErrNotFound {
		t.Errorf("Stale tab session s2 still present: %v", err)
	}
}

func TestSweeper_KeepsRoomWithLiveMember(t *testing.T) {
	store := realtime.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedMember(t, store, "r1", "u1", "s1", now.Add(-10*time.Minute))
	seedMember(t, store, "r1", "u2", "s2", now.Add(-10*time.Second)) // live

	sweeper := newTestSweeper(store, now)
	if err := sweeper.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := store.Children(ctx, presence.RoomIndexRoot("r1")); err != nil {
		t.Errorf("Room with a live member was swept: %v", err)
	}
	var s models.Session
	if err := store.Get(ctx, presence.SessionPath("u1", "s1"), &s); err != nil {
		t.Errorf("Session deleted from a live room: %v", err)
	}
}

func TestSweeper_KeepsQuietRoomInsideGracePeriod(t *testing.T) {
	store := realtime.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Silent past the liveness window but not yet past the stale-room one.
	seedMember(t, store, "r1", "u1", "s1", now.Add(-2*time.Minute))

	sweeper := newTestSweeper(store, now)
	if err := sweeper.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := store.Children(ctx, presence.RoomIndexRoot("r1")); err != nil {
		t.Errorf("Room swept inside the grace period: %v", err)
	}
}

func TestSweeper_SparesOtherRoomsSessions(t *testing.T) {
	store := realtime.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedMember(t, store, "r1", "u1", "s1", now.Add(-10*time.Minute))
	// Same user, live session in a different room.
	seedMember(t, store, "r2", "u1", "s2", now.Add(-5*time.Second))

	sweeper := newTestSweeper(store, now)
	if err := sweeper.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var s models.Session
	if err := store.Get(ctx, presence.SessionPath("u1", "s2"), &s); err != nil {
		t.Errorf("Live session in another room was deleted: %v", err)
	}
	if _, err := store.Children(ctx, presence.RoomIndexRoot("r2")); err != nil {
		t.Errorf("Live room r2 was swept: %v", err)
	}
}

func TestSweeper_EmptyIndexIsNoError(t *testing.T) {
	store := realtime.NewMemoryStore()
	sweeper := newTestSweeper(store, time.Now())

	if err := sweeper.Run(context.Background()); err != nil {
		t.Fatalf("Run on empty store failed: %v", err)
	}
}
