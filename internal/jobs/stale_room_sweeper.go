package jobs

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"flowroom/internal/models"
	"flowroom/internal/presence"
	"flowroom/internal/realtime"
	"flowroom/internal/services"

	"github.com/google/uuid"
)

const sweeperLockKey = "flowroom:lock:stale-room-sweeper"

// StaleRoomSweeperJob reaps rooms whose members have all gone silent. It is
// the backstop for disconnect cleanup that never ran: a crashed server process
// leaves session and index records behind, and the sweeper removes them once
// the room has been quiet long enough.
type StaleRoomSweeperJob struct {
	store   realtime.Store
	redis   *services.RedisService // may be nil: single-instance mode, no lock
	metrics *services.Metrics

	offlineThreshold   time.Duration
	staleRoomThreshold time.Duration
	sweepPeriod        time.Duration

	// now is a test seam.
	now func() time.Time
}

// NewStaleRoomSweeperJob creates a new stale-room sweeper job
func NewStaleRoomSweeperJob(store realtime.Store, redis *services.RedisService, metrics *services.Metrics, offlineThreshold, staleRoomThreshold, sweepPeriod time.Duration) *StaleRoomSweeperJob {
	return &StaleRoomSweeperJob{
		store:              store,
		redis:              redis,
		metrics:            metrics,
		offlineThreshold:   offlineThreshold,
		staleRoomThreshold: staleRoomThreshold,
		sweepPeriod:        sweepPeriod,
		now:                time.Now,
	}
}

// Name implements Job
func (j *StaleRoomSweeperJob) Name() string { return "stale-room-sweeper" }

// Interval implements Job
func (j *StaleRoomSweeperJob) Interval() time.Duration { return j.sweepPeriod }

// Run scans every room's index and deletes rooms with no live members whose
// latest activity is older than the stale-room threshold. With multiple
// server instances a Redis lock keeps the scan single-flight; losing the lock
// is not an error, another instance is sweeping.
func (j *StaleRoomSweeperJob) Run(ctx context.Context) error {
	if j.redis != nil {
		lockValue := uuid.New().String()
		acquired, err := j.redis.AcquireLock(ctx, sweeperLockKey, lockValue, j.sweepPeriod)
		if err != nil {
			log.Printf("[SWEEPER] Lock acquisition failed: %v", err)
			return err
		}
		if !acquired {
			return nil
		}
		defer func() {
			if _, err := j.redis.ReleaseLock(context.Background(), sweeperLockKey, lockValue); err != nil {
				log.Printf("[SWEEPER] Lock release failed: %v", err)
			}
		}()
	}

	rooms, err := j.store.Children(ctx, presence.RootRoomIndex)
	if err == realtime.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	swept := 0
	for roomID := range rooms {
		stale, users, err := j.roomIsStale(ctx, roomID)
		if err != nil {
			log.Printf("[SWEEPER] Failed to inspect room %s: %v", roomID, err)
			continue
		}
		if !stale {
			continue
		}

		if err := j.sweepRoom(ctx, roomID, users); err != nil {
			log.Printf("[SWEEPER] Failed to sweep room %s: %v", roomID, err)
			continue
		}
		swept++
		j.metrics.RecordSweptRoom()
	}

	if swept > 0 {
		log.Printf("[SWEEPER] Swept %d stale rooms", swept)
	}
	return nil
}

// roomIsStale reports whether a room has no member inside the liveness window
// and its latest activity predates the stale-room threshold. The second value
// lists the room's member user IDs for session cleanup.
func (j *StaleRoomSweeperJob) roomIsStale(ctx context.Context, roomID string) (bool, []string, error) {
	entries, err := j.store.Children(ctx, presence.RoomIndexRoot(roomID))
	if err == realtime.ErrNotFound {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	now := j.now().UnixMilli()
	liveCutoff := now - j.offlineThreshold.Milliseconds()
	staleCutoff := now - j.staleRoomThreshold.Milliseconds()

	var latest int64
	users := make([]string, 0, len(entries))
	for userID, raw := range entries {
		users = append(users, userID)

		var e models.RoomIndexEntry
		if json.Unmarshal(raw, &e) != nil {
			continue
		}
		if e.LastUpdated >= liveCutoff {
			return false, nil, nil
		}
		if e.LastUpdated > latest {
			latest = e.LastUpdated
		}
		if e.JoinedAt > latest {
			latest = e.JoinedAt
		}
	}

	// An empty node or one that never recorded a timestamp is reaped outright.
	if latest == 0 {
		return true, users, nil
	}
	return latest < staleCutoff, users, nil
}

// sweepRoom removes the room's index node and every silent member session
// still pointing at the room. Live sessions are left alone even here; the
// staleness check races with a just-opened session and the open wins.
func (j *StaleRoomSweeperJob) sweepRoom(ctx context.Context, roomID string, users []string) error {
	now := j.now().UnixMilli()
	liveCutoff := now - j.offlineThreshold.Milliseconds()

	updates := map[string]interface{}{
		presence.RoomIndexRoot(roomID): nil,
	}

	for _, userID := range users {
		sessions, err := j.store.Children(ctx, presence.UserSessionsPath(userID))
		if err == realtime.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		for sid, raw := range sessions {
			var s models.Session
			if json.Unmarshal(raw, &s) != nil {
				continue
			}
			if s.RoomID == roomID && s.LastSeen < liveCutoff {
				updates[presence.SessionPath(userID, sid)] = nil
				updates[presence.TabSessionPath(userID, sid)] = nil
			}
		}
	}

	if err := j.store.Update(ctx, updates); err != nil {
		return err
	}

	log.Printf("[SWEEPER] Deleted stale room %s (%d members)", roomID, len(users))
	return nil
}
