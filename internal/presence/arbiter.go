package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"flowroom/internal/models"
	"flowroom/internal/realtime"
	"flowroom/internal/services"
)

// SetActive enforces the system-wide invariant that a user has at most one
// active session. Activation rewrites every one of the user's sessions and
// room index entries in a single atomic multi-path update; there is no lock,
// so two tabs racing an activation both rewrite the full set and the last
// write wins. Pending tasks in other rooms are paused through the task
// collaborator, and the shared timer record is stopped alongside them.
//
// A request matching the last known local state is a no-op, except that
// re-asserting false still refreshes lastSeen to keep the record warm.
// The local state is updated only after the write succeeds; on failure the
// error is propagated so the caller's timer UI does not drift from reality.
func (h *SessionHandle) SetActive(ctx context.Context, isActive bool) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrSessionClosed
	}
	last := h.lastActiveState
	h.mu.Unlock()

	now := h.opts.nowMillis()

	if last == isActive {
		if !isActive {
			if err := h.store.Update(ctx, map[string]interface{}{
				SessionPath(h.UserID, h.SessionID) + "/lastSeen": now,
			}); err != nil {
				h.log.Warn("lastSeen refresh failed", "error", err)
			}
		}
		return nil
	}

	var err error
	if isActive {
		err = h.activate(ctx, now)
	} else {
		err = h.deactivate(ctx, now)
	}
	h.metrics.RecordActivation(isActive, err == nil)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.lastActiveState = isActive
	h.mu.Unlock()

	h.log.Debug("active state changed", "is_active", isActive)
	return nil
}

// activate builds and applies the exclusivity rewrite: every session of the
// user goes inactive, every foreign room index entry goes inactive, then the
// target session and its room entry go active, all in one update so partial
// application is never observable.
func (h *SessionHandle) activate(ctx context.Context, now int64) error {
	updates := make(map[string]interface{})
	foreignRooms := make(map[string]bool)
	var pauseTasks []string

	sessions, err := h.store.Children(ctx, UserSessionsPath(h.UserID))
	if err != nil && err != realtime.ErrNotFound {
		return fmt.Errorf("presence: enumerate sessions: %w", err)
	}
	for sid, raw := range sessions {
		var s models.Session
		if jsonErr := json.Unmarshal(raw, &s); jsonErr != nil {
			h.log.Warn("skipping unreadable session record", "other_session_id", sid, "error", jsonErr)
			continue
		}

		path := SessionPath(h.UserID, sid)
		updates[path+"/isActive"] = false
		updates[path+"/lastSeen"] = now

		if s.RoomID != "" && s.RoomID != h.RoomID {
			foreignRooms[s.RoomID] = true

			// A running task left behind in another room gets paused: only
			// one room can be actively worked in.
			if sid != h.SessionID && s.CurrentTaskID != "" && h.tasks != nil {
				status, statusErr := h.tasks.Status(ctx, s.CurrentTaskID)
				if statusErr != nil {
					h.log.Warn("task status lookup failed", "task_id", s.CurrentTaskID, "error", statusErr)
				} else if status == services.TaskStatusInProgress {
					pauseTasks = append(pauseTasks, s.CurrentTaskID)
				}
			}
		}
	}

	// Tab sessions can reference rooms whose presence session is already
	// gone; their index entries still need demoting.
	tabs, err := h.store.Children(ctx, TabSessionsPath(h.UserID))
	if err != nil && err != realtime.ErrNotFound {
		return fmt.Errorf("presence: enumerate tab sessions: %w", err)
	}
	for _, raw := range tabs {
		var ts models.TabSession
		if json.Unmarshal(raw, &ts) == nil && ts.RoomID != "" && ts.RoomID != h.RoomID {
			foreignRooms[ts.RoomID] = true
		}
	}

	for roomID := range foreignRooms {
		updates[RoomIndexPath(roomID, h.UserID)+"/isActive"] = false
		updates[RoomIndexPath(roomID, h.UserID)+"/lastUpdated"] = now
	}

	if len(pauseTasks) > 0 {
		var timer models.TimerRecord
		if err := h.store.Get(ctx, TimerPath(h.UserID), &timer); err == nil && timer.IsRunning {
			updates[TimerPath(h.UserID)+"/isRunning"] = false
			updates[TimerPath(h.UserID)+"/lastPaused"] = now
		}
	}

	updates[SessionPath(h.UserID, h.SessionID)+"/isActive"] = true
	updates[SessionPath(h.UserID, h.SessionID)+"/lastSeen"] = now
	updates[RoomIndexPath(h.RoomID, h.UserID)+"/isActive"] = true
	updates[RoomIndexPath(h.RoomID, h.UserID)+"/lastUpdated"] = now

	// External side effect before the store write: a paused task with a
	// briefly stale index entry beats an active task in an inactive room.
	for _, taskID := range pauseTasks {
		if err := h.tasks.Pause(ctx, taskID); err != nil {
			h.log.Warn("cross-room task pause failed", "task_id", taskID, "error", err)
		}
	}

	if err := h.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("presence: activate session: %w", err)
	}
	return nil
}

// deactivate only touches this session and its own room entry; no cross-room
// scan is needed to turn things off.
func (h *SessionHandle) deactivate(ctx context.Context, now int64) error {
	updates := map[string]interface{}{
		SessionPath(h.UserID, h.SessionID) + "/isActive": false,
		SessionPath(h.UserID, h.SessionID) + "/lastSeen": now,
		RoomIndexPath(h.RoomID, h.UserID) + "/isActive":  false,
		RoomIndexPath(h.RoomID, h.UserID) + "/lastUpdated": now,
	}
	if err := h.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("presence: deactivate session: %w", err)
	}
	return nil
}
