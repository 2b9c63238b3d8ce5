package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"flowroom/internal/models"
	"flowroom/internal/realtime"
)

// RefreshTabCount recomputes the user's tab aggregate from the live tab
// records: fresh tabs are counted, stale records are deleted, and any room
// held only by stale tabs is cleaned up. A user with many tabs across many
// rooms is counted once per tab but their membership in a room survives as
// long as any one fresh tab references it.
func (h *SessionHandle) RefreshTabCount(ctx context.Context) error {
	return h.refreshTabCount(ctx, h.opts.nowMillis(), nil)
}

// refreshTabCount additionally accepts candidate rooms (roomID -> roomType)
// that should be cleaned up when no fresh tab references them. Used by Close,
// where the departing tab's own records are already removed and so cannot be
// observed as stale.
func (h *SessionHandle) refreshTabCount(ctx context.Context, now int64, candidates map[string]string) error {
	children, err := h.store.Children(ctx, TabSessionsPath(h.UserID))
	if err == realtime.ErrNotFound {
		children = nil
	} else if err != nil {
		return fmt.Errorf("presence: read tab sessions: %w", err)
	}

	threshold := h.opts.TabOfflineThreshold.Milliseconds()
	freshCount := 0
	freshRooms := make(map[string]bool)
	staleRooms := make(map[string]string) // roomID -> roomType
	updates := make(map[string]interface{})

	for sid, raw := range children {
		var ts models.TabSession
		if jsonErr := json.Unmarshal(raw, &ts); jsonErr != nil {
			updates[TabSessionPath(h.UserID, sid)] = nil
			continue
		}

		if now-ts.LastSeen <= threshold {
			freshCount++
			if ts.RoomID != "" {
				freshRooms[ts.RoomID] = true
			}
			continue
		}

		updates[TabSessionPath(h.UserID, sid)] = nil
		if ts.RoomID != "" {
			staleRooms[ts.RoomID] = ts.RoomType
		}
	}

	if freshCount > 0 {
		updates[TabCountRoot(h.UserID)+"/count"] = freshCount
		updates[TabCountRoot(h.UserID)+"/lastUpdated"] = now
	} else {
		// No live tab anywhere: drop the whole aggregate node.
		updates[TabCountRoot(h.UserID)] = nil
	}

	// A room referenced only by stale (or just-departed) tabs loses this user.
	cleanup := make(map[string]string, len(staleRooms)+len(candidates))
	for roomID, roomType := range staleRooms {
		if !freshRooms[roomID] {
			cleanup[roomID] = roomType
		}
	}
	for roomID, roomType := range candidates {
		if !freshRooms[roomID] {
			cleanup[roomID] = roomType
		}
	}

	for roomID, roomType := range cleanup {
		updates[RoomIndexPath(roomID, h.UserID)] = nil
		if h.rooms != nil {
			if err := h.rooms.RemoveUserFromRoom(ctx, roomID, h.UserID, roomType); err != nil {
				h.log.Warn("room membership removal failed", "cleanup_room_id", roomID, "error", err)
			}
		}
	}

	if err := h.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("presence: refresh tab count: %w", err)
	}

	h.metrics.RecordTabCountRefresh()
	return nil
}
