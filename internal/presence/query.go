package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"flowroom/internal/models"
	"flowroom/internal/realtime"
)

// RoomEntries returns the room's index entries for users seen within the
// offline threshold, keyed by user ID. Entries past the threshold are treated
// as gone even if the sweeper has not reaped them yet.
func (r *Registrar) RoomEntries(ctx context.Context, roomID string) (map[string]models.RoomIndexEntry, error) {
	children, err := r.store.Children(ctx, RoomIndexRoot(roomID))
	if err == realtime.ErrNotFound {
		return map[string]models.RoomIndexEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("presence: read room index: %w", err)
	}

	cutoff := r.opts.nowMillis() - r.opts.OfflineThreshold.Milliseconds()
	entries := make(map[string]models.RoomIndexEntry, len(children))
	for userID, raw := range children {
		var e models.RoomIndexEntry
		if json.Unmarshal(raw, &e) != nil {
			continue
		}
		if e.LastUpdated < cutoff {
			continue
		}
		if e.UserID == "" {
			e.UserID = userID
		}
		entries[userID] = e
	}
	return entries, nil
}

// ActiveWorkers returns the user IDs doing active work in the room, sorted
// for stable output.
func (r *Registrar) ActiveWorkers(ctx context.Context, roomID string) ([]string, error) {
	entries, err := r.RoomEntries(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for userID, e := range entries {
		if e.IsActive {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CountOnline returns how many users are present in the room at all.
func (r *Registrar) CountOnline(ctx context.Context, roomID string) (int, error) {
	entries, err := r.RoomEntries(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// UserSessions returns all of a user's live session records. Records past the
// offline threshold are skipped.
func (r *Registrar) UserSessions(ctx context.Context, userID string) ([]models.Session, error) {
	children, err := r.store.Children(ctx, UserSessionsPath(userID))
	if err == realtime.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("presence: read user sessions: %w", err)
	}

	cutoff := r.opts.nowMillis() - r.opts.OfflineThreshold.Milliseconds()
	sessions := make([]models.Session, 0, len(children))
	for _, raw := range children {
		var s models.Session
		if json.Unmarshal(raw, &s) != nil {
			continue
		}
		if s.LastSeen < cutoff {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].SessionID < sessions[j].SessionID })
	return sessions, nil
}

// TabCount returns the user's current tab aggregate. A missing node counts
// as zero tabs.
func (r *Registrar) TabCount(ctx context.Context, userID string) (models.TabCount, error) {
	var tc models.TabCount
	err := r.store.Get(ctx, TabCountRoot(userID)+"/count", &tc.Count)
	if err == realtime.ErrNotFound {
		return models.TabCount{}, nil
	}
	if err != nil {
		return models.TabCount{}, fmt.Errorf("presence: read tab count: %w", err)
	}
	if err := r.store.Get(ctx, TabCountRoot(userID)+"/lastUpdated", &tc.LastUpdated); err != nil && err != realtime.ErrNotFound {
		return models.TabCount{}, fmt.Errorf("presence: read tab count: %w", err)
	}
	return tc, nil
}
