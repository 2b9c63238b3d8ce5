package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"flowroom/internal/logging"
	"flowroom/internal/models"
	"flowroom/internal/realtime"
	"flowroom/internal/services"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by handle operations after Close.
var ErrSessionClosed = errors.New("presence: session closed")

// Registrar opens one logical session per browser tab per room visit and
// answers the read-side presence queries.
type Registrar struct {
	store   realtime.Store
	tasks   TaskService // may be nil: cross-room task pause disabled
	rooms   RoomService // may be nil: membership row cleanup disabled
	metrics *services.Metrics
	opts    Options
}

// NewRegistrar creates a registrar. tasks, rooms and metrics may be nil.
func NewRegistrar(store realtime.Store, tasks TaskService, rooms RoomService, metrics *services.Metrics, opts Options) *Registrar {
	return &Registrar{
		store:   store,
		tasks:   tasks,
		rooms:   rooms,
		metrics: metrics,
		opts:    opts.withDefaults(),
	}
}

// SessionHandle is the tab-side view of one live session. All handle methods
// are safe for concurrent use. The handle owns its heartbeat and recovery
// loops; Close stops them and runs the registered disconnect cleanup.
type SessionHandle struct {
	SessionID string
	UserID    string
	RoomID    string
	RoomType  string
	Device    models.Device

	store   realtime.Store
	tasks   TaskService
	rooms   RoomService
	metrics *services.Metrics
	opts    Options
	log     *slog.Logger

	mu              sync.Mutex
	lastActiveState bool
	tabVisible      bool
	currentTaskID   string
	currentTaskName string
	connectedAt     int64
	closed          bool

	heartbeat *heartbeatEngine
	recovery  *recoveryMonitor
}

// Open registers a new session for one browser tab. Disconnect cleanup is
// registered with the store before any live state is published, so a failed
// registration never leaves a dangling session behind. The RoomIndex entry is
// merged, not replaced: a second tab opening the same room must not demote an
// already-active session.
func (r *Registrar) Open(ctx context.Context, userID, roomID, roomType string, device models.Device) (*SessionHandle, error) {
	if userID == "" || roomID == "" {
		return nil, errors.New("presence: userID and roomID are required")
	}
	if roomType == "" {
		roomType = "public"
	}
	if device == "" {
		device = models.DeviceDesktop
	}

	sessionID := uuid.New().String()
	now := r.opts.nowMillis()

	h := &SessionHandle{
		SessionID:   sessionID,
		UserID:      userID,
		RoomID:      roomID,
		RoomType:    roomType,
		Device:      device,
		store:       r.store,
		tasks:       r.tasks,
		rooms:       r.rooms,
		metrics:     r.metrics,
		opts:        r.opts,
		log:         logging.WithSession(sessionID, userID, roomID),
		tabVisible:  true,
		connectedAt: now,
	}

	// Cleanup guarantee first, live state second.
	r.store.RegisterDisconnect(sessionID, h.disconnectOps()...)

	entry := models.RoomIndexEntry{
		UserID:      userID,
		JoinedAt:    now,
		LastUpdated: now,
	}
	var existing models.RoomIndexEntry
	err := r.store.Get(ctx, RoomIndexPath(roomID, userID), &existing)
	if err == nil {
		if existing.IsActive {
			entry.IsActive = true
		}
		if existing.JoinedAt > 0 {
			entry.JoinedAt = existing.JoinedAt
		}
		entry.CurrentTaskID = existing.CurrentTaskID
		entry.CurrentTaskName = existing.CurrentTaskName
	} else if err != realtime.ErrNotFound {
		r.store.CancelDisconnect(sessionID)
		return nil, fmt.Errorf("presence: read room index: %w", err)
	}

	updates := map[string]interface{}{
		SessionPath(userID, sessionID): h.sessionPayload(now),
		RoomIndexPath(roomID, userID):  entry,
		TabSessionPath(userID, sessionID): models.TabSession{
			UserID:    userID,
			SessionID: sessionID,
			RoomID:    roomID,
			RoomType:  roomType,
			LastSeen:  now,
		},
	}
	if err := r.store.Update(ctx, updates); err != nil {
		r.store.CancelDisconnect(sessionID)
		return nil, fmt.Errorf("presence: open session: %w", err)
	}

	h.heartbeat = newHeartbeatEngine(h)
	h.recovery = newRecoveryMonitor(h)
	h.heartbeat.Start()
	h.recovery.Start()

	h.log.Info("session opened", "room_type", roomType, "device", string(device))
	return h, nil
}

// sessionPayload builds the full session record from the handle's in-memory
// state. Used for the initial write, self-heal and forced recovery.
func (h *SessionHandle) sessionPayload(now int64) models.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return models.Session{
		SessionID:       h.SessionID,
		UserID:          h.UserID,
		RoomID:          h.RoomID,
		RoomType:        h.RoomType,
		IsActive:        h.lastActiveState,
		LastSeen:        now,
		TabVisible:      h.tabVisible,
		Device:          h.Device,
		ConnectedAt:     h.connectedAt,
		CurrentTaskID:   h.currentTaskID,
		CurrentTaskName: h.currentTaskName,
	}
}

func (h *SessionHandle) disconnectOps() []realtime.DisconnectOp {
	return []realtime.DisconnectOp{
		{Path: SessionPath(h.UserID, h.SessionID)},
		{Path: TabSessionPath(h.UserID, h.SessionID)},
	}
}

// IsActive reports the last locally confirmed active state.
func (h *SessionHandle) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActiveState
}

func (h *SessionHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// UpdateCurrentTask records the task the tab is working on, on both the
// session and its room index entry. Empty taskID clears both.
func (h *SessionHandle) UpdateCurrentTask(ctx context.Context, taskID, taskName string) error {
	if h.isClosed() {
		return ErrSessionClosed
	}

	now := h.opts.nowMillis()
	sessionPath := SessionPath(h.UserID, h.SessionID)
	indexPath := RoomIndexPath(h.RoomID, h.UserID)

	updates := map[string]interface{}{
		indexPath + "/lastUpdated": now,
	}
	if taskID == "" {
		updates[sessionPath+"/currentTaskId"] = nil
		updates[sessionPath+"/currentTaskName"] = nil
		updates[indexPath+"/currentTaskId"] = nil
		updates[indexPath+"/currentTaskName"] = nil
	} else {
		updates[sessionPath+"/currentTaskId"] = taskID
		updates[sessionPath+"/currentTaskName"] = taskName
		updates[indexPath+"/currentTaskId"] = taskID
		updates[indexPath+"/currentTaskName"] = taskName
	}

	if err := h.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("presence: update current task: %w", err)
	}

	h.mu.Lock()
	h.currentTaskID = taskID
	h.currentTaskName = taskName
	h.mu.Unlock()
	return nil
}

// SetTabVisible records the tab's visibility flag.
func (h *SessionHandle) SetTabVisible(ctx context.Context, visible bool) error {
	if h.isClosed() {
		return ErrSessionClosed
	}

	updates := map[string]interface{}{
		SessionPath(h.UserID, h.SessionID) + "/tabVisible": visible,
		SessionPath(h.UserID, h.SessionID) + "/lastSeen":   h.opts.nowMillis(),
	}
	if err := h.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("presence: set tab visibility: %w", err)
	}

	h.mu.Lock()
	h.tabVisible = visible
	h.mu.Unlock()
	return nil
}

// Close tears the session down: stops the heartbeat and recovery loops, runs
// the registered disconnect cleanup, and settles room membership for the tab
// that just left. Close is idempotent.
func (h *SessionHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.heartbeat.Stop()
	h.recovery.Stop()

	if err := h.store.RunDisconnect(ctx, h.SessionID); err != nil {
		h.log.Warn("disconnect cleanup failed; sweeper will reap the records", "error", err)
	}

	// This tab's room is a cleanup candidate: if no other fresh tab holds it
	// open, the user leaves the room entirely.
	now := h.opts.nowMillis()
	if err := h.refreshTabCount(ctx, now, map[string]string{h.RoomID: h.RoomType}); err != nil {
		h.log.Warn("tab count refresh on close failed", "error", err)
	}

	h.log.Info("session closed")
	return nil
}
