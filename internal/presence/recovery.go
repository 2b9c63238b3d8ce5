package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"flowroom/internal/models"
)

// recoveryMonitor watches the store's connectivity signal and the session's
// own live value. It pauses heartbeats while the store is unreachable,
// restores disconnect hooks after a reconnect (they do not survive one), and
// self-heals a session record observed to have lost its room pointer.
type recoveryMonitor struct {
	h *SessionHandle

	stopOnce sync.Once
	stop     chan struct{}

	connCancel  func()
	watchCancel func()
}

func newRecoveryMonitor(h *SessionHandle) *recoveryMonitor {
	return &recoveryMonitor{h: h, stop: make(chan struct{})}
}

func (m *recoveryMonitor) Start() {
	connCh, connCancel := m.h.store.Connected()
	watchCh, watchCancel := m.h.store.Watch(SessionPath(m.h.UserID, m.h.SessionID))
	m.connCancel = connCancel
	m.watchCancel = watchCancel

	go m.connLoop(connCh)
	go m.watchLoop(watchCh)
}

func (m *recoveryMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		if m.connCancel != nil {
			m.connCancel()
		}
		if m.watchCancel != nil {
			m.watchCancel()
		}
	})
}

func (m *recoveryMonitor) connLoop(ch <-chan bool) {
	for {
		select {
		case <-m.stop:
			return
		case connected, ok := <-ch:
			if !ok {
				return
			}
			if connected {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				m.onReconnect(ctx)
				cancel()
			} else {
				// No point heartbeating against an unreachable store. Local
				// session state is kept; it resumes on reconnect.
				m.h.log.Warn("store connection lost; pausing heartbeats")
				m.h.heartbeat.Stop()
			}
		}
	}
}

// onReconnect restores everything a connection drop invalidates: disconnect
// hooks, the session's liveness fields, the heartbeat loop and the tab count.
func (m *recoveryMonitor) onReconnect(ctx context.Context) {
	h := m.h
	if h.isClosed() {
		return
	}
	h.log.Info("store reconnected; restoring session state")

	h.store.CancelDisconnect(h.SessionID)
	h.store.RegisterDisconnect(h.SessionID, h.disconnectOps()...)

	h.mu.Lock()
	visible := h.tabVisible
	h.mu.Unlock()

	now := h.opts.nowMillis()
	sessionPath := SessionPath(h.UserID, h.SessionID)
	updates := map[string]interface{}{
		sessionPath + "/lastSeen":   now,
		sessionPath + "/tabVisible": visible,
		sessionPath + "/roomId":     h.RoomID,
	}
	if err := h.store.Update(ctx, updates); err != nil {
		h.log.Warn("post-reconnect refresh failed", "error", err)
	}

	h.heartbeat.Start()

	if err := h.refreshTabCount(ctx, now, nil); err != nil {
		h.log.Warn("post-reconnect tab count refresh failed", "error", err)
	}
}

// watchLoop self-heals the session when its live value loses the room
// pointer. That only happens when a concurrent partial update clobbered the
// record on the backend, so the diagnostic is escalated.
func (m *recoveryMonitor) watchLoop(ch <-chan json.RawMessage) {
	for {
		select {
		case <-m.stop:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			if raw == nil {
				// Deleted: either our own close or the sweeper. Not repairable here.
				continue
			}

			var s models.Session
			if err := json.Unmarshal(raw, &s); err != nil {
				continue
			}
			if s.RoomID != "" || m.h.isClosed() {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			m.selfHeal(ctx)
			cancel()
		}
	}
}

func (m *recoveryMonitor) selfHeal(ctx context.Context) {
	h := m.h
	h.log.Error("session record lost its room pointer; rewriting full payload")

	payload := h.sessionPayload(h.opts.nowMillis())
	if err := h.store.Set(ctx, SessionPath(h.UserID, h.SessionID), payload); err != nil {
		h.log.Error("session self-heal failed", "error", err)
	}
}

// Recover force-restores the session after repeated heartbeat failures:
// disconnect hooks are reinstated and the full session and tab records are
// rewritten, with a recovered marker on the session, then the failure counter
// resets.
func (m *recoveryMonitor) Recover(ctx context.Context) error {
	h := m.h
	if h.isClosed() {
		return ErrSessionClosed
	}
	h.log.Warn("forcing session recovery after repeated heartbeat failures")

	h.store.CancelDisconnect(h.SessionID)
	h.store.RegisterDisconnect(h.SessionID, h.disconnectOps()...)

	now := h.opts.nowMillis()
	payload := h.sessionPayload(now)
	payload.Recovered = true

	updates := map[string]interface{}{
		SessionPath(h.UserID, h.SessionID): payload,
		TabSessionPath(h.UserID, h.SessionID): models.TabSession{
			UserID:    h.UserID,
			SessionID: h.SessionID,
			RoomID:    h.RoomID,
			RoomType:  h.RoomType,
			LastSeen:  now,
		},
	}
	if err := h.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("presence: recover session: %w", err)
	}

	h.heartbeat.resetFailures()
	h.metrics.RecordRecovery()
	h.log.Info("session recovered")
	return nil
}
