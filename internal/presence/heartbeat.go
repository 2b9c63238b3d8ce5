package presence

import (
	"context"
	"sync"
	"time"
)

// heartbeatEngine refreshes the session's liveness records on a fixed
// interval. A tick that fails increments a strike counter; reaching the limit
// hands off to forced recovery instead of retrying the same write, since the
// session may have lost required fields rather than just the network.
type heartbeatEngine struct {
	h *SessionHandle

	mu       sync.Mutex
	failures int
	stop     chan struct{}
	running  bool
}

func newHeartbeatEngine(h *SessionHandle) *heartbeatEngine {
	return &heartbeatEngine{h: h}
}

// Start begins the tick loop. Starting a running engine is a no-op.
func (e *heartbeatEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	go e.loop(e.stop)
}

// Stop halts the tick loop. Stopping a stopped engine is a no-op.
func (e *heartbeatEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stop)
}

func (e *heartbeatEngine) resetFailures() {
	e.mu.Lock()
	e.failures = 0
	e.mu.Unlock()
}

func (e *heartbeatEngine) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(e.h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			e.tick(ctx)
			cancel()
		}
	}
}

// tick refreshes the session, tab session and room index records. The
// session's roomId is re-asserted on every tick: a concurrent partial update
// clobbering the room pointer is a known backend failure mode and the
// heartbeat quietly repairs it. The room index's isActive flag is only
// re-asserted when the local state says so, never forced to false, to avoid
// clobbering an activation mid-flight from another path.
func (e *heartbeatEngine) tick(ctx context.Context) {
	h := e.h
	now := h.opts.nowMillis()

	sessionPath := SessionPath(h.UserID, h.SessionID)
	tabPath := TabSessionPath(h.UserID, h.SessionID)
	indexPath := RoomIndexPath(h.RoomID, h.UserID)

	updates := map[string]interface{}{
		sessionPath + "/lastSeen": now,
		sessionPath + "/roomId":   h.RoomID,
		tabPath + "/lastSeen":     now,
		tabPath + "/roomId":       h.RoomID,
		tabPath + "/roomType":     h.RoomType,
		indexPath + "/lastUpdated": now,
	}
	if h.IsActive() {
		updates[indexPath+"/isActive"] = true
	}

	if err := h.store.Update(ctx, updates); err != nil {
		h.metrics.RecordHeartbeat(false)

		e.mu.Lock()
		e.failures++
		failures := e.failures
		max := h.opts.MaxHeartbeatFailures
		if failures >= max {
			e.failures = 0
		}
		e.mu.Unlock()

		h.log.Warn("heartbeat failed", "consecutive_failures", failures, "error", err)
		if failures >= max {
			if recErr := h.recovery.Recover(ctx); recErr != nil {
				h.log.Error("session recovery failed", "error", recErr)
			}
		}
		return
	}

	e.resetFailures()
	h.metrics.RecordHeartbeat(true)

	if err := h.RefreshTabCount(ctx); err != nil {
		h.log.Warn("tab count refresh failed", "error", err)
	}
}
