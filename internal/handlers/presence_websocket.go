package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"flowroom/internal/models"
	"flowroom/internal/presence"
	"flowroom/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// PresenceWebSocketHandler handles presence WebSocket connections. One
// connection is one browser tab visiting one room; the session lives exactly
// as long as the socket.
type PresenceWebSocketHandler struct {
	connManager *services.ConnectionManager
	registrar   *presence.Registrar
}

// NewPresenceWebSocketHandler creates a new presence WebSocket handler
func NewPresenceWebSocketHandler(connManager *services.ConnectionManager, registrar *presence.Registrar) *PresenceWebSocketHandler {
	return &PresenceWebSocketHandler{
		connManager: connManager,
		registrar:   registrar,
	}
}

// Handle handles a new WebSocket connection
func (h *PresenceWebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	userID, _ := c.Locals("user_id").(string)
	roomID := c.Query("roomId")
	roomType := c.Query("roomType")
	device := models.Device(c.Query("device"))

	if userID == "" || roomID == "" {
		writeClose(c, "userId and roomId are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	handle, err := h.registrar.Open(ctx, userID, roomID, roomType, device)
	cancel()
	if err != nil {
		log.Printf("❌ Failed to open presence session for user %s: %v", userID, err)
		writeClose(c, "Failed to open presence session")
		return
	}

	done := make(chan struct{})
	tabConn := &services.TabConnection{
		ConnID:    connID,
		SessionID: handle.SessionID,
		UserID:    userID,
		RoomID:    roomID,
		CreatedAt: time.Now(),
		WriteChan: make(chan models.ServerMessage, 32),
	}

	h.connManager.Add(tabConn)
	defer func() {
		close(done)
		h.connManager.Remove(connID)

		closeCtx, closeCancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := handle.Close(closeCtx); err != nil {
			log.Printf("⚠️  Presence session close failed for %s: %v", handle.SessionID, err)
		}
		closeCancel()
	}()

	c.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	go h.pingLoop(c, tabConn, done)
	go h.writeLoop(c, tabConn)

	tabConn.WriteChan <- models.ServerMessage{
		Type:      "connected",
		SessionID: handle.SessionID,
		Content:   "Presence session opened",
	}

	h.readLoop(c, tabConn, handle)
}

// pingLoop keeps the socket alive between client heartbeats
func (h *PresenceWebSocketHandler) pingLoop(c *websocket.Conn, tabConn *services.TabConnection, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", tabConn.ConnID, err)
				return
			}
		}
	}
}

// writeLoop serializes all writes to the socket; it owns the connection's
// write side and exits when the connection manager closes the channel.
func (h *PresenceWebSocketHandler) writeLoop(c *websocket.Conn, tabConn *services.TabConnection) {
	for msg := range tabConn.WriteChan {
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("⚠️  WebSocket write error for %s: %v", tabConn.ConnID, err)
			return
		}
	}
}

// readLoop handles incoming messages from the client
func (h *PresenceWebSocketHandler) readLoop(c *websocket.Conn, tabConn *services.TabConnection, handle *presence.SessionHandle) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("❌ WebSocket read error for %s: %v", tabConn.ConnID, err)
			}
			return
		}

		c.SetReadDeadline(time.Now().Add(90 * time.Second))

		var clientMsg models.ClientMessage
		if err := json.Unmarshal(msg, &clientMsg); err != nil {
			tabConn.WriteChan <- models.ServerMessage{
				Type:         "error",
				ErrorCode:    "invalid_format",
				ErrorMessage: "Invalid message format",
			}
			continue
		}

		switch clientMsg.Type {
		case "ping":
			tabConn.WriteChan <- models.ServerMessage{Type: "pong"}
		case "set_active":
			h.handleSetActive(tabConn, handle, clientMsg)
		case "update_task":
			h.handleUpdateTask(tabConn, handle, clientMsg)
		case "visibility":
			h.handleVisibility(tabConn, handle, clientMsg)
		default:
			log.Printf("⚠️  Unknown message type from %s: %s", tabConn.ConnID, clientMsg.Type)
		}
	}
}

func (h *PresenceWebSocketHandler) handleSetActive(tabConn *services.TabConnection, handle *presence.SessionHandle, msg models.ClientMessage) {
	if msg.IsActive == nil {
		tabConn.WriteChan <- models.ServerMessage{
			Type:         "error",
			ErrorCode:    "missing_field",
			ErrorMessage: "set_active requires isActive",
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := handle.SetActive(ctx, *msg.IsActive); err != nil {
		log.Printf("❌ set_active failed for %s: %v", tabConn.ConnID, err)
		tabConn.WriteChan <- models.ServerMessage{
			Type:         "error",
			ErrorCode:    "set_active_failed",
			ErrorMessage: "Failed to change active state",
		}
		return
	}

	tabConn.WriteChan <- models.ServerMessage{
		Type:      "active_changed",
		SessionID: handle.SessionID,
		IsActive:  msg.IsActive,
	}
}

func (h *PresenceWebSocketHandler) handleUpdateTask(tabConn *services.TabConnection, handle *presence.SessionHandle, msg models.ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := handle.UpdateCurrentTask(ctx, msg.TaskID, msg.TaskName); err != nil {
		log.Printf("❌ update_task failed for %s: %v", tabConn.ConnID, err)
		tabConn.WriteChan <- models.ServerMessage{
			Type:         "error",
			ErrorCode:    "update_task_failed",
			ErrorMessage: "Failed to update current task",
		}
	}
}

func (h *PresenceWebSocketHandler) handleVisibility(tabConn *services.TabConnection, handle *presence.SessionHandle, msg models.ClientMessage) {
	if msg.Visible == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := handle.SetTabVisible(ctx, *msg.Visible); err != nil {
		log.Printf("❌ visibility update failed for %s: %v", tabConn.ConnID, err)
	}
}

func writeClose(c *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
}
