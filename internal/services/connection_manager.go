package services

import (
	"log"
	"sync"
	"time"

	"flowroom/internal/models"
)

// TabConnection is one live presence WebSocket, i.e. one open browser tab.
type TabConnection struct {
	ConnID    string
	SessionID string
	UserID    string
	RoomID    string
	CreatedAt time.Time
	WriteChan chan models.ServerMessage
}

// ConnectionManager tracks all live tab connections on this instance
type ConnectionManager struct {
	connections map[string]*TabConnection
	mutex       sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*TabConnection),
	}
}

// Add adds a new connection
func (cm *ConnectionManager) Add(conn *TabConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	log.Printf("✅ Tab connected: %s user=%s room=%s (Total: %d)", conn.ConnID, conn.UserID, conn.RoomID, len(cm.connections))
}

// Remove removes a connection
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		close(conn.WriteChan)
		delete(cm.connections, connID)
		log.Printf("❌ Tab disconnected: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID
func (cm *ConnectionManager) Get(connID string) (*TabConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// ForUser returns all of a user's live tab connections
func (cm *ConnectionManager) ForUser(userID string) []*TabConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var conns []*TabConnection
	for _, conn := range cm.connections {
		if conn.UserID == userID {
			conns = append(conns, conn)
		}
	}
	return conns
}
