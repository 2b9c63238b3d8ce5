package presence

import "flowroom/internal/realtime"

// Store layout roots.
const (
	RootPresence  = "Presence"
	RootRoomIndex = "RoomIndex"
	RootTabCounts = "tabCounts"
	RootTimers    = "Timers"
)

// UserSessionsPath is Presence/{userId}/sessions.
func UserSessionsPath(userID string) string {
	return realtime.Join(RootPresence, userID, "sessions")
}

// SessionPath is Presence/{userId}/sessions/{sessionId}.
func SessionPath(userID, sessionID string) string {
	return realtime.Join(RootPresence, userID, "sessions", sessionID)
}

// RoomIndexRoot is RoomIndex/{roomId}.
func RoomIndexRoot(roomID string) string {
	return realtime.Join(RootRoomIndex, roomID)
}

// RoomIndexPath is RoomIndex/{roomId}/{userId}.
func RoomIndexPath(roomID, userID string) string {
	return realtime.Join(RootRoomIndex, roomID, userID)
}

// TabCountRoot is tabCounts/{userId}.
func TabCountRoot(userID string) string {
	return realtime.Join(RootTabCounts, userID)
}

// TabSessionsPath is tabCounts/{userId}/sessions.
func TabSessionsPath(userID string) string {
	return realtime.Join(RootTabCounts, userID, "sessions")
}

// TabSessionPath is tabCounts/{userId}/sessions/{sessionId}.
func TabSessionPath(userID, sessionID string) string {
	return realtime.Join(RootTabCounts, userID, "sessions", sessionID)
}

// TimerPath is Timers/{userId}, the shared per-user work timer record.
func TimerPath(userID string) string {
	return realtime.Join(RootTimers, userID)
}
