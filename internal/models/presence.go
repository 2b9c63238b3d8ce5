package models

// Device classifies the client that opened a session.
type Device string

const (
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
	DeviceDesktop Device = "desktop"
)

// Session is one browser tab's live connection record for one room visit.
// It is owned exclusively by the tab that created it and lives at
// Presence/{userId}/sessions/{sessionId} in the realtime store.
// All timestamps are epoch milliseconds.
type Session struct {
	SessionID       string `json:"sessionId"`
	UserID          string `json:"userId"`
	RoomID          string `json:"roomId"`
	RoomType        string `json:"roomType"`
	IsActive        bool   `json:"isActive"`
	LastSeen        int64  `json:"lastSeen"`
	TabVisible      bool   `json:"tabVisible"`
	Device          Device `json:"device"`
	ConnectedAt     int64  `json:"connectedAt"`
	CurrentTaskID   string `json:"currentTaskId,omitempty"`
	CurrentTaskName string `json:"currentTaskName,omitempty"`
	Recovered       bool   `json:"recovered,omitempty"`
}

// RoomIndexEntry is the denormalized "is this user doing active work in this
// room" projection at RoomIndex/{roomId}/{userId}. One entry per (room, user),
// not per session.
type RoomIndexEntry struct {
	UserID          string `json:"userId"`
	IsActive        bool   `json:"isActive"`
	JoinedAt        int64  `json:"joinedAt"`
	LastUpdated     int64  `json:"lastUpdated"`
	CurrentTaskID   string `json:"currentTaskId,omitempty"`
	CurrentTaskName string `json:"currentTaskName,omitempty"`
}

// TabSession is the per-tab liveness record at
// tabCounts/{userId}/sessions/{sessionId}, independent of Session.
type TabSession struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	RoomType  string `json:"roomType"`
	LastSeen  int64  `json:"lastSeen"`
}

// TabCount is the derived tab aggregate at tabCounts/{userId}, recomputed
// from live TabSessions on every heartbeat.
type TabCount struct {
	Count       int   `json:"count"`
	LastUpdated int64 `json:"lastUpdated"`
}

// TimerRecord is the shared per-user work timer at Timers/{userId}. The
// arbiter stops it when pausing tasks in other rooms.
type TimerRecord struct {
	IsRunning  bool  `json:"isRunning"`
	LastPaused int64 `json:"lastPaused,omitempty"`
}

// RoomTypePrivate marks invite-only rooms; anything else is treated as public.
const RoomTypePrivate = "private"
