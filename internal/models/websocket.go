package models

// ClientMessage is a message from a browser tab over the presence WebSocket.
type ClientMessage struct {
	Type     string `json:"type"` // "set_active", "update_task", "visibility", "ping"
	IsActive *bool  `json:"isActive,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
	TaskName string `json:"taskName,omitempty"`
	Visible  *bool  `json:"visible,omitempty"`
}

// ServerMessage is a message pushed to a browser tab.
type ServerMessage struct {
	Type         string `json:"type"` // "connected", "active_changed", "pong", "error"
	SessionID    string `json:"sessionId,omitempty"`
	IsActive     *bool  `json:"isActive,omitempty"`
	Content      string `json:"content,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
