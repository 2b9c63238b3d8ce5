package models

// UserProfile is the subset of the users collection joined into presence reads.
type UserProfile struct {
	ID        string `bson:"_id" json:"id"`
	Name      string `bson:"name" json:"name"`
	AvatarURL string `bson:"avatarUrl,omitempty" json:"avatarUrl,omitempty"`
	Timezone  string `bson:"timezone,omitempty" json:"timezone,omitempty"`
}

// PresenceUser is one row of the room presence response: a liveness-filtered
// RoomIndex entry joined with profile fields.
type PresenceUser struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	AvatarURL       string `json:"avatarUrl,omitempty"`
	IsActive        bool   `json:"isActive"`
	JoinedAt        int64  `json:"joinedAt"`
	LastUpdated     int64  `json:"lastUpdated"`
	CurrentTaskName string `json:"currentTaskName,omitempty"`
}

// PresenceSummary aggregates a room presence response.
type PresenceSummary struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// RoomPresenceResponse is the payload of GET /api/presence/:roomId.
type RoomPresenceResponse struct {
	RoomID  string          `json:"roomId"`
	Users   []PresenceUser  `json:"users"`
	Summary PresenceSummary `json:"summary"`
}
