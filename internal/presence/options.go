package presence

import (
	"context"
	"time"

	"flowroom/internal/config"
)

// TaskService is the task CRUD collaborator. The arbiter pauses in-progress
// tasks left behind in other rooms when a session activates.
type TaskService interface {
	Status(ctx context.Context, taskID string) (string, error)
	Pause(ctx context.Context, taskID string) error
}

// RoomService is the room membership collaborator, invoked when a user's last
// live tab leaves a room.
type RoomService interface {
	RemoveUserFromRoom(ctx context.Context, roomID, userID, roomType string) error
}

// Options carries the presence timing knobs and test seams.
type Options struct {
	HeartbeatInterval   time.Duration
	OfflineThreshold    time.Duration
	TabOfflineThreshold time.Duration

	// MaxHeartbeatFailures is how many consecutive failed ticks trigger a
	// forced session recovery.
	MaxHeartbeatFailures int

	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultOptions returns the production defaults (30s heartbeat, 65s offline,
// 70s tab offline, 3 strikes).
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval:    30 * time.Second,
		OfflineThreshold:     65 * time.Second,
		TabOfflineThreshold:  70 * time.Second,
		MaxHeartbeatFailures: 3,
		Clock:                time.Now,
	}
}

// OptionsFromConfig maps the config knobs onto Options.
func OptionsFromConfig(cfg config.PresenceConfig) Options {
	opts := DefaultOptions()
	if cfg.HeartbeatInterval > 0 {
		opts.HeartbeatInterval = cfg.HeartbeatInterval
	}
	if cfg.OfflineThreshold > 0 {
		opts.OfflineThreshold = cfg.OfflineThreshold
	}
	if cfg.TabOfflineThreshold > 0 {
		opts.TabOfflineThreshold = cfg.TabOfflineThreshold
	}
	return opts
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = def.HeartbeatInterval
	}
	if o.OfflineThreshold <= 0 {
		o.OfflineThreshold = def.OfflineThreshold
	}
	if o.TabOfflineThreshold <= 0 {
		o.TabOfflineThreshold = def.TabOfflineThreshold
	}
	if o.MaxHeartbeatFailures <= 0 {
		o.MaxHeartbeatFailures = def.MaxHeartbeatFailures
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

func (o Options) nowMillis() int64 {
	return o.Clock().UnixMilli()
}
