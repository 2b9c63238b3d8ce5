package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when no value exists at the path.
var ErrNotFound = errors.New("realtime: path not found")

// DisconnectOp is a deferred write executed when a connection goes away.
// A nil Value removes the path.
type DisconnectOp struct {
	Path  string
	Value interface{}
}

// Store is the shared realtime key tree that all browser tabs coordinate
// through. Paths are slash-separated ("Presence/u1/sessions/s1"). Writing an
// object decomposes it into leaf entries, so individual fields can be updated
// or removed without rewriting their siblings. The store is the sole source
// of truth between tabs; no ordering is guaranteed across independent calls
// from different clients; the only atomicity primitive is Update, which
// applies its whole path set as one unit.
type Store interface {
	// Get unmarshals the value (leaf or assembled subtree) at path into dest.
	Get(ctx context.Context, path string, dest interface{}) error

	// Children returns the direct child names under path, each with its
	// assembled JSON value. Missing path yields ErrNotFound.
	Children(ctx context.Context, path string) (map[string]json.RawMessage, error)

	// Set replaces the subtree at path with value.
	Set(ctx context.Context, path string, value interface{}) error

	// Update atomically applies a multi-path write. Each entry replaces the
	// subtree at its path; a nil value deletes it. Partial application is
	// never observable.
	Update(ctx context.Context, updates map[string]interface{}) error

	// Remove deletes the subtree at path. Removing a missing path is a no-op.
	Remove(ctx context.Context, path string) error

	// Watch streams the assembled value at path after every mutation that
	// touches it (nil when the path is deleted). The returned cancel func
	// releases the watcher.
	Watch(path string) (<-chan json.RawMessage, func())

	// Connected streams connectivity transitions (true on reconnect, false on
	// loss). Only transitions are delivered, not the initial state.
	Connected() (<-chan bool, func())

	// RegisterDisconnect registers cleanup ops to run when the given
	// connection goes away. Must be called before publishing any live state
	// for that connection.
	RegisterDisconnect(connID string, ops ...DisconnectOp)

	// CancelDisconnect drops all registered ops for the connection.
	CancelDisconnect(connID string)

	// RunDisconnect executes and clears the connection's registered ops as
	// one atomic update.
	RunDisconnect(ctx context.Context, connID string) error
}

// Join builds a store path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}
