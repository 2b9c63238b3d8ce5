package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// flatten decomposes value into leaf entries keyed by full path. JSON objects
// recurse into their fields; every other JSON value is a leaf.
func flatten(path string, value interface{}) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", path, err)
	}

	out := make(map[string]json.RawMessage)
	flattenRaw(path, raw, out)
	return out, nil
}

func flattenRaw(path string, raw json.RawMessage, out map[string]json.RawMessage) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err == nil {
			for k, v := range fields {
				flattenRaw(path+"/"+k, v, out)
			}
			return
		}
	}
	out[path] = raw
}

// assemble rebuilds the JSON value at prefix from flat leaf entries. Returns
// nil when nothing lives at or under the prefix.
func assemble(prefix string, entries map[string]json.RawMessage) json.RawMessage {
	if leaf, ok := entries[prefix]; ok {
		return leaf
	}

	tree := make(map[string]interface{})
	found := false
	for path, leaf := range entries {
		if !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		found = true
		insertLeaf(tree, strings.Split(path[len(prefix)+1:], "/"), leaf)
	}
	if !found {
		return nil
	}

	raw, err := json.Marshal(tree)
	if err != nil {
		return nil
	}
	return raw
}

func insertLeaf(tree map[string]interface{}, segments []string, leaf json.RawMessage) {
	if len(segments) == 1 {
		tree[segments[0]] = leaf
		return
	}
	child, ok := tree[segments[0]].(map[string]interface{})
	if !ok {
		child = make(map[string]interface{})
		tree[segments[0]] = child
	}
	insertLeaf(child, segments[1:], leaf)
}

// childNames groups flat leaf paths under prefix by their first segment.
func childNames(prefix string, entries map[string]json.RawMessage) []string {
	seen := make(map[string]bool)
	for path := range entries {
		if !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		rest := path[len(prefix)+1:]
		if idx := strings.Index(rest, "/"); idx >= 0 {
			rest = rest[:idx]
		}
		seen[rest] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// disconnectRegistry holds per-connection deferred cleanup ops. Shared by all
// store implementations; ops live in process memory and are executed by the
// gateway when a tab's connection closes. Ops that die with the process are
// the stale-room sweeper's job to mop up.
type disconnectRegistry struct {
	mu  sync.Mutex
	ops map[string][]DisconnectOp
}

func newDisconnectRegistry() *disconnectRegistry {
	return &disconnectRegistry{ops: make(map[string][]DisconnectOp)}
}

func (r *disconnectRegistry) register(connID string, ops ...DisconnectOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[connID] = append(r.ops[connID], ops...)
}

func (r *disconnectRegistry) cancel(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ops, connID)
}

// take returns and clears the connection's ops.
func (r *disconnectRegistry) take(connID string) []DisconnectOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.ops[connID]
	delete(r.ops, connID)
	return ops
}

func (r *disconnectRegistry) registered(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops[connID])
}

func opsToUpdates(ops []DisconnectOp) map[string]interface{} {
	updates := make(map[string]interface{}, len(ops))
	for _, op := range ops {
		updates[op.Path] = op.Value
	}
	return updates
}
