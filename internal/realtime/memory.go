package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and single-node
// development. It applies every mutation under one lock, so Update is
// trivially atomic. Connectivity is simulated through SetConnected.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage

	watchMu   sync.Mutex
	watchSeq  int
	watchers  map[int]*memoryWatcher
	connSeq   int
	connChans map[int]chan bool
	connected bool

	disconnects *disconnectRegistry
}

type memoryWatcher struct {
	path string
	ch   chan json.RawMessage
}

// NewMemoryStore creates an empty in-memory store in the connected state.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:        make(map[string]json.RawMessage),
		watchers:    make(map[int]*memoryWatcher),
		connChans:   make(map[int]chan bool),
		connected:   true,
		disconnects: newDisconnectRegistry(),
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string, dest interface{}) error {
	s.mu.RLock()
	raw := assemble(path, s.data)
	s.mu.RUnlock()

	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

func (s *MemoryStore) Children(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := childNames(path, s.data)
	if len(names) == 0 {
		return nil, ErrNotFound
	}

	children := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		children[name] = assemble(path+"/"+name, s.data)
	}
	return children, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value interface{}) error {
	return s.Update(ctx, map[string]interface{}{path: value})
}

func (s *MemoryStore) Update(ctx context.Context, updates map[string]interface{}) error {
	// Flatten everything first so a marshal failure leaves the store untouched.
	leaves := make(map[string]map[string]json.RawMessage, len(updates))
	for path, value := range updates {
		if value == nil {
			continue
		}
		flat, err := flatten(path, value)
		if err != nil {
			return err
		}
		leaves[path] = flat
	}

	s.mu.Lock()
	for path := range updates {
		s.deleteSubtree(path)
	}
	for _, flat := range leaves {
		for leafPath, raw := range flat {
			s.data[leafPath] = raw
		}
	}
	s.mu.Unlock()

	for path := range updates {
		s.notify(path)
	}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	s.mu.Lock()
	s.deleteSubtree(path)
	s.mu.Unlock()

	s.notify(path)
	return nil
}

// deleteSubtree removes the leaf at path and everything under it. Caller holds mu.
func (s *MemoryStore) deleteSubtree(path string) {
	delete(s.data, path)
	for key := range s.data {
		if strings.HasPrefix(key, path+"/") {
			delete(s.data, key)
		}
	}
}

func (s *MemoryStore) Watch(path string) (<-chan json.RawMessage, func()) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.watchSeq++
	id := s.watchSeq
	w := &memoryWatcher{path: path, ch: make(chan json.RawMessage, 16)}
	s.watchers[id] = w

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w.ch)
		}
	}
	return w.ch, cancel
}

// notify delivers the current value at each affected watch path. Slow
// watchers drop updates rather than block writers.
func (s *MemoryStore) notify(changed string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, w := range s.watchers {
		if !pathsOverlap(w.path, changed) {
			continue
		}
		s.mu.RLock()
		raw := assemble(w.path, s.data)
		s.mu.RUnlock()

		select {
		case w.ch <- raw:
		default:
		}
	}
}

func pathsOverlap(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func (s *MemoryStore) Connected() (<-chan bool, func()) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.connSeq++
	id := s.connSeq
	ch := make(chan bool, 4)
	s.connChans[id] = ch

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if c, ok := s.connChans[id]; ok {
			delete(s.connChans, id)
			close(c)
		}
	}
	return ch, cancel
}

// SetConnected simulates a connectivity transition. No-op when the state is
// unchanged.
func (s *MemoryStore) SetConnected(connected bool) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.connected == connected {
		return
	}
	s.connected = connected
	for _, ch := range s.connChans {
		select {
		case ch <- connected:
		default:
		}
	}
}

func (s *MemoryStore) RegisterDisconnect(connID string, ops ...DisconnectOp) {
	s.disconnects.register(connID, ops...)
}

func (s *MemoryStore) CancelDisconnect(connID string) {
	s.disconnects.cancel(connID)
}

func (s *MemoryStore) RunDisconnect(ctx context.Context, connID string) error {
	ops := s.disconnects.take(connID)
	if len(ops) == 0 {
		return nil
	}
	return s.Update(ctx, opsToUpdates(ops))
}

// RegisteredDisconnects reports how many cleanup ops are pending for a
// connection. Used by tests and the recovery monitor's diagnostics.
func (s *MemoryStore) RegisteredDisconnects(connID string) int {
	return s.disconnects.registered(connID)
}
