package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "rt:"
	redisChangesStream = "rt:changes"
)

// RedisStore is the production Store. Every leaf path maps to one Redis key
// under the "rt:" prefix; subtree reads assemble the tree from a prefix scan.
// Multi-path updates run through MULTI/EXEC, so each batch is applied as one
// unit. Mutations are announced on a pub/sub channel that backs Watch, and a
// ping loop drives the Connected stream.
type RedisStore struct {
	client       *redis.Client
	pingInterval time.Duration

	watchMu   sync.Mutex
	watchSeq  int
	watchers  map[int]*redisWatcher
	connSeq   int
	connChans map[int]chan bool

	disconnects *disconnectRegistry

	ctx    context.Context
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

type redisWatcher struct {
	path string
	ch   chan json.RawMessage
}

// NewRedisStore creates a Redis-backed store. Call Start before use and Close
// on shutdown.
func NewRedisStore(client *redis.Client) *RedisStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisStore{
		client:       client,
		pingInterval: 5 * time.Second,
		watchers:     make(map[int]*redisWatcher),
		connChans:    make(map[int]chan bool),
		disconnects:  newDisconnectRegistry(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribes to the change feed and begins the connectivity probe.
func (s *RedisStore) Start() error {
	s.pubsub = s.client.Subscribe(s.ctx, redisChangesStream)
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return fmt.Errorf("subscribe to change feed: %w", err)
	}

	go s.processChanges()
	go s.connectivityLoop()

	log.Println("[REALTIME] Redis store started")
	return nil
}

// Close stops background loops and the change subscription.
func (s *RedisStore) Close() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

func (s *RedisStore) key(path string) string {
	return redisKeyPrefix + path
}

// scanSubtree returns all leaf entries strictly under path, keyed by store path.
func (s *RedisStore) scanSubtree(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.key(path)+"/*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if len(keys) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget %s: %w", path, err)
	}

	entries := make(map[string]json.RawMessage, len(keys))
	for i, key := range keys {
		str, ok := values[i].(string)
		if !ok {
			continue // key expired between scan and read
		}
		entries[strings.TrimPrefix(key, redisKeyPrefix)] = json.RawMessage(str)
	}
	return entries, nil
}

// getRaw assembles the JSON value at path, nil when absent.
func (s *RedisStore) getRaw(ctx context.Context, path string) (json.RawMessage, error) {
	val, err := s.client.Get(ctx, s.key(path)).Result()
	if err == nil {
		return json.RawMessage(val), nil
	}
	if err != redis.Nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	entries, err := s.scanSubtree(ctx, path)
	if err != nil {
		return nil, err
	}
	return assemble(path, entries), nil
}

func (s *RedisStore) Get(ctx context.Context, path string, dest interface{}) error {
	raw, err := s.getRaw(ctx, path)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

func (s *RedisStore) Children(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	entries, err := s.scanSubtree(ctx, path)
	if err != nil {
		return nil, err
	}

	names := childNames(path, entries)
	if len(names) == 0 {
		return nil, ErrNotFound
	}

	children := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		children[name] = assemble(path+"/"+name, entries)
	}
	return children, nil
}

func (s *RedisStore) Set(ctx context.Context, path string, value interface{}) error {
	return s.Update(ctx, map[string]interface{}{path: value})
}

func (s *RedisStore) Update(ctx context.Context, updates map[string]interface{}) error {
	leaves := make(map[string]json.RawMessage)
	for path, value := range updates {
		if value == nil {
			continue
		}
		flat, err := flatten(path, value)
		if err != nil {
			return err
		}
		for leafPath, raw := range flat {
			leaves[leafPath] = raw
		}
	}

	// Existing keys under each touched path are collected up front; the scan
	// runs outside the transaction, so a concurrent write to the same subtree
	// can survive a replacement. Last writer wins, same as every other
	// cross-client race against this store.
	var stale []string
	for path := range updates {
		stale = append(stale, s.key(path))
		entries, err := s.scanSubtree(ctx, path)
		if err != nil {
			return err
		}
		for leafPath := range entries {
			stale = append(stale, s.key(leafPath))
		}
	}

	pipe := s.client.TxPipeline()
	if len(stale) > 0 {
		pipe.Del(ctx, stale...)
	}
	for leafPath, raw := range leaves {
		pipe.Set(ctx, s.key(leafPath), string(raw), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	for path := range updates {
		if err := s.client.Publish(ctx, redisChangesStream, path).Err(); err != nil {
			log.Printf("[REALTIME] Failed to announce change at %s: %v", path, err)
		}
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]interface{}{path: nil})
}

func (s *RedisStore) Watch(path string) (<-chan json.RawMessage, func()) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.watchSeq++
	id := s.watchSeq
	w := &redisWatcher{path: path, ch: make(chan json.RawMessage, 16)}
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

// processChanges fans announced paths out to overlapping watchers.
func (s *RedisStore) processChanges() {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.dispatchChange(msg.Payload)
		}
	}
}

func (s *RedisStore) dispatchChange(changed string) {
	s.watchMu.Lock()
	targets := make([]*redisWatcher, 0, 2)
	for _, w := range s.watchers {
		if pathsOverlap(w.path, changed) {
			targets = append(targets, w)
		}
	}
	s.watchMu.Unlock()

	for _, w := range targets {
		ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
		raw, err := s.getRaw(ctx, w.path)
		cancel()
		if err != nil {
			continue
		}
		select {
		case w.ch <- raw:
		default: // slow watcher, drop; the next change re-delivers current state
		}
	}
}

func (s *RedisStore) Connected() (<-chan bool, func()) {
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

// connectivityLoop probes Redis and broadcasts state transitions.
func (s *RedisStore) connectivityLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	connected := true
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
			err := s.client.Ping(ctx).Err()
			cancel()

			now := err == nil
			if now == connected {
				continue
			}
			connected = now
			if connected {
				log.Println("[REALTIME] Store connection restored")
			} else {
				log.Printf("[REALTIME] Store connection lost: %v", err)
			}
			s.broadcastConnectivity(connected)
		}
	}
}

func (s *RedisStore) broadcastConnectivity(connected bool) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.connChans {
		select {
		case ch <- connected:
		default:
		}
	}
}

func (s *RedisStore) RegisterDisconnect(connID string, ops ...DisconnectOp) {
	s.disconnects.register(connID, ops...)
}

func (s *RedisStore) CancelDisconnect(connID string) {
	s.disconnects.cancel(connID)
}

func (s *RedisStore) RunDisconnect(ctx context.Context, connID string) error {
	ops := s.disconnects.take(connID)
	if len(ops) == 0 {
		return nil
	}
	return s.Update(ctx, opsToUpdates(ops))
}
