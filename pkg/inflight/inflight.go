// Package inflight tracks operations that are currently being processed so a
// second submission for the same key can be turned away.
package inflight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInFlight is returned by Acquire while the key is held.
var ErrInFlight = errors.New("operation already in flight")

// Release frees a key obtained from Acquire. It is safe to call more than once.
type Release func()

// Set is the abstraction over the memory and Redis backends.
type Set interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Key joins parts into a set key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Memory is a process-local set with per-key expiry.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]entry
	now  func() time.Time
}

type entry struct {
	owner   string
	expires time.Time
}

// NewMemory builds a process-local set. Keys left unreleased expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Memory{ttl: ttl, keys: make(map[string]entry), now: time.Now}
}

// Acquire marks key as in flight.
func (m *Memory) Acquire(_ context.Context, key string) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.keys[key]; ok && now.Before(e.expires) {
		return nil, ErrInFlight
	}
	owner := uuid.NewString()
	m.keys[key] = entry{owner: owner, expires: now.Add(m.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.keys[key]; ok && e.owner == owner {
				delete(m.keys, key)
			}
		})
	}, nil
}

// Len returns the number of tracked keys, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// releaseScript deletes the key only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis shares the set across API replicas using SET NX with a TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis builds a Redis-backed set.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "inflight"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Acquire marks key as in flight across all replicas.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	full := r.prefix + ":" + key
	owner := uuid.NewString()

	ok, err := r.client.SetNX(ctx, full, owner, r.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{full}, owner).Err()
		})
	}, nil
}
