package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"stockadvisor/internal/clock"
)

// Store is a byte-value cache with per-entry TTL. Get reports a miss with
// ok=false and a nil error; err is only set when the backend failed.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// PriceKey is the cache key of a resolved canonical symbol.
func PriceKey(canonical string) string { return "price:" + canonical }

// IndicesKey holds the whole market index snapshot.
const IndicesKey = "indices:all"

const defaultShards = 16

// entry stores a cached value with expiry.
type entry struct {
	expiresAt time.Time
	val       []byte
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

// Memory is an in-process Store. Keys hash into shards that each have their
// own lock, so lookups for different symbols rarely contend.
type Memory struct {
	// MaxItems caps the total entry count, best effort. 0 means unbounded.
	MaxItems int

	now    clock.Func
	shards []*shard
}

type MemoryOption func(*Memory)

// WithClock overrides the time source used for expiry.
func WithClock(now clock.Func) MemoryOption {
	return func(m *Memory) { m.now = clock.OrNow(now) }
}

// WithShards sets the shard count.
func WithShards(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.shards = make([]*shard, n)
		}
	}
}

func NewMemory(maxItems int, opts ...MemoryOption) *Memory {
	m := &Memory{MaxItems: maxItems, now: time.Now, shards: make([]*shard, defaultShards)}
	for _, opt := range opts {
		opt(m)
	}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[string]entry)}
	}
	return m
}

func (m *Memory) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := m.shard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := m.now()
	s := m.shard(key)
	s.mu.Lock()
	s.items[key] = entry{expiresAt: now.Add(ttl), val: append([]byte(nil), val...)}
	s.mu.Unlock()

	if m.MaxItems > 0 {
		m.evict(now, s, key)
	}
	return nil
}

// evict trims the written shard down to its share of MaxItems: expired
// entries first, then arbitrary ones other than keep.
func (m *Memory) evict(now time.Time, s *shard, keep string) {
	limit := m.MaxItems / len(m.shards)
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) <= limit {
		return
	}
	for k, v := range s.items {
		if !now.Before(v.expiresAt) {
			delete(s.items, k)
		}
		if len(s.items) <= limit {
			return
		}
	}
	for k := range s.items {
		if len(s.items) <= limit {
			break
		}
		if k != keep {
			delete(s.items, k)
		}
	}
}
