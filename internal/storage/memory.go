package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	count     int64
	isCounter bool
	expiresAt time.Time
}

// MemoryStore is a single-process CounterStore for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:     now,
		entries: make(map[string]*memoryEntry),
	}
}

// lookup returns the live entry for key, dropping it when expired.
func (m *MemoryStore) lookup(key string) *memoryEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *MemoryStore) counter(key string) int64 {
	if e := m.lookup(key); e != nil && e.isCounter {
		return e.count
	}
	return 0
}

func (m *MemoryStore) incr(key string, ttl time.Duration) int64 {
	e := m.lookup(key)
	if e == nil {
		e = &memoryEntry{isCounter: true}
		if ttl > 0 {
			e.expiresAt = m.now().Add(ttl)
		}
		m.entries[key] = e
	}
	e.isCounter = true
	e.count++
	return e.count
}

func (m *MemoryStore) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.incr(key, ttl), nil
}

func (m *MemoryStore) ConditionalIncrement(_ context.Context, currentKey, previousKey string, limit int64, previousWeight float64, ttl time.Duration) (WindowResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.counter(currentKey)
	previous := m.counter(previousKey)

	if float64(current)+float64(previous)*previousWeight < float64(limit) {
		current = m.incr(currentKey, ttl)
		return WindowResult{Allowed: true, Current: current, Previous: previous}, nil
	}

	return WindowResult{Allowed: false, Current: current, Previous: previous}, nil
}

func (m *MemoryStore) Counts(_ context.Context, currentKey, previousKey string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.counter(currentKey), m.counter(previousKey), nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(key)
	if e == nil {
		return "", ErrCacheMiss
	}
	if e.isCounter {
		return fmt.Sprintf("%d", e.count), nil
	}
	return e.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &memoryEntry{}
	switch v := value.(type) {
	case string:
		e.value = v
	case []byte:
		e.value = string(v)
	default:
		e.value = fmt.Sprint(v)
	}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

var (
	_ CounterStore = (*MemoryStore)(nil)
	_ CounterStore = (*RedisClient)(nil)
)
