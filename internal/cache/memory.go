package cache

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Memory is a process-local LRU cache with a fixed TTL.
type Memory struct {
	mu           sync.Mutex
	ttl          time.Duration
	entries      *lru.Cache
	byCollection map[string]map[string]struct{}
	now          func() time.Time
}

type memoryEntry struct {
	collection string
	value      []byte
	expires    time.Time
}

// NewMemory builds a Memory cache. Zero ttl or maxEntries select the defaults.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	m := &Memory{
		ttl:          ttl,
		entries:      lru.New(maxEntries),
		byCollection: make(map[string]map[string]struct{}),
		now:          time.Now,
	}
	m.entries.OnEvicted = m.forget
	return m
}

// Get returns a copy of a live entry. Expired entries are removed on access.
func (m *Memory) Get(_ context.Context, key Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.String()
	v, ok := m.entries.Get(k)
	if !ok {
		return nil, false, nil
	}
	entry := v.(memoryEntry)
	if !m.now().Before(entry.expires) {
		m.entries.Remove(k)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Set stores a copy of value, evicting the least recently used entry when full.
func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.String()
	m.entries.Add(k, memoryEntry{
		collection: key.Collection,
		value:      append([]byte(nil), value...),
		expires:    m.now().Add(m.ttl),
	})
	keys, ok := m.byCollection[key.Collection]
	if !ok {
		keys = make(map[string]struct{})
		m.byCollection[key.Collection] = keys
	}
	keys[k] = struct{}{}
	return nil
}

// Invalidate removes every entry of the collection.
func (m *Memory) Invalidate(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.byCollection[collection] {
		m.entries.Remove(k)
	}
	delete(m.byCollection, collection)
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len()
}

// forget runs under m.mu via the lru eviction callback.
func (m *Memory) forget(key lru.Key, value any) {
	entry := value.(memoryEntry)
	keys := m.byCollection[entry.collection]
	delete(keys, key.(string))
	if len(keys) == 0 {
		delete(m.byCollection, entry.collection)
	}
}
