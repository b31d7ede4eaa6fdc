package kvstore

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// KVStore is a concurrency-safe map whose entries optionally expire.
type KVStore[K comparable, V any] struct {
	data map[K]entry[V]
	ttl  time.Duration
	now  func() time.Time
	mu   sync.RWMutex
}

// New creates new KVStore instance. Entries never expire when ttl is zero.
func New[K comparable, V any](ttl time.Duration) *KVStore[K, V] {
	return &KVStore[K, V]{
		data: make(map[K]entry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns value by key, ignoring expired entries.
func (s *KVStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.data[key]
	if !ok || s.expired(item) {
		var zero V
		return zero, false
	}

	return item.value, true
}

// Set stores value in storage making it accessible by key.
func (s *KVStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := entry[V]{value: value}
	if s.ttl > 0 {
		item.expiresAt = s.now().Add(s.ttl)
	}
	s.data[key] = item
}

// Remove entry by key.
func (s *KVStore[K, V]) Remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Purge drops expired entries and returns how many are left.
func (s *KVStore[K, V]) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, item := range s.data {
		if s.expired(item) {
			delete(s.data, key)
		}
	}

	return len(s.data)
}

// Len returns the number of stored entries, counting expired ones
// that were not purged yet.
func (s *KVStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

func (s *KVStore[K, V]) expired(item entry[V]) bool {
	return !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt)
}
