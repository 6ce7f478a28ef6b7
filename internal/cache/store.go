package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// Common cache errors.
var (
	ErrCacheNotFound = errors.New("cache entry not found")
	ErrCacheExpired  = errors.New("cache entry expired")
	ErrCacheDisabled = errors.New("cache is disabled")
)

// Store is an in-memory cache with TTL expiration and a size bound.
// Thread-safe for concurrent access.
type Store[K comparable, V any] struct {
	// enabled controls whether caching is active.
	enabled bool

	// ttl is applied to every entry written with Set.
	ttl time.Duration

	// maxEntries bounds the store (0 = unlimited).
	maxEntries int

	// mu protects entries and order.
	mu      sync.RWMutex
	entries map[K]*list.Element
	order   *list.List // oldest at the front
}

// item is what order holds.
type item[K comparable, V any] struct {
	key   K
	entry *Entry[V]
}

// NewStore creates an in-memory store. A disabled store rejects every
// operation with ErrCacheDisabled.
func NewStore[K comparable, V any](enabled bool, ttl time.Duration, maxEntries int) *Store[K, V] {
	if !enabled {
		return &Store[K, V]{enabled: false}
	}
	if ttl <= 0 {
		ttl = time.Duration(DefaultTTLSeconds) * time.Second
	}
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Store[K, V]{
		enabled:    true,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[K]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached value for key.
// Returns ErrCacheNotFound if the entry doesn't exist.
// Returns ErrCacheExpired if the entry has expired; the entry is removed.
func (s *Store[K, V]) Get(key K) (V, error) {
	var zero V
	if !s.enabled {
		return zero, ErrCacheDisabled
	}

	s.mu.RLock()
	el, ok := s.entries[key]
	var entry *Entry[V]
	if ok {
		entry = el.Value.(*item[K, V]).entry //nolint:forcetypeassert // order only holds *item
	}
	s.mu.RUnlock()

	if !ok {
		return zero, ErrCacheNotFound
	}
	if entry.IsExpired() {
		s.mu.Lock()
		// Another writer may have replaced the element in the meantime.
		if cur, still := s.entries[key]; still && cur == el {
			s.removeUnsafe(key, el)
		}
		s.mu.Unlock()
		return zero, ErrCacheExpired
	}
	return entry.Value, nil
}

// Set stores value under key, replacing any existing entry. When the store
// is full the oldest entry is evicted.
func (s *Store[K, V]) Set(key K, value V) error {
	if !s.enabled {
		return ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeUnsafe(key, el)
	}
	for s.maxEntries > 0 && s.order.Len() >= s.maxEntries {
		oldest := s.order.Front()
		s.removeUnsafe(oldest.Value.(*item[K, V]).key, oldest) //nolint:forcetypeassert // order only holds *item
	}

	s.entries[key] = s.order.PushBack(&item[K, V]{key: key, entry: NewEntry(value, s.ttl)})
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store[K, V]) Delete(key K) error {
	if !s.enabled {
		return ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeUnsafe(key, el)
	}
	return nil
}

// Clear removes all entries.
func (s *Store[K, V]) Clear() error {
	if !s.enabled {
		return ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[K]*list.Element)
	s.order.Init()
	return nil
}

// CleanupExpired removes all expired entries and reports how many it removed.
func (s *Store[K, V]) CleanupExpired() (int, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		it := el.Value.(*item[K, V]) //nolint:forcetypeassert // order only holds *item
		if it.entry.IsExpired() {
			s.removeUnsafe(it.key, el)
			removed++
		}
		el = next
	}
	return removed, nil
}

// Count returns the number of entries, including expired ones not yet removed.
func (s *Store[K, V]) Count() (int, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len(), nil
}

// IsEnabled returns true if caching is enabled.
func (s *Store[K, V]) IsEnabled() bool {
	return s.enabled
}

// GetTTL returns the TTL applied to new entries.
func (s *Store[K, V]) GetTTL() time.Duration {
	return s.ttl
}

// GetMaxEntries returns the size bound (0 = unlimited).
func (s *Store[K, V]) GetMaxEntries() int {
	return s.maxEntries
}

// removeUnsafe drops key without locking.
// Should only be called when already holding the write lock.
func (s *Store[K, V]) removeUnsafe(key K, el *list.Element) {
	s.order.Remove(el)
	delete(s.entries, key)
}
