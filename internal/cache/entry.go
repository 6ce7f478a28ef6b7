package cache

import "time"

// Entry is a single cached value with TTL metadata.
type Entry[V any] struct {
	// Value is the cached value.
	Value V

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time

	// ExpiresAt is when the entry stops being served.
	ExpiresAt time.Time

	// TTL is the lifetime the entry was created with.
	TTL time.Duration
}

// NewEntry creates an entry that expires ttl from now.
func NewEntry[V any](value V, ttl time.Duration) *Entry[V] {
	now := time.Now()
	return &Entry[V]{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		TTL:       ttl,
	}
}

// IsExpired reports whether the current time is past ExpiresAt.
func (e *Entry[V]) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}
