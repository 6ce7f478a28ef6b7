// Package cache provides an in-memory key/value store with TTL expiration.
//
// The dataloader uses it to answer repeated loads without a downstream call.
// Key features:
//   - Generic over key and value types
//   - Configurable TTL via config file or environment variable
//   - Bounded size; the oldest entry is evicted when the store is full
//   - Expired entries are dropped on read and by CleanupExpired
//
// Entries live only as long as the process.
package cache
