// Package dataloader batches point lookups into set lookups.
//
// A Loader accepts single keys from many goroutines, coalesces them with a
// batch.Batcher and hands each group to a Fetcher as one distinct key set.
// The Fetcher answers with a map; keys absent from the map are reported to
// their callers as ErrNotFound. An optional cache.Store answers repeated
// loads without a fetch.
package dataloader
