package dataloader

import (
	"context"

	"github.com/rshade/coalesce/internal/batch"
	"github.com/rshade/coalesce/internal/cache"
)

// Fetcher loads a set of keys in one downstream call.
//
// keys are distinct and in first-requested order. A key missing from the
// returned map is not found. A non-nil error fails every key in the call.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, keys []K) (map[K]V, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Fetch calls f.
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, keys []K) (map[K]V, error) {
	return f(ctx, keys)
}

// lookup is the per-key batch result; found is false for missing keys.
type lookup[V any] struct {
	value V
	found bool
}

// fetchExecutor turns a Fetcher into a batch.Executor.
type fetchExecutor[K comparable, V any] struct {
	fetcher Fetcher[K, V]
	store   *cache.Store[K, V]
}

func (e *fetchExecutor[K, V]) Execute(
	ctx context.Context,
	items []batch.Item[K, struct{}],
) ([]batch.Result[lookup[V]], error) {
	keys := make([]K, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}

	values, err := e.fetcher.Fetch(ctx, keys)
	if err != nil {
		return nil, err
	}

	results := make([]batch.Result[lookup[V]], len(keys))
	for i, k := range keys {
		v, ok := values[k]
		results[i] = batch.Ok(lookup[V]{value: v, found: ok})
		if ok && e.store != nil {
			_ = e.store.Set(k, v)
		}
	}
	return results, nil
}
