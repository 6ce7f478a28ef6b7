package dataloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rshade/coalesce/internal/batch"
	"github.com/rshade/coalesce/internal/cache"
	"github.com/rshade/coalesce/internal/ctxtree"
)

// ErrNotFound is returned by Load when the Fetcher's result lacks the key.
var ErrNotFound = errors.New("key not found")

// Option configures a Loader.
type Option[K comparable, V any] func(*options[K, V])

type options[K comparable, V any] struct {
	store *cache.Store[K, V]
	log   zerolog.Logger
	batch []batch.Option
}

// WithCache answers loads from store before fetching and stores every
// fetched value in it.
func WithCache[K comparable, V any](store *cache.Store[K, V]) Option[K, V] {
	return func(o *options[K, V]) {
		o.store = store
	}
}

// WithLogger sets the logger used by the Loader and its Batcher.
func WithLogger[K comparable, V any](log zerolog.Logger) Option[K, V] {
	return func(o *options[K, V]) {
		o.log = log
		o.batch = append(o.batch, batch.WithLogger(log))
	}
}

// WithBatchOptions passes options through to the underlying Batcher.
func WithBatchOptions[K comparable, V any](opts ...batch.Option) Option[K, V] {
	return func(o *options[K, V]) {
		o.batch = append(o.batch, opts...)
	}
}

// Loader coalesces single-key loads into Fetcher calls.
type Loader[K comparable, V any] struct {
	batcher *batch.Batcher[K, struct{}, lookup[V]]
	store   *cache.Store[K, V]
	log     zerolog.Logger
}

// New creates a Loader bound to ctx. Cancelling ctx closes the Loader.
func New[K comparable, V any](
	ctx *ctxtree.Context,
	fetcher Fetcher[K, V],
	cfg batch.Config,
	opts ...Option[K, V],
) (*Loader[K, V], error) {
	if fetcher == nil {
		return nil, batch.ErrNilExecutor
	}

	o := options[K, V]{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store != nil && !o.store.IsEnabled() {
		o.store = nil
	}

	exec := &fetchExecutor[K, V]{fetcher: fetcher, store: o.store}
	b, err := batch.New[K, struct{}, lookup[V]](ctx, exec, cfg, o.batch...)
	if err != nil {
		return nil, fmt.Errorf("creating loader: %w", err)
	}

	return &Loader[K, V]{
		batcher: b,
		store:   o.store,
		log:     o.log.With().Str("component", "dataloader").Logger(),
	}, nil
}

// Load returns the value for key. It returns ErrNotFound when the Fetcher
// did not return the key, and the batch error kinds otherwise. A closed
// Loader returns batch.ErrClosed even for cached keys.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	if l.batcher.Closed() {
		var zero V
		return zero, batch.ErrClosed
	}
	if v, ok := l.cached(key); ok {
		return v, nil
	}

	res, err := l.batcher.Submit(ctx, key, struct{}{})
	if err != nil {
		var zero V
		return zero, err
	}
	if !res.found {
		var zero V
		return zero, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	return res.value, nil
}

// LoadMany loads keys together. Keys that were not found are omitted from
// the map. On failure the first error is returned along with the values that
// did load.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	if l.batcher.Closed() {
		return out, batch.ErrClosed
	}
	items := make([]batch.Item[K, struct{}], 0, len(keys))
	for _, k := range keys {
		if v, ok := l.cached(k); ok {
			out[k] = v
			continue
		}
		items = append(items, batch.Item[K, struct{}]{Key: k})
	}
	if len(items) == 0 {
		return out, nil
	}

	var firstErr error
	for i, res := range l.batcher.SubmitMany(ctx, items) {
		switch {
		case res.Err != nil:
			if firstErr == nil {
				firstErr = res.Err
			}
		case res.Value.found:
			out[items[i].Key] = res.Value.value
		}
	}
	return out, firstErr
}

// Prime stores value for key so later loads skip the Fetcher. It returns
// cache.ErrCacheDisabled when the Loader has no cache.
func (l *Loader[K, V]) Prime(key K, value V) error {
	if l.store == nil {
		return cache.ErrCacheDisabled
	}
	return l.store.Set(key, value)
}

// Clear drops key from the cache. It returns cache.ErrCacheDisabled when the
// Loader has no cache.
func (l *Loader[K, V]) Clear(key K) error {
	if l.store == nil {
		return cache.ErrCacheDisabled
	}
	return l.store.Delete(key)
}

// Flush hands pending keys to the Fetcher now.
func (l *Loader[K, V]) Flush() bool {
	return l.batcher.Flush()
}

// Close stops the Loader. Pending loads fail with batch.ErrClosed.
func (l *Loader[K, V]) Close() {
	l.batcher.Close()
}

// Drain waits for in-flight fetches.
func (l *Loader[K, V]) Drain(ctx context.Context) error {
	return l.batcher.Drain(ctx)
}

// Stats returns the underlying Batcher's stats.
func (l *Loader[K, V]) Stats() batch.StatsSnapshot {
	return l.batcher.Stats()
}

func (l *Loader[K, V]) cached(key K) (V, bool) {
	if l.store == nil {
		var zero V
		return zero, false
	}
	v, err := l.store.Get(key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheNotFound) {
			l.log.Debug().Err(err).Msg("cache miss")
		}
		return v, false
	}
	return v, true
}
