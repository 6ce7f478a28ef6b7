package batch

import "context"

// Item is one deduplicated request handed to an Executor.
type Item[K comparable, P any] struct {
	Key     K
	Payload P
}

// Result is the outcome delivered to every waiter of one key.
type Result[R any] struct {
	Value R
	Err   error
}

// Ok wraps a successful value.
func Ok[R any](v R) Result[R] {
	return Result[R]{Value: v}
}

// Fail wraps a per-key error.
func Fail[R any](err error) Result[R] {
	return Result[R]{Err: err}
}

// Executor performs the downstream operation for one flushed group.
//
// items holds each distinct key once, in the order keys were first submitted.
// A non-nil error fails every waiter of the group. Otherwise the returned
// slice must be positional: results[i] belongs to items[i].
//
// ctx is the Batcher's bound context. Implementations should stop early when
// it is cancelled; waiters have already been released by then.
type Executor[K comparable, P, R any] interface {
	Execute(ctx context.Context, items []Item[K, P]) ([]Result[R], error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc[K comparable, P, R any] func(ctx context.Context, items []Item[K, P]) ([]Result[R], error)

// Execute calls f.
func (f ExecutorFunc[K, P, R]) Execute(ctx context.Context, items []Item[K, P]) ([]Result[R], error) {
	return f(ctx, items)
}
