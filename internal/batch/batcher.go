package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/rshade/coalesce/internal/ctxtree"
)

// Batcher coalesces keyed requests into executor calls.
//
// Batcher owns a node derived from the context passed to New. Cancelling that
// context (or any ancestor) closes the Batcher and fails pending requests
// with the cancellation error. Executor calls run as tasks tracked on the
// node, so Canceller.Shutdown on an ancestor waits for them.
type Batcher[K comparable, P, R any] struct {
	ctx    *ctxtree.Context
	cancel *ctxtree.Canceller
	exec   Executor[K, P, R]
	cfg    Config

	name      string
	log       zerolog.Logger
	stats     *Stats
	observers []Observer

	// sem limits in-flight executor calls; nil when unlimited.
	sem *semaphore.Weighted

	// mu guards open and closed.
	mu     sync.Mutex
	open   *group[K, P, R]
	closed bool

	// stop releases the context watcher once the Batcher is closed.
	stop chan struct{}
}

// New creates a Batcher bound to ctx.
func New[K comparable, P, R any](
	ctx *ctxtree.Context,
	exec Executor[K, P, R],
	cfg Config,
	opts ...Option,
) (*Batcher[K, P, R], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	stats := NewStats()
	bctx, cancel := ctxtree.Derive(ctx)

	b := &Batcher[K, P, R]{
		ctx:       bctx,
		cancel:    cancel,
		exec:      exec,
		cfg:       cfg,
		name:      o.name,
		log:       o.logger.With().Str("component", "batcher").Str("batcher", o.name).Logger(),
		stats:     stats,
		observers: append([]Observer{stats}, o.observers...),
		stop:      make(chan struct{}),
	}
	if cfg.Concurrency > 0 {
		b.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
	}

	go b.watch()

	return b, nil
}

// NewWithDefaults creates a Batcher with DefaultConfig.
func NewWithDefaults[K comparable, P, R any](
	ctx *ctxtree.Context,
	exec Executor[K, P, R],
	opts ...Option,
) (*Batcher[K, P, R], error) {
	return New(ctx, exec, DefaultConfig(), opts...)
}

// Submit adds a request and waits for its result.
//
// If key is already pending in the open group the caller joins the existing
// entry and payload is ignored. Submit returns ErrClosed without waiting once
// the Batcher is closed. If ctx or the bound context is cancelled first,
// Submit returns a *ctxtree.CancelError; the key may still be executed for
// other waiters.
func (b *Batcher[K, P, R]) Submit(ctx context.Context, key K, payload P) (R, error) {
	entries, err := b.enqueue([]Item[K, P]{{Key: key, Payload: payload}})
	if err != nil {
		var zero R
		return zero, err
	}

	res := b.await(ctx, entries[0])
	return res.Value, res.Err
}

// SubmitMany submits several requests under one lock acquisition and waits
// for all of them. The result slice is positional. Duplicate keys, within
// the call or against other callers, follow the same rules as Submit.
func (b *Batcher[K, P, R]) SubmitMany(ctx context.Context, items []Item[K, P]) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	entries, err := b.enqueue(items)
	if err != nil {
		for i := range results {
			results[i] = Fail[R](err)
		}
		return results
	}

	for i, e := range entries {
		results[i] = b.await(ctx, e)
	}
	return results
}

// Flush hands the open group to the executor now. It reports whether there
// was a group to flush.
func (b *Batcher[K, P, R]) Flush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.open == nil {
		return false
	}
	b.flushLocked(TriggerExplicit)
	return true
}

// Close stops accepting work and fails the open group with ErrClosed. Close
// is idempotent.
//
// Groups already handed to the executor are not failed: their waiters get the
// executor's results, not ErrClosed. Use Drain to wait for them.
func (b *Batcher[K, P, R]) Close() {
	b.shutdown(TriggerClose, ErrClosed)
}

// Closed reports whether the Batcher refuses submissions, either after Close
// or once its bound context is cancelled.
func (b *Batcher[K, P, R]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed || b.ctx.IsCancelled()
}

// Drain waits until no executor call is in flight, or until ctx is done.
func (b *Batcher[K, P, R]) Drain(ctx context.Context) error {
	return b.cancel.Wait(ctx)
}

// Name returns the name used in logs and metrics.
func (b *Batcher[K, P, R]) Name() string {
	return b.name
}

// Config returns the batching configuration.
func (b *Batcher[K, P, R]) Config() Config {
	return b.cfg
}

// Stats returns a snapshot of the batcher's activity.
func (b *Batcher[K, P, R]) Stats() StatsSnapshot {
	return b.stats.Snapshot()
}

func (b *Batcher[K, P, R]) enqueue(items []Item[K, P]) ([]*entry[R], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.ctx.IsCancelled() {
		return nil, ErrClosed
	}

	entries := make([]*entry[R], len(items))
	for i, it := range items {
		if b.open == nil {
			b.open = b.openGroupLocked()
		}

		e, dedup := b.open.add(it.Key, it.Payload)
		entries[i] = e
		for _, obs := range b.observers {
			obs.ObserveSubmit(dedup)
		}

		if !dedup && b.open.size() >= b.cfg.MaxBatchSize {
			b.flushLocked(TriggerSize)
		}
	}
	return entries, nil
}

// openGroupLocked creates a group and arms its time trigger.
func (b *Batcher[K, P, R]) openGroupLocked() *group[K, P, R] {
	g := newGroup[K, P, R]()
	g.timer = time.AfterFunc(b.cfg.MaxWait, func() {
		b.flushIfOpen(g, TriggerTime)
	})
	return g
}

func (b *Batcher[K, P, R]) flushIfOpen(g *group[K, P, R], trigger Trigger) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.open != g {
		return
	}
	b.flushLocked(trigger)
}

// flushLocked swaps out the open group and dispatches it. New submissions
// start a fresh group and never wait on this one.
func (b *Batcher[K, P, R]) flushLocked(trigger Trigger) {
	g := b.open
	b.open = nil
	g.stopTimer()

	b.log.Debug().
		Str("group", g.id.String()).
		Str("trigger", string(trigger)).
		Int("keys", g.size()).
		Int("waiters", g.waiters).
		Dur("age", time.Since(g.created)).
		Msg("flushing batch")

	ctxtree.Go(b.ctx, func(ctx context.Context) {
		b.run(ctx, g, trigger)
	})
}

// run executes one flushed group and resolves all of its waiters.
func (b *Batcher[K, P, R]) run(ctx context.Context, g *group[K, P, R], trigger Trigger) {
	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			b.abort(g, TriggerCancel, ctxtree.CancelErrorOf(ctx))
			return
		}
		defer b.sem.Release(1)
	}

	// The bound context may have been cancelled while this group was queued.
	if err := ctxtree.CancelErrorOf(ctx); err != nil {
		b.abort(g, TriggerCancel, err)
		return
	}

	start := time.Now()

	// An executor that calls runtime.Goexit never returns to this frame, but
	// deferred calls still run. settled stays false on that path.
	settled := false
	defer func() {
		if !settled {
			b.finish(g, trigger, time.Since(start), ErrExecutorExited)
		}
	}()

	results, err := b.call(ctx, g.items)
	elapsed := time.Since(start)

	if err == nil && len(results) != len(g.items) {
		err = fmt.Errorf("%w: got %d, want %d", ErrResultCount, len(results), len(g.items))
	}

	settled = true
	if err != nil {
		b.finish(g, trigger, elapsed, err)
		return
	}

	for _, obs := range b.observers {
		obs.ObserveFlush(trigger, g.size(), g.waiters, elapsed, nil)
	}
	g.complete(results)
	b.log.Debug().
		Str("group", g.id.String()).
		Int("keys", g.size()).
		Dur("elapsed", elapsed).
		Msg("batch resolved")
}

// finish resolves every waiter of g with the executor failure err.
// Observers see the flush before any waiter wakes.
func (b *Batcher[K, P, R]) finish(g *group[K, P, R], trigger Trigger, elapsed time.Duration, err error) {
	for _, obs := range b.observers {
		obs.ObserveFlush(trigger, g.size(), g.waiters, elapsed, err)
	}
	b.logFailure(g, err)
	g.fail(&ExecutorError{Err: err})
}

// call invokes the executor, converting a panic into an error.
func (b *Batcher[K, P, R]) call(ctx context.Context, items []Item[K, P]) (results []Result[R], err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return b.exec.Execute(ctx, items)
}

func (b *Batcher[K, P, R]) logFailure(g *group[K, P, R], err error) {
	evt := b.log.Warn()
	if pe, ok := err.(*PanicError); ok { //nolint:errorlint // call returns the concrete type unwrapped
		evt = b.log.Error().Bytes("stack", pe.Stack)
	}
	evt.Err(err).
		Str("group", g.id.String()).
		Int("keys", g.size()).
		Int("waiters", g.waiters).
		Msg("batch executor failed")
}

// abort resolves g without running the executor.
func (b *Batcher[K, P, R]) abort(g *group[K, P, R], trigger Trigger, err error) {
	for _, obs := range b.observers {
		obs.ObserveAbort(trigger, g.size(), g.waiters)
	}
	g.fail(err)
	b.log.Debug().
		Str("group", g.id.String()).
		Str("trigger", string(trigger)).
		Int("waiters", g.waiters).
		Msg("batch aborted")
}

// await blocks until e is resolved, the caller's ctx is done, or the bound
// context is cancelled.
func (b *Batcher[K, P, R]) await(ctx context.Context, e *entry[R]) Result[R] {
	var callerDone <-chan struct{}
	if ctx != nil {
		callerDone = ctx.Done()
	}

	select {
	case <-e.done:
		return e.res
	case <-b.ctx.Done():
	case <-callerDone:
	}

	// A result that raced with the cancellation wins.
	select {
	case <-e.done:
		return e.res
	default:
	}

	if err := b.ctx.Err(); err != nil {
		return Fail[R](err)
	}
	return Fail[R](ctxtree.CancelErrorOf(ctx))
}

// watch closes the Batcher when its context is cancelled.
func (b *Batcher[K, P, R]) watch() {
	select {
	case <-b.ctx.Done():
		b.shutdown(TriggerCancel, b.ctx.Err())
	case <-b.stop:
	}
}

// shutdown moves the Batcher to Closed and fails the open group with err.
func (b *Batcher[K, P, R]) shutdown(trigger Trigger, err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.stop)
	g := b.open
	b.open = nil
	b.mu.Unlock()

	if g != nil {
		g.stopTimer()
		b.abort(g, trigger, err)
	}

	b.log.Debug().Str("trigger", string(trigger)).Msg("batcher closed")

	if trigger == TriggerClose {
		// Release the bound node once in-flight groups finish so the parent
		// does not keep it in its cascade index.
		go func() {
			_ = b.cancel.Wait(context.Background())
			b.cancel.Cancel(ErrClosed)
		}()
	}
}
