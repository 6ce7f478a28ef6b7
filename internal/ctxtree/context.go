package ctxtree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// nextID hands out node identifiers. Zero is never used.
var nextID atomic.Uint64 //nolint:gochecknoglobals // process-wide node identity counter

// Context is a node in a cancellation tree. It implements context.Context.
//
// A parent keeps its children in an index keyed by node ID and only uses it to
// cascade cancellation. Children remove themselves from that index when they
// are cancelled, so completed subtrees are not retained by long-lived parents.
type Context struct {
	id     uint64
	parent *Context

	// std is set for nodes rooted with Attach; Value lookups fall through to it.
	std context.Context

	deadline    time.Time
	hasDeadline bool

	// done is closed exactly once, when err is first set.
	done chan struct{}

	// tasks counts goroutines started with Go on this node or a descendant.
	tasks tracker

	// mu guards err, children, timer and stopStd.
	mu       sync.Mutex
	err      *CancelError
	children map[uint64]*Context
	timer    *time.Timer
	stopStd  func() bool
}

// Canceller is the exclusive capability to cancel one Context.
//
// Letting a Canceller go out of scope does not cancel its context. Callers
// that derive short-lived contexts must call Cancel themselves (typically with
// defer) or rely on an ancestor being cancelled.
type Canceller struct {
	ctx *Context
}

func newNode(parent *Context) *Context {
	return &Context{
		id:     nextID.Add(1),
		parent: parent,
		done:   make(chan struct{}),
	}
}

// NewRoot creates a top-level context with no parent.
func NewRoot() (*Context, *Canceller) {
	c := newNode(nil)
	return c, &Canceller{ctx: c}
}

// Derive creates a child of parent. Cancelling parent cancels the child. If
// parent is already cancelled the child is returned already cancelled with
// the parent's reason; Derive never fails.
func Derive(parent *Context) (*Context, *Canceller) {
	if parent == nil {
		return NewRoot()
	}

	c := newNode(parent)
	if parent.hasDeadline {
		c.deadline = parent.deadline
		c.hasDeadline = true
	}
	parent.register(c)
	return c, &Canceller{ctx: c}
}

// WithDeadline derives a child that cancels itself with ErrTimedOut at d,
// unless it is cancelled earlier for another reason. A parent deadline that
// is earlier than d stays in effect.
func WithDeadline(parent *Context, d time.Time) (*Context, *Canceller) {
	c, cancel := Derive(parent)
	if c.hasDeadline && !d.Before(c.deadline) {
		return c, cancel
	}

	c.deadline = d
	c.hasDeadline = true

	wait := time.Until(d)
	if wait <= 0 {
		c.cancel(newCancelError(ErrTimedOut))
		return c, cancel
	}

	c.mu.Lock()
	if c.err == nil {
		c.timer = time.AfterFunc(wait, func() {
			c.cancel(newCancelError(ErrTimedOut))
		})
	}
	c.mu.Unlock()
	return c, cancel
}

// WithTimeout is WithDeadline(parent, time.Now().Add(d)).
func WithTimeout(parent *Context, d time.Duration) (*Context, *Canceller) {
	return WithDeadline(parent, time.Now().Add(d))
}

// Attach roots a new tree under a standard library context. When std is
// cancelled the node is cancelled with std's cause. The hook registered on std
// is removed as soon as the node completes on its own.
func Attach(std context.Context) (*Context, *Canceller) {
	c := newNode(nil)
	c.std = std
	if d, ok := std.Deadline(); ok {
		c.deadline = d
		c.hasDeadline = true
	}

	if std.Err() != nil {
		c.cancel(newCancelError(context.Cause(std)))
		return c, &Canceller{ctx: c}
	}

	stop := context.AfterFunc(std, func() {
		c.cancel(newCancelError(context.Cause(std)))
	})

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		stop()
	} else {
		c.stopStd = stop
		c.mu.Unlock()
	}
	return c, &Canceller{ctx: c}
}

//nolint:gochecknoglobals // lazily created process-wide root
var global = sync.OnceValues(NewRoot)

// Global returns the process-wide root context and its canceller. Both are
// created on first use and shared by every caller.
func Global() (*Context, *Canceller) {
	return global()
}

// register adds child to the cascade index, or cancels it immediately when the
// receiver is already cancelled. Holding mu across the check and the insert
// keeps derive and cancel linearizable.
func (c *Context) register(child *Context) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		child.cancel(err)
		return
	}
	if c.children == nil {
		c.children = make(map[uint64]*Context)
	}
	c.children[child.id] = child
	c.mu.Unlock()
}

func (c *Context) removeChild(id uint64) {
	c.mu.Lock()
	delete(c.children, id)
	c.mu.Unlock()
}

// cancel performs the Active -> Cancelled transition. Only the first call has
// any effect; it returns true for that call.
func (c *Context) cancel(err *CancelError) bool {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return false
	}
	c.err = err
	close(c.done)

	children := c.children
	c.children = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	stopStd := c.stopStd
	c.stopStd = nil
	c.mu.Unlock()

	if stopStd != nil {
		stopStd()
	}

	// No lock is held while descending.
	for _, child := range children {
		child.cancel(err)
	}

	if c.parent != nil {
		c.parent.removeChild(c.id)
	}
	return true
}

// ID returns the node identifier, unique within the process.
func (c *Context) ID() uint64 {
	return c.id
}

// Parent returns the node this context was derived from, or nil for roots.
func (c *Context) Parent() *Context {
	return c.parent
}

// Deadline implements context.Context.
func (c *Context) Deadline() (time.Time, bool) {
	return c.deadline, c.hasDeadline
}

// Done returns a channel that is closed when the context is cancelled. Any
// number of goroutines may wait on it; waiting after cancellation returns
// immediately.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Err returns nil while the context is active and a *CancelError afterwards.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return nil
	}
	return c.err
}

// Cause returns the raw cancellation reason, or nil while active.
func (c *Context) Cause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return nil
	}
	return c.err.Reason
}

// Value implements context.Context. Only trees rooted with Attach carry
// values, inherited from the attached standard context.
func (c *Context) Value(key any) any {
	for n := c; n != nil; n = n.parent {
		if n.std != nil {
			return n.std.Value(key)
		}
	}
	return nil
}

// IsCancelled is a non-blocking snapshot of the cancellation state.
func (c *Context) IsCancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Context) String() string {
	state := "active"
	if c.IsCancelled() {
		state = "cancelled"
	}
	return fmt.Sprintf("ctxtree.Context(%d, %s)", c.id, state)
}

// numChildren reports the size of the cascade index.
func (c *Context) numChildren() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.children)
}

// Context returns the node controlled by this canceller.
func (cc *Canceller) Context() *Context {
	return cc.ctx
}

// Cancel cancels the context and all of its descendants with reason. A nil
// reason records ErrCancelled. Cancel is idempotent and safe for concurrent
// use; it returns true only for the call that performed the cancellation.
func (cc *Canceller) Cancel(reason error) bool {
	return cc.ctx.cancel(newCancelError(reason))
}

// IsCancelled reports whether the controlled context is cancelled.
func (cc *Canceller) IsCancelled() bool {
	return cc.ctx.IsCancelled()
}

// Wait blocks until every goroutine started with Go on the controlled context
// or any of its descendants has returned, or until ctx is done.
func (cc *Canceller) Wait(ctx context.Context) error {
	return cc.ctx.tasks.wait(ctx)
}

// Shutdown cancels the controlled context and waits for its tracked tasks.
// The returned error is non-nil only if ctx ends before the tasks do.
func (cc *Canceller) Shutdown(ctx context.Context) error {
	cc.Cancel(nil)
	return cc.Wait(ctx)
}
