package ctxtree

import "context"

// Go runs fn on a new goroutine bound to c. The goroutine is counted on c and
// on every ancestor until fn returns, which is what Canceller.Wait and
// Canceller.Shutdown wait for. fn is expected to watch ctx.Done().
func Go(c *Context, fn func(ctx context.Context)) {
	for n := c; n != nil; n = n.parent {
		n.tasks.add()
	}
	go func() {
		defer func() {
			for n := c; n != nil; n = n.parent {
				n.tasks.done()
			}
		}()
		fn(c)
	}()
}

// Run binds fn to c and waits for it. If c is cancelled first, Run returns
// c's *CancelError immediately; fn keeps running in the background and its
// result is discarded. If c is already cancelled fn is not started. If fn
// calls runtime.Goexit, Run returns ErrTaskExited.
func Run[T any](c *Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.Err(); err != nil {
		return zero, err
	}

	type outcome struct {
		val T
		err error
	}
	// Buffered so the goroutine never blocks after Run has given up on it.
	out := make(chan outcome, 1)
	Go(c, func(ctx context.Context) {
		returned := false
		defer func() {
			// fn ended the goroutine with runtime.Goexit.
			if !returned {
				out <- outcome{err: ErrTaskExited}
			}
		}()
		v, err := fn(ctx)
		returned = true
		out <- outcome{val: v, err: err}
	})

	select {
	case o := <-out:
		return o.val, o.err
	case <-c.Done():
		// Prefer a result that raced with the cancellation.
		select {
		case o := <-out:
			return o.val, o.err
		default:
		}
		return zero, c.Err()
	}
}

// Stream forwards values from in until in is closed or c is cancelled. The
// returned channel is closed in both cases. Values still buffered in in after
// cancellation are not forwarded.
func Stream[T any](c *Context, in <-chan T) <-chan T {
	out := make(chan T)
	Go(c, func(ctx context.Context) {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	})
	return out
}
