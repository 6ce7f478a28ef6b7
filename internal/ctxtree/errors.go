package ctxtree

import (
	"context"
	"errors"
)

// constError is an immutable error type for sentinel errors.
type constError string

func (e constError) Error() string { return string(e) }

// Sentinel errors for cancellation. Both can be matched with errors.Is against
// any error returned by Context.Err.
var (
	// ErrCancelled matches every cancellation, whatever its reason.
	ErrCancelled = constError("context cancelled")

	// ErrTimedOut is the reason recorded when a deadline elapses. It also
	// matches context.DeadlineExceeded.
	ErrTimedOut error = timeoutError{}
)

// ErrTaskExited is returned by Run when its function ends the goroutine with
// runtime.Goexit instead of returning.
var ErrTaskExited error = constError("task exited without returning")

type timeoutError struct{}

func (timeoutError) Error() string { return "deadline exceeded" }

func (timeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded //nolint:errorlint // sentinel identity check
}

// CancelError is returned by Context.Err once a node is cancelled. It carries
// the reason passed to the first Cancel call.
type CancelError struct {
	// Reason is the write-once cancellation reason.
	Reason error
}

func newCancelError(reason error) *CancelError {
	if reason == nil {
		reason = ErrCancelled
	}
	return &CancelError{Reason: reason}
}

func (e *CancelError) Error() string {
	if e.Reason == nil || e.Reason == error(ErrCancelled) || e.Reason == context.Canceled { //nolint:errorlint // default reasons
		return string(ErrCancelled)
	}
	return string(ErrCancelled) + ": " + e.Reason.Error()
}

// Unwrap returns the cancellation reason.
func (e *CancelError) Unwrap() error {
	return e.Reason
}

// TimedOut reports whether the cancellation came from an elapsed deadline.
func (e *CancelError) TimedOut() bool {
	return errors.Is(e.Reason, ErrTimedOut) || errors.Is(e.Reason, context.DeadlineExceeded)
}

// Is makes every CancelError match ErrCancelled, and maps the error onto the
// standard library's context.Canceled / context.DeadlineExceeded pair.
func (e *CancelError) Is(target error) bool {
	switch target { //nolint:errorlint // sentinel identity checks
	case ErrCancelled:
		return true
	case ErrTimedOut, context.DeadlineExceeded:
		return e.TimedOut()
	case context.Canceled:
		return !e.TimedOut()
	}
	return false
}

// CancelErrorOf converts the cancellation state of any context.Context into a
// *CancelError. It returns nil while ctx is still active.
func CancelErrorOf(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if c, ok := ctx.(*Context); ok {
		return c.Err()
	}
	if ctx.Err() == nil {
		return nil
	}
	var ce *CancelError
	if cause := context.Cause(ctx); errors.As(cause, &ce) {
		return ce
	}
	return newCancelError(context.Cause(ctx))
}
