package batch

import (
	"errors"
	"fmt"
)

// Common batcher errors.
var (
	// ErrClosed is returned for submissions after Close or after the bound
	// context was cancelled, and for requests still open when Close is called.
	// Requests already being executed at Close time are not failed with it.
	ErrClosed = errors.New("batcher is closed")

	// ErrExecutorFailed matches every *ExecutorError.
	ErrExecutorFailed = errors.New("batch executor failed")

	// ErrResultCount is wrapped when an executor returns a result slice whose
	// length differs from the number of items it was given.
	ErrResultCount = errors.New("executor returned wrong number of results")

	// ErrExecutorExited is wrapped when an executor ends its goroutine with
	// runtime.Goexit instead of returning, as t.FailNow does.
	ErrExecutorExited = errors.New("executor exited without returning")

	ErrInvalidBatchSize   = fmt.Errorf("max batch size must be between %d and %d", MinBatchSize, MaxBatchSizeLimit)
	ErrInvalidWait        = errors.New("max wait must be positive")
	ErrInvalidConcurrency = errors.New("concurrency must not be negative")
	ErrNilExecutor        = errors.New("batch executor cannot be nil")
	ErrNilContext         = errors.New("batcher context cannot be nil")
)

// ExecutorError carries a downstream failure to the waiters of a batch. Err is
// the executor's error, unmodified.
type ExecutorError struct {
	Err error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("%s: %v", ErrExecutorFailed, e.Err)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// Is matches ErrExecutorFailed.
func (e *ExecutorError) Is(target error) bool {
	return target == ErrExecutorFailed //nolint:errorlint // sentinel identity check
}

// PanicError records a panic raised inside an Executor. It reaches waiters
// wrapped in an *ExecutorError.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor panicked: %v", e.Value)
}
