// Package batch coalesces concurrent keyed requests into batched executor calls.
//
// A Batcher accumulates submissions into an open group, deduplicating by key,
// and hands the group to its Executor when one of the flush triggers fires:
//   - Size: the group reaches Config.MaxBatchSize distinct keys
//   - Time: Config.MaxWait has elapsed since the group was opened
//   - Explicit: Flush is called
//
// Every waiter on a key receives the same Result. The Executor runs at most
// once per group, on its own goroutine, so accumulation of the next group
// continues while the previous one executes.
//
// A Batcher is bound to a ctxtree.Context. When that context is cancelled the
// open group is failed with the context's *ctxtree.CancelError without calling
// the Executor, waiters of in-flight groups wake immediately with the same
// error, and the Batcher stops accepting work. Close does the same with
// ErrClosed for the open group.
//
// The core never retries. Executor errors reach every affected waiter wrapped
// in *ExecutorError; retry policy belongs to the caller.
package batch
