package batch

import "time"

// Trigger names what caused a group to leave the open state.
type Trigger string

// Flush and abort triggers.
const (
	TriggerSize     Trigger = "size"
	TriggerTime     Trigger = "time"
	TriggerExplicit Trigger = "explicit"
	TriggerCancel   Trigger = "cancel"
	TriggerClose    Trigger = "close"
)

// Observer receives batcher events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// ObserveSubmit is called once per submitted request. deduplicated is true
	// when the key was already pending in the open group.
	ObserveSubmit(deduplicated bool)

	// ObserveFlush is called after the executor returns for a group of size
	// distinct keys and waiters requests, before any waiter is resolved. err
	// is the aggregate failure, if any.
	ObserveFlush(trigger Trigger, size, waiters int, elapsed time.Duration, err error)

	// ObserveAbort is called when a group is resolved without running the
	// executor.
	ObserveAbort(trigger Trigger, size, waiters int)
}
