package ctxtree

import (
	"context"
	"sync"
)

// tracker counts live tasks and lets callers wait for the count to reach zero.
// Unlike sync.WaitGroup it tolerates add racing with wait.
type tracker struct {
	mu     sync.Mutex
	active int
	idle   chan struct{} // closed while active == 0; nil means "idle"
}

func (t *tracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		t.idle = make(chan struct{})
	}
	t.active++
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.active == 0 {
		close(t.idle)
		t.idle = nil
	}
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()
	if idle == nil {
		return nil
	}

	if ctx == nil {
		<-idle
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
