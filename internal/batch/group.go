package batch

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// entry is the shared one-shot result sink for every waiter on one key.
type entry[R any] struct {
	done chan struct{}
	res  Result[R]
}

func (e *entry[R]) resolve(res Result[R]) {
	e.res = res
	close(e.done)
}

// group is the set of pending requests for one flush. It is mutated only
// while open, under the Batcher's lock. Once swapped out it is owned by
// exactly one goroutine, which resolves every entry once.
type group[K comparable, P, R any] struct {
	id      ulid.ULID
	created time.Time
	index   map[K]*entry[R]
	items   []Item[K, P]
	entries []*entry[R] // entries[i] belongs to items[i]
	waiters int
	timer   *time.Timer
}

func newGroup[K comparable, P, R any]() *group[K, P, R] {
	return &group[K, P, R]{
		id:      ulid.Make(),
		created: time.Now(),
		index:   make(map[K]*entry[R]),
	}
}

// add registers a waiter for key. The payload of the first submission for a
// key is the one executed; later payloads for the same key are dropped.
func (g *group[K, P, R]) add(key K, payload P) (*entry[R], bool) {
	g.waiters++
	if e, ok := g.index[key]; ok {
		return e, true
	}

	e := &entry[R]{done: make(chan struct{})}
	g.index[key] = e
	g.items = append(g.items, Item[K, P]{Key: key, Payload: payload})
	g.entries = append(g.entries, e)
	return e, false
}

func (g *group[K, P, R]) size() int {
	return len(g.items)
}

func (g *group[K, P, R]) stopTimer() {
	if g.timer != nil {
		g.timer.Stop()
	}
}

// fail resolves every entry with err.
func (g *group[K, P, R]) fail(err error) {
	for _, e := range g.entries {
		e.resolve(Fail[R](err))
	}
}

// complete resolves entries positionally. Per-key errors are wrapped so that
// waiters can match ErrExecutorFailed.
func (g *group[K, P, R]) complete(results []Result[R]) {
	for i, e := range g.entries {
		res := results[i]
		if res.Err != nil {
			res = Fail[R](&ExecutorError{Err: res.Err})
		}
		e.resolve(res)
	}
}
