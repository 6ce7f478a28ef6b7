package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/coalesce/internal/ctxtree"
)

// recorder is an Executor that records every call and echoes keys back.
type recorder struct {
	mu    sync.Mutex
	calls [][]Item[string, int]

	// hook, when set, runs before results are produced.
	hook func(ctx context.Context, items []Item[string, int]) ([]Result[string], error)
}

func (r *recorder) Execute(ctx context.Context, items []Item[string, int]) ([]Result[string], error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]Item[string, int](nil), items...))
	r.mu.Unlock()

	if r.hook != nil {
		return r.hook(ctx, items)
	}
	return echo(items), nil
}

func (r *recorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) call(i int) []Item[string, int] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func echo(items []Item[string, int]) []Result[string] {
	out := make([]Result[string], len(items))
	for i, it := range items {
		out[i] = Ok(fmt.Sprintf("%s=%d", it.Key, it.Payload))
	}
	return out
}

func newTestBatcher(t *testing.T, exec Executor[string, int, string], cfg Config) (*Batcher[string, int, string], *ctxtree.Canceller) {
	t.Helper()
	root, cancel := ctxtree.NewRoot()
	b, err := New(root, exec, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Close()
		cancel.Cancel(nil)
	})
	return b, cancel
}

func TestNew(t *testing.T) {
	root, _ := ctxtree.NewRoot()
	exec := &recorder{}

	t.Run("Defaults", func(t *testing.T) {
		b, err := NewWithDefaults[string, int, string](root, exec, WithName("users"))
		require.NoError(t, err)
		defer b.Close()
		assert.Equal(t, DefaultConfig(), b.Config())
		assert.Equal(t, "users", b.Name())
		assert.False(t, b.Closed())
	})

	t.Run("NilContext", func(t *testing.T) {
		_, err := New[string, int, string](nil, exec, DefaultConfig())
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("NilExecutor", func(t *testing.T) {
		_, err := New[string, int, string](root, nil, DefaultConfig())
		assert.ErrorIs(t, err, ErrNilExecutor)
	})

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "zero batch size", cfg: Config{MaxBatchSize: 0, MaxWait: time.Millisecond}, wantErr: ErrInvalidBatchSize},
		{name: "batch size too large", cfg: Config{MaxBatchSize: MaxBatchSizeLimit + 1, MaxWait: time.Millisecond}, wantErr: ErrInvalidBatchSize},
		{name: "zero wait", cfg: Config{MaxBatchSize: 10}, wantErr: ErrInvalidWait},
		{name: "negative concurrency", cfg: Config{MaxBatchSize: 10, MaxWait: time.Millisecond, Concurrency: -1}, wantErr: ErrInvalidConcurrency},
		{name: "unlimited concurrency", cfg: Config{MaxBatchSize: 10, MaxWait: time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New[string, int, string](root, exec, tt.cfg)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, b)
				return
			}
			require.NoError(t, err)
			b.Close()
		})
	}
}

func TestSubmit_Dedup(t *testing.T) {
	const callers = 50

	exec := &recorder{}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 100, MaxWait: 200 * time.Millisecond})

	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Submit(context.Background(), "k", 7)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, exec.callCount())
	assert.Equal(t, []Item[string, int]{{Key: "k", Payload: 7}}, exec.call(0))
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "k=7", results[i])
	}

	snap := b.Stats()
	assert.Equal(t, callers, snap.Submitted)
	assert.Equal(t, callers-1, snap.Deduplicated)
	assert.Equal(t, 1, snap.Flushes)
	assert.Equal(t, 1, snap.FlushedKeys)
}

func TestSubmit_FirstPayloadWins(t *testing.T) {
	exec := &recorder{}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 10, MaxWait: time.Hour})

	items := []Item[string, int]{{Key: "a", Payload: 1}, {Key: "a", Payload: 2}}
	done := make(chan []Result[string])
	go func() { done <- b.SubmitMany(context.Background(), items) }()

	require.Eventually(t, func() bool { return b.Stats().Submitted == 2 }, time.Second, time.Millisecond)
	require.True(t, b.Flush())

	res := <-done
	assert.Equal(t, "a=1", res[0].Value)
	assert.Equal(t, "a=1", res[1].Value)
	assert.Equal(t, []Item[string, int]{{Key: "a", Payload: 1}}, exec.call(0))
}

func TestSizeTrigger(t *testing.T) {
	t.Run("FlushesExactlyAtMaxBatchSize", func(t *testing.T) {
		exec := &recorder{}
		b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 3, MaxWait: time.Hour})

		var wg sync.WaitGroup
		for _, k := range []string{"a", "b", "a"} {
			wg.Add(1)
			go func(k string) {
				defer wg.Done()
				_, _ = b.Submit(context.Background(), k, 0)
			}(k)
		}

		require.Eventually(t, func() bool { return b.Stats().Submitted == 3 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 0, exec.callCount(), "two distinct keys must not flush")

		v, err := b.Submit(context.Background(), "c", 3)
		require.NoError(t, err)
		assert.Equal(t, "c=3", v)
		wg.Wait()

		require.Equal(t, 1, exec.callCount())
		assert.Len(t, exec.call(0), 3)
		assert.Equal(t, 1, b.Stats().Triggers[TriggerSize])
	})

	t.Run("ResolvesBeforeWaitWindow", func(t *testing.T) {
		exec := &recorder{}
		b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 2, MaxWait: 50 * time.Millisecond})

		start := time.Now()
		var wg sync.WaitGroup
		var ra, rb string
		wg.Add(2)
		go func() {
			defer wg.Done()
			ra, _ = b.Submit(context.Background(), "a", 1)
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			rb, _ = b.Submit(context.Background(), "b", 2)
		}()
		wg.Wait()

		assert.Less(t, time.Since(start), 40*time.Millisecond)
		assert.Equal(t, "a=1", ra)
		assert.Equal(t, "b=2", rb)
		require.Equal(t, 1, exec.callCount())
		assert.ElementsMatch(t, []Item[string, int]{{Key: "a", Payload: 1}, {Key: "b", Payload: 2}}, exec.call(0))
	})

	t.Run("SubmitManySplitsGroups", func(t *testing.T) {
		exec := &recorder{}
		b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 2, MaxWait: time.Hour})

		items := []Item[string, int]{{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}}
		res := b.SubmitMany(context.Background(), items)
		for i, r := range res {
			require.NoError(t, r.Err)
			assert.Equal(t, fmt.Sprintf("%s=%d", items[i].Key, items[i].Payload), r.Value)
		}

		require.Equal(t, 2, exec.callCount())
		calls := [][]Item[string, int]{exec.call(0), exec.call(1)}
		assert.ElementsMatch(t, [][]Item[string, int]{items[:2], items[2:]}, calls)
	})
}

func TestTimeTrigger(t *testing.T) {
	const window = 30 * time.Millisecond

	exec := &recorder{}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 100, MaxWait: window})

	start := time.Now()
	v, err := b.Submit(context.Background(), "solo", 1)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "solo=1", v)
	assert.GreaterOrEqual(t, elapsed, window)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, 1, b.Stats().Triggers[TriggerTime])
}

func TestFlush(t *testing.T) {
	exec := &recorder{}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 100, MaxWait: time.Hour})

	assert.False(t, b.Flush(), "nothing to flush")

	done := make(chan error, 1)
	go func() {
		_, err := b.Submit(context.Background(), "x", 1)
		done <- err
	}()
	require.Eventually(t, func() bool { return b.Stats().Submitted == 1 }, time.Second, time.Millisecond)

	assert.True(t, b.Flush())
	require.NoError(t, <-done)
	assert.Equal(t, 1, b.Stats().Triggers[TriggerExplicit])
}

func TestSubmitMany_OrderAndDedup(t *testing.T) {
	exec := &recorder{}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 100, MaxWait: 10 * time.Millisecond})

	items := []Item[string, int]{{"c", 3}, {"a", 1}, {"c", 9}, {"b", 2}}
	res := b.SubmitMany(context.Background(), items)

	require.Len(t, res, 4)
	assert.Equal(t, "c=3", res[0].Value)
	assert.Equal(t, "a=1", res[1].Value)
	assert.Equal(t, "c=3", res[2].Value)
	assert.Equal(t, "b=2", res[3].Value)

	require.Equal(t, 1, exec.callCount())
	assert.Equal(t, []Item[string, int]{{"c", 3}, {"a", 1}, {"b", 2}}, exec.call(0))

	assert.Empty(t, b.SubmitMany(context.Background(), nil))
}

func TestExecutorFailures(t *testing.T) {
	t.Run("AggregateError", func(t *testing.T) {
		boom := errors.New("downstream unavailable")
		exec := &recorder{hook: func(context.Context, []Item[string, int]) ([]Result[string], error) {
			return nil, boom
		}}
		b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 2, MaxWait: time.Hour})

		res := b.SubmitMany(context.Background(), []Item[string, int]{{"a", 1}, {"b", 2}})
		for _, r := range res {
			assert.ErrorIs(t, r.Err, ErrExecutorFailed)
			assert.ErrorIs(t, r.Err, boom)
			var ee *ExecutorError
			require.ErrorAs(t, r.Err, &ee)
			assert.Equal(t, boom, ee.Err)
		}
		assert.Equal(t, 1, b.Stats().Failures)
	})

	t.Run("PerKeyError", func(t *testing.T) {
		missing := errors.New("missing")
		exec := &recorder{hook: func(_ context.Context, items []Item[string, int]) ([]Result[string], error) {
			out := echo(items)
			for i, it := range items {
				if it.Key == "bad" {
					out[i] = Fail[string](missing)
				}
			}
			return out, nil
		}}
		b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 2, MaxWait: time.Hour})

		res := b.SubmitMany(context.Background(), []Item[string, int]{{"good", 1}, {"bad", 2}})
		require.NoError(t, res[0].Err)
		assert.Equal(t, "good=1", res[0].Value)
		assert.ErrorIs(t, res[1].Err, missing)
		assert.ErrorIs(t, res[1].Err, ErrExecutorFailed)
		assert.Equal(t, 0, b.Stats().Failures)
	})

	t.Run("ResultCountMismatch", func(t *testing.T) {
		exec := &recorder{hook: func(context.Context, []Item[string, int]) ([]Result[string], error) {
			return []Result[string]{Ok("only one")}, nil
		}}
		b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 2, MaxWait: time.Hour})

		res := b.SubmitMany(context.Background(), []Item[string, int]{{"a", 1}, {"b", 2}})
		for _, r := range res {
			assert.ErrorIs(t, r.Err, ErrResultCount)
			assert.ErrorIs(t, r.Err, ErrExecutorFailed)
		}
	})

	t.Run("PanicResolvesWaiters", func(t *testing.T) {
		exec := &recorder{hook: func(_ context.Context, items []Item[string, int]) ([]Result[string], error) {
			for _, it := range items {
				if it.Key == "a" {
					panic("executor bug")
				}
			}
			return echo(items), nil
		}}
		b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 3, MaxWait: time.Hour})

		res := b.SubmitMany(context.Background(), []Item[string, int]{{"a", 1}, {"b", 2}, {"a", 3}, {"c", 4}})
		for _, r := range res {
			require.Error(t, r.Err)
			assert.ErrorIs(t, r.Err, ErrExecutorFailed)
			var pe *PanicError
			require.ErrorAs(t, r.Err, &pe)
			assert.Equal(t, "executor bug", pe.Value)
			assert.NotEmpty(t, pe.Stack)
		}

		// The batcher keeps working after a panic.
		res = b.SubmitMany(context.Background(), []Item[string, int]{{"x", 1}, {"y", 2}, {"z", 3}})
		for _, r := range res {
			assert.NoError(t, r.Err)
		}
		assert.Equal(t, 1, b.Stats().Failures)
	})

	t.Run("GoexitResolvesWaiters", func(t *testing.T) {
		exec := &recorder{hook: func(_ context.Context, items []Item[string, int]) ([]Result[string], error) {
			if items[0].Key == "a" {
				runtime.Goexit()
			}
			return echo(items), nil
		}}
		b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 1, MaxWait: time.Hour})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := b.Submit(ctx, "a", 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExecutorExited)
		assert.ErrorIs(t, err, ErrExecutorFailed)
		assert.NotErrorIs(t, err, context.DeadlineExceeded, "waiter must not be left to its own timeout")

		v, err := b.Submit(ctx, "b", 2)
		require.NoError(t, err)
		assert.Equal(t, "b=2", v)
		assert.Equal(t, 1, b.Stats().Failures)
	})
}

func TestClose(t *testing.T) {
	exec := &recorder{}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 100, MaxWait: time.Hour})

	done := make(chan error, 2)
	for _, k := range []string{"a", "b"} {
		go func(k string) {
			_, err := b.Submit(context.Background(), k, 0)
			done <- err
		}(k)
	}
	require.Eventually(t, func() bool { return b.Stats().Submitted == 2 }, time.Second, time.Millisecond)

	b.Close()
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.True(t, b.Closed())
	assert.Equal(t, 0, exec.callCount())

	start := time.Now()
	_, err := b.Submit(context.Background(), "late", 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Less(t, time.Since(start), 10*time.Millisecond)

	res := b.SubmitMany(context.Background(), []Item[string, int]{{"x", 1}})
	assert.ErrorIs(t, res[0].Err, ErrClosed)
	assert.False(t, b.Flush())

	b.Close()
	assert.Equal(t, 1, b.Stats().Aborted)

	// The bound node is released once nothing is in flight.
	require.Eventually(t, b.ctx.IsCancelled, time.Second, time.Millisecond)
}

func TestClose_InFlightGroupCompletes(t *testing.T) {
	release := make(chan struct{})
	exec := &recorder{hook: func(_ context.Context, items []Item[string, int]) ([]Result[string], error) {
		<-release
		return echo(items), nil
	}}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 1, MaxWait: time.Hour})

	done := make(chan string, 1)
	go func() {
		v, _ := b.Submit(context.Background(), "a", 1)
		done <- v
	}()
	require.Eventually(t, func() bool { return exec.callCount() == 1 }, time.Second, time.Millisecond)

	b.Close()
	close(release)
	assert.Equal(t, "a=1", <-done)
	require.NoError(t, b.Drain(context.Background()))
}

func TestContextTrigger(t *testing.T) {
	t.Run("FailsOpenGroupWithoutExecuting", func(t *testing.T) {
		exec := &recorder{}
		b, cancel := newTestBatcher(t, exec, Config{MaxBatchSize: 100, MaxWait: time.Hour})

		done := make(chan error, 1)
		go func() {
			_, err := b.Submit(context.Background(), "a", 1)
			done <- err
		}()
		require.Eventually(t, func() bool { return b.Stats().Submitted == 1 }, time.Second, time.Millisecond)

		reason := errors.New("sigterm")
		cancel.Cancel(reason)

		err := <-done
		assert.ErrorIs(t, err, ctxtree.ErrCancelled)
		assert.ErrorIs(t, err, reason)
		assert.Equal(t, 0, exec.callCount())

		assert.True(t, b.Closed(), "cancelled context closes the batcher at once")
		_, err = b.Submit(context.Background(), "b", 1)
		assert.ErrorIs(t, err, ErrClosed)
		assert.Equal(t, 1, b.Stats().Triggers[TriggerCancel])
	})

	t.Run("WakesWaitersOfInFlightGroup", func(t *testing.T) {
		release := make(chan struct{})
		exec := &recorder{hook: func(_ context.Context, items []Item[string, int]) ([]Result[string], error) {
			<-release
			return echo(items), nil
		}}
		b, cancel := newTestBatcher(t, exec, Config{MaxBatchSize: 1, MaxWait: time.Hour})
		defer close(release)

		done := make(chan error, 1)
		go func() {
			_, err := b.Submit(context.Background(), "slow", 1)
			done <- err
		}()
		require.Eventually(t, func() bool { return exec.callCount() == 1 }, time.Second, time.Millisecond)

		cancel.Cancel(nil)
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ctxtree.ErrCancelled)
		case <-time.After(time.Second):
			t.Fatal("waiter not released while executor still running")
		}
	})

	t.Run("DeadlineSurfacesAsTimeout", func(t *testing.T) {
		root, _ := ctxtree.NewRoot()
		ctx, _ := ctxtree.WithTimeout(root, 20*time.Millisecond)
		b, err := New[string, int, string](ctx, &recorder{}, Config{MaxBatchSize: 10, MaxWait: time.Hour})
		require.NoError(t, err)

		_, err = b.Submit(context.Background(), "a", 1)
		assert.ErrorIs(t, err, ctxtree.ErrTimedOut)
	})
}

func TestCascadeAcrossTree(t *testing.T) {
	const depth = 4

	root, cancel := ctxtree.NewRoot()
	exec := &recorder{}

	var batchers []*Batcher[string, int, string]
	node := root
	for range depth {
		b, err := New[string, int, string](node, exec, Config{MaxBatchSize: 100, MaxWait: time.Hour})
		require.NoError(t, err)
		batchers = append(batchers, b)
		node, _ = ctxtree.Derive(node)
	}

	errs := make(chan error, depth)
	for i, b := range batchers {
		go func(i int, b *Batcher[string, int, string]) {
			_, err := b.Submit(context.Background(), fmt.Sprintf("k%d", i), i)
			errs <- err
		}(i, b)
	}
	require.Eventually(t, func() bool {
		for _, b := range batchers {
			if b.Stats().Submitted != 1 {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)

	cancel.Cancel(nil)
	for range depth {
		assert.ErrorIs(t, <-errs, ctxtree.ErrCancelled)
	}
	assert.Equal(t, 0, exec.callCount())
}

func TestCallerContext(t *testing.T) {
	exec := &recorder{}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 100, MaxWait: time.Hour})

	ctx, stop := context.WithCancel(context.Background())
	impatient := make(chan error, 1)
	go func() {
		_, err := b.Submit(ctx, "k", 1)
		impatient <- err
	}()

	patient := make(chan string, 1)
	go func() {
		v, _ := b.Submit(context.Background(), "k", 1)
		patient <- v
	}()
	require.Eventually(t, func() bool { return b.Stats().Submitted == 2 }, time.Second, time.Millisecond)

	stop()
	err := <-impatient
	assert.ErrorIs(t, err, ctxtree.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	require.True(t, b.Flush())
	assert.Equal(t, "k=1", <-patient)
	assert.Equal(t, 1, exec.callCount())
}

func TestConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	exec := &recorder{hook: func(_ context.Context, items []Item[string, int]) ([]Result[string], error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return echo(items), nil
	}}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 1, MaxWait: time.Hour, Concurrency: 1})

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Submit(context.Background(), fmt.Sprint(i), i)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, exec.callCount())
	assert.Equal(t, int32(1), peak.Load())
}

func TestDrain(t *testing.T) {
	release := make(chan struct{})
	exec := &recorder{hook: func(_ context.Context, items []Item[string, int]) ([]Result[string], error) {
		<-release
		return echo(items), nil
	}}
	b, _ := newTestBatcher(t, exec, Config{MaxBatchSize: 1, MaxWait: time.Hour})

	go func() { _, _ = b.Submit(context.Background(), "a", 1) }()
	require.Eventually(t, func() bool { return exec.callCount() == 1 }, time.Second, time.Millisecond)

	ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, b.Drain(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, b.Drain(context.Background()))
}
