package lazypool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-forkjoin/core"
	"github.com/Swind/go-forkjoin/root"
	"github.com/Swind/go-forkjoin/task"
)

func newRunningPool(t *testing.T, workers int) *LazyPool {
	t.Helper()
	p := New(core.SchedulerConfig{Name: "test", Workers: workers})
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func fib(rt *task.Rt, n int) int {
	if n < 2 {
		return n
	}
	var a, b int
	rt.Fork(func(rt2 *task.Rt) { a = fib(rt2, n-1) })
	b = fib(rt, n-2)
	rt.Join()
	return a + b
}

func TestLazyPoolFib20On1Worker(t *testing.T) {
	p := newRunningPool(t, 1)
	got, err := root.SyncWait(p, func(rt *task.Rt) int { return fib(rt, 20) })
	require.NoError(t, err)
	assert.Equal(t, 6765, got)
}

func TestLazyPoolFib25On8Workers(t *testing.T) {
	p := newRunningPool(t, 8)
	got, err := root.SyncWait(p, func(rt *task.Rt) int { return fib(rt, 25) })
	require.NoError(t, err)
	assert.Equal(t, 75025, got)
}

func TestLazyPoolDrains10000TrivialTasksWithoutDeadlock(t *testing.T) {
	p := New(core.SchedulerConfig{Name: "drain", Workers: 8})
	p.Start(context.Background())

	const n = 10000
	var completed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := root.SyncWait(p, func(rt *task.Rt) int {
				completed.Add(1)
				return 0
			})
			require.NoError(t, err)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("10000 tasks did not all complete before timeout")
	}
	assert.Equal(t, int64(n), completed.Load())

	stopDone := make(chan struct{})
	go func() {
		p.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop deadlocked after drain")
	}
}

func TestLazyPoolWakeupInvariantHoldsUnderLoad(t *testing.T) {
	p := newRunningPool(t, 8)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// A background sampler polling GroupThieves/GroupSleeping while load
	// is in flight; I5 says an active pool never has a group that is
	// fully asleep with nobody looking for work.
	violations := atomic.Int64{}
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if p.AnyActive() {
				for g := 0; g < p.NumGroups(); g++ {
					if p.GroupThieves(g) == 0 && p.GroupSleeping(g) > 0 && p.GroupSleeping(g) == len(p.topo.WorkersInGroup(g)) {
						// Transient windows between state transitions are
						// expected; only count it if sustained.
						time.Sleep(time.Millisecond)
						if p.GroupThieves(g) == 0 && p.GroupSleeping(g) == len(p.topo.WorkersInGroup(g)) && p.AnyActive() {
							violations.Add(1)
						}
					}
				}
			}
			time.Sleep(200 * time.Microsecond)
		}
	}()

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := root.SyncWait(p, func(rt *task.Rt) int { return fib(rt, 18) })
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	close(stop)

	// This is a best-effort liveness sample, not a strict proof; a
	// nonzero count flags a real, sustained starvation window worth
	// investigating rather than a momentary race between state writes.
	assert.LessOrEqual(t, violations.Load(), int64(5))
}

func TestLazyPoolStartIsIdempotent(t *testing.T) {
	p := New(core.SchedulerConfig{Name: "idem", Workers: 2})
	p.Start(context.Background())
	p.Start(context.Background())
	defer p.Stop()
	got, err := root.SyncWait(p, func(rt *task.Rt) int { return 1 })
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}
