package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-forkjoin/frame"
	"github.com/Swind/go-forkjoin/stack"
	"github.com/Swind/go-forkjoin/worker"
)

// newRootFrame mimics root.Schedule's stack setup (spec §4.7 steps 2-5):
// build a temporary stack, release it, and hand the stacklet to the frame
// so the worker adopts it on first resume.
func newRootFrame(body Body) *frame.Frame {
	tmp := stack.New[frame.Frame]()
	f := frame.NewRoot(tmp.Release(), nil)
	f.Payload = body
	return f
}

// runRootSync drives a single root Body to completion on a single worker
// context with no other workers around to steal — exercising the
// inline-drain fast path of Join deterministically.
func runRootSync(t *testing.T, body Body) *frame.Frame {
	t.Helper()
	ctx := worker.New(0, nil)
	f := newRootFrame(body)
	sig := RunRoot(ctx, f)
	require.False(t, sig.IsResumeOn(), "test body must not resume_on")
	return f
}

func fibChild(rt *Rt, n int, out *int) {
	*out = fib(rt, n)
}

func fib(rt *Rt, n int) int {
	if n < 2 {
		return n
	}
	var a int
	rt.Fork(func(rt2 *Rt) { fibChild(rt2, n-1, &a) })
	b := fib(rt, n-2)
	rt.Join()
	return a + b
}

func TestFibSingleWorkerInlineDrain(t *testing.T) {
	var result int
	f := runRootSync(t, func(rt *Rt) Signal {
		result = fib(rt, 10)
		return DoneSignal()
	})
	assert.Equal(t, 55, result)
	assert.False(t, f.HasException())
}

func TestCallRunsInlineSynchronously(t *testing.T) {
	var ran bool
	runRootSync(t, func(rt *Rt) Signal {
		rt.Call(func(rt2 *Rt) { ran = true })
		return DoneSignal()
	})
	assert.True(t, ran)
}

// TestJoinRethrowsChildException exercises Join's direct rethrow path by
// calling it outside of RunRoot/Execute's own recover wrapping — exactly
// as a worker main loop's body(rt) call wraps every real invocation, but
// bare here so the panic Join raises is observable as a real escaping
// panic rather than being captured into a frame's exception cell one
// level up. (A root body's own panic — including one Join raises on its
// behalf when run through RunRoot — is instead captured by RunRoot per
// spec open question (a); TestRootLevelRethrowIsCapturedNotEscaped below
// covers that path.)
func TestJoinRethrowsChildException(t *testing.T) {
	ctx := worker.New(0, nil)
	f := newRootFrame(nil)
	rt := NewRt(ctx, f)

	assert.PanicsWithValue(t, "boom", func() {
		rt.Fork(func(rt2 *Rt) { panic("boom") })
		rt.Join()
	})
}

func TestCallEagerThrowRethrowsImmediately(t *testing.T) {
	ctx := worker.New(0, nil)
	f := newRootFrame(nil)
	rt := NewRt(ctx, f)

	assert.PanicsWithValue(t, "eager", func() {
		rt.CallEagerThrow(func(rt2 *Rt) { panic("eager") })
	})
}

// TestRootLevelRethrowIsCapturedNotEscaped confirms that the very same
// Join rethrow, when it happens inside a body actually driven by
// RunRoot (the real production path), is captured into the frame's
// exception cell instead of escaping — RunRoot's own recover intercepts
// it, consistent with every other root-body panic.
func TestRootLevelRethrowIsCapturedNotEscaped(t *testing.T) {
	f := runRootSync(t, func(rt *Rt) Signal {
		rt.Fork(func(rt2 *Rt) { panic("boom") })
		rt.Join()
		return DoneSignal()
	})
	require.True(t, f.HasException())
	assert.Equal(t, "boom", f.Exception())
}

func TestForkSyncCompletesInlineWhenUncontended(t *testing.T) {
	var value int
	var completedSync bool
	runRootSync(t, func(rt *Rt) Signal {
		completedSync = rt.ForkSync(func(rt2 *Rt) { value = 42 })
		return DoneSignal()
	})
	assert.True(t, completedSync)
	assert.Equal(t, 42, value)
}

func TestForkSyncRethrowsDirectlyOnSyncCompletion(t *testing.T) {
	ctx := worker.New(0, nil)
	f := newRootFrame(nil)
	rt := NewRt(ctx, f)

	assert.PanicsWithValue(t, "sync-boom", func() {
		rt.ForkSync(func(rt2 *Rt) { panic("sync-boom") })
	})
}

// TestForkSyncDefersRethrowWhileSiblingOutstanding exercises the
// synthetic-marker sibling-safety rule: a sync child that panics must not
// unwind past a still-outstanding sibling spawned earlier via plain Fork.
// B completes (and panics) synchronously inside ForkSync, but A is still
// outstanding at that point, so ForkSync must return normally instead of
// rethrowing — the exception only surfaces once Join actually runs A and
// every sibling has had its chance.
func TestForkSyncDefersRethrowWhileSiblingOutstanding(t *testing.T) {
	ctx := worker.New(0, nil)
	f := newRootFrame(nil)
	rt := NewRt(ctx, f)

	var aRan bool
	var completedSync bool
	rt.Fork(func(rt2 *Rt) { aRan = true })

	assert.NotPanics(t, func() {
		completedSync = rt.ForkSync(func(rt2 *Rt) { panic("sync-boom") })
	})
	assert.True(t, completedSync, "B ran inline, uncontended")
	assert.True(t, f.HasException(), "marker latched, but not yet rethrown directly")

	assert.PanicsWithValue(t, "sync-boom", func() {
		rt.Join()
	})
	assert.True(t, aRan, "A must still run to completion despite B's panic")
}

// TestCallEagerThrowDefersRethrowWhileSiblingOutstanding is the CallEagerThrow
// analogue of TestForkSyncDefersRethrowWhileSiblingOutstanding above.
func TestCallEagerThrowDefersRethrowWhileSiblingOutstanding(t *testing.T) {
	ctx := worker.New(0, nil)
	f := newRootFrame(nil)
	rt := NewRt(ctx, f)

	var aRan bool
	rt.Fork(func(rt2 *Rt) { aRan = true })

	assert.NotPanics(t, func() {
		rt.CallEagerThrow(func(rt2 *Rt) { panic("eager-boom") })
	})
	assert.True(t, f.HasException())

	assert.PanicsWithValue(t, "eager-boom", func() {
		rt.Join()
	})
	assert.True(t, aRan)
}

func TestRootPanicIsCapturedNotCrashed(t *testing.T) {
	f := runRootSync(t, func(rt *Rt) Signal {
		panic(errors.New("root blew up"))
	})
	require.True(t, f.HasException())
	err, ok := f.Exception().(error)
	require.True(t, ok)
	assert.EqualError(t, err, "root blew up")
}

func TestResumeOnReturnsSignalAndReleasesStack(t *testing.T) {
	ctx := worker.New(0, nil)
	ctx.CurrentStack().Allocate(16)

	var sig Signal
	f := newRootFrame(nil)
	f.Payload = Body(func(rt *Rt) Signal {
		sig = rt.ResumeOn(1, func(rt2 *Rt) Signal { return DoneSignal() })
		return sig
	})

	got := RunRoot(ctx, f)
	require.True(t, got.IsResumeOn())
	assert.Equal(t, 1, got.Target())
	assert.True(t, ctx.CurrentStack().Empty())
	assert.NotNil(t, f.Stacklet)
}

func TestForkThenJoinAcrossManyChildren(t *testing.T) {
	const n = 500
	sum := 0
	runRootSync(t, func(rt *Rt) Signal {
		results := make([]int, n)
		for i := 0; i < n; i++ {
			i := i
			rt.Fork(func(rt2 *Rt) { results[i] = i })
		}
		rt.Join()
		for _, r := range results {
			sum += r
		}
		return DoneSignal()
	})
	assert.Equal(t, n*(n-1)/2, sum)
}

func TestRandomThrowWorkloadGetReturnsCorrectValueOrSingleException(t *testing.T) {
	for trial := 0; trial < 30; trial++ {
		trial := trial
		t.Run("", func(t *testing.T) {
			const n = 20
			throwAt := trial % (n + 1) // n means "nobody throws"

			var sum int
			f := runRootSync(t, func(rt *Rt) Signal {
				results := make([]int, n)
				for i := 0; i < n; i++ {
					i := i
					rt.Fork(func(rt2 *Rt) {
						if i == throwAt {
							panic(i)
						}
						results[i] = i
					})
				}
				rt.Join()
				for _, r := range results {
					sum += r
				}
				return DoneSignal()
			})

			if throwAt == n {
				assert.False(t, f.HasException())
				assert.Equal(t, n*(n-1)/2, sum)
			} else {
				require.True(t, f.HasException())
				assert.Equal(t, throwAt, f.Exception())
			}
		})
	}
}
