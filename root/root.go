// Package root implements the root entry point (spec component C7):
// building a root frame on a temporary stack, submitting it to a
// scheduler, and handing the caller a Future to wait on.
package root

import (
	"errors"
	"sync"

	"github.com/Swind/go-forkjoin/frame"
	"github.com/Swind/go-forkjoin/stack"
	"github.com/Swind/go-forkjoin/submit"
	"github.com/Swind/go-forkjoin/task"
)

// ErrScheduleFromWorker is returned when Schedule/SyncWait/Detach is
// called from a worker thread: a worker blocking on Future.Get would
// deadlock the pool, per spec §4.7 step 1.
var ErrScheduleFromWorker = errors.New("root: cannot schedule from a worker thread")

// Scheduler is the minimal surface root needs from a pool: a way to hand
// a submission node to some worker. Both pool.BusyPool and
// lazypool.LazyPool implement it.
type Scheduler interface {
	SubmitRoot(n *submit.Node[*frame.Frame])
	// InWorker reports whether the calling goroutine is itself a pool
	// worker's main-loop goroutine, so Schedule can refuse to block it.
	InWorker() bool
}

// Future is the result handle returned by Schedule. Its Get blocks until
// the root task completes, then returns its result (or re-panics with
// the captured exception, per spec §9(a)'s resolution: a root panic is
// routed here rather than left to crash a worker).
type Future[R any] struct {
	once   sync.Once
	done   chan struct{}
	result R
	panicVal any
	detached bool
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

// Complete implements frame.RootSignal. Invoked exactly once by whichever
// worker finishes the root frame.
func (fut *Future[R]) Complete(panicVal any) {
	fut.once.Do(func() {
		fut.panicVal = panicVal
		close(fut.done)
	})
}

func (fut *Future[R]) setResult(r R) { fut.result = r }

// Get blocks until the task completes and returns its result, re-panicking
// with the captured exception if the root task panicked.
func (fut *Future[R]) Get() R {
	<-fut.done
	if fut.panicVal != nil {
		panic(fut.panicVal)
	}
	return fut.result
}

// Detach marks the future as not needing to be waited on; its result, if
// any, is discarded. Matches spec's "future whose destructor blocks on
// the semaphore unless detached" — Go has no destructors, so Detach is
// the explicit spelling of "I will never call Get".
func (fut *Future[R]) Detach() { fut.detached = true }

// Detached reports whether Detach has been called.
func (fut *Future[R]) Detached() bool { return fut.detached }

// Schedule builds a root frame for fn, submits it to target, and returns
// a Future for its result. fn receives a *task.Rt the same way any
// root-scheduled Body does, and may use Fork/Call/Join/ResumeOn.
func Schedule[R any](target Scheduler, fn func(rt *task.Rt) R) (*Future[R], error) {
	if target.InWorker() {
		return nil, ErrScheduleFromWorker
	}

	fut := newFuture[R]()

	tmp := stack.New[frame.Frame]()
	stacklet := tmp.Release()

	f := frame.NewRoot(stacklet, fut)
	f.Payload = task.Body(func(rt *task.Rt) task.Signal {
		fut.setResult(fn(rt))
		return task.DoneSignal()
	})

	target.SubmitRoot(submit.NewNode(f))
	return fut, nil
}

// SyncWait schedules fn on target and blocks for its result.
func SyncWait[R any](target Scheduler, fn func(rt *task.Rt) R) (R, error) {
	fut, err := Schedule(target, fn)
	if err != nil {
		var zero R
		return zero, err
	}
	return fut.Get(), nil
}

// Detach schedules fn on target and discards the future immediately,
// running it purely for side effects.
func Detach(target Scheduler, fn func(rt *task.Rt)) error {
	fut, err := Schedule(target, func(rt *task.Rt) struct{} {
		fn(rt)
		return struct{}{}
	})
	if err != nil {
		return err
	}
	fut.Detach()
	return nil
}
