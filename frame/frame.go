// Package frame implements the task frame (spec component C5): the
// per-task bookkeeping record allocated on a worker's segmented stack,
// tracking a task's parent, its stacklet, how many times it has been
// stolen, how many forked children remain outstanding, and any captured
// exception.
//
// This implementation adapts spec §4.5's exact bit-packed
// U16_MAX-sentinel joins/steals dance to a plain Go idiom: Go has no
// stackless-coroutine symmetric transfer to exploit the sentinel trick's
// single-fetch_sub join-or-continue test, so Joins here is an ordinary
// atomic down-counter of outstanding children (starting at 0, incremented
// per Fork, decremented on each child's completion) and Join blocks on a
// channel once the owner's own deque has been drained of reclaimable
// children. The steals counter, exception-capture cell, and stack-eat
// bookkeeping keep the spec's semantics — only the counter encoding
// changes. See DESIGN.md for the full rationale.
package frame

import (
	"sync"
	"sync/atomic"

	"github.com/Swind/go-forkjoin/stack"
)

// Kind discriminates a frame's parent union: either it has a parent
// frame (a forked/called task) or it is a root frame bound to a Future.
type Kind int

const (
	// KindChild frames were created by Fork or Call and join back to a
	// parent frame.
	KindChild Kind = iota
	// KindRoot frames were created by a root Schedule/SyncWait/Detach
	// call and signal completion through a root completion channel
	// instead of a parent's join counter.
	KindRoot
)

// RootSignal is the completion interface a root frame notifies on
// completion, implemented by root.Future.
type RootSignal interface {
	// Complete is invoked exactly once, by whichever worker finishes the
	// root frame, carrying any captured exception (nil if none).
	Complete(panicVal any)
}

// Frame is the per-task bookkeeping record. A non-root *Frame is placed
// directly in a worker's segmented stack arena by NewChild (spec
// component C1's bump-allocation responsibility); a root frame is an
// ordinary heap allocation, built once per Schedule call, that later
// carries its own temporary stack handle across to whichever worker first
// runs it.
type Frame struct {
	Stacklet *stack.Stacklet[Frame]

	// Payload carries the task package's pending-body closure for a
	// frame sitting in a deque (either a not-yet-run fork or, for a root
	// frame, the entry point). frame itself never inspects it — kept as
	// `any` purely so this package has no dependency on task, which
	// depends on frame and worker in turn.
	Payload any

	kind   Kind
	parent *Frame
	root   RootSignal

	// joins counts outstanding (unjoined) forked children. Owner-written
	// on Fork (increment, before the child can run), cross-worker-written
	// on child completion (decrement). Atomic because a stolen child
	// completes on a worker other than the one that will eventually Join.
	joins atomic.Int64

	// joinMu guards joinWake: installing a wait channel in WaitForChildren
	// and closing/clearing it in ChildCompleted must be serialized so a
	// completion landing between "check count" and "install channel"
	// can never be missed.
	joinMu   sync.Mutex
	joinWake chan struct{}

	// steals counts how many times this frame's continuation has been
	// picked up by a worker other than the one that pushed it — either via
	// a genuine Chase-Lev steal or via the "effectively stolen" resume_on
	// bookkeeping in spec §4.6. Owner-only: only whichever worker is
	// currently running this frame's continuation reads or writes it, and
	// ownership transfer itself is what makes that safe (the deque/channel
	// handoff is the synchronization).
	steals uint32

	exceptSet atomic.Bool
	exception atomic.Pointer[capturedPanic]

	// done is closed exactly once, when the frame's task body has fully
	// completed (after any captured panic has been stored). The runtime
	// itself never waits on it: root.Future is notified through the
	// RootSignal, and a forked child's completion is observed in aggregate
	// by its parent via WaitForChildren.
	done chan struct{}

	// joinWaiters counts Joins currently blocked on this frame's children,
	// readable through JoinWaiters; no scheduler in this module reads it.
	joinWaiters atomic.Int32
}

type capturedPanic struct {
	val any
}

// NewChild bump-allocates one frame slot off st (the spawning worker's
// current stacklet) and places a child frame there, joining back to
// parent. This is the one real production call site for
// stack.Stack.Allocate: every forked or called task frame lives in its
// owner's segmented arena, not on the Go heap, per spec §3's Data Model.
//
// Slots are reused LIFO as the arena grows and shrinks, so every field is
// explicitly reset here rather than relying on zero-initialization — a
// slot's previous occupant may have left a closed done channel or a set
// exception bit behind.
func NewChild(st *stack.Stack[Frame], parent *Frame, payload any) *Frame {
	slot := st.Allocate(1)
	f := &slot[0]
	f.Stacklet = nil
	f.Payload = payload
	f.kind = KindChild
	f.parent = parent
	f.root = nil
	f.joins.Store(0)
	f.joinWake = nil
	f.steals = 0
	f.exceptSet.Store(false)
	f.exception.Store(nil)
	f.done = make(chan struct{})
	f.joinWaiters.Store(0)
	return f
}

// NewRoot allocates a root frame whose completion notifies signal. Root
// frames are rare relative to forked children (one per Schedule call, not
// one per fork) and are never bump-allocated: a plain heap allocation here
// keeps the arena dedicated to the hot fork/call path.
func NewRoot(stacklet *stack.Stacklet[Frame], signal RootSignal) *Frame {
	return &Frame{
		Stacklet: stacklet,
		kind:     KindRoot,
		root:     signal,
		done:     make(chan struct{}),
	}
}

// Kind reports whether this is a root or child frame.
func (f *Frame) Kind() Kind { return f.kind }

// Parent returns the parent frame, or nil for a root frame.
func (f *Frame) Parent() *Frame { return f.parent }

// Steals returns the owner-only steal count. Only safe to call from the
// worker currently holding this frame's continuation.
func (f *Frame) Steals() uint32 { return f.steals }

// MarkStolen increments the steal count; called by a thief immediately
// after it wins a steal or an effectively-stolen resume_on pickup, before
// it resumes the frame and becomes its new de-facto owner.
func (f *Frame) MarkStolen() { f.steals++ }

// AddChild registers one more outstanding forked child. Must be called by
// the current owner before the child is made runnable (pushed to a deque
// or executed inline), so that a racing completion never observes a joins
// count that hasn't yet accounted for it.
func (f *Frame) AddChild() { f.joins.Add(1) }

// ChildCompleted records that one forked child has finished. Returns true
// if this was the last outstanding child (the join condition is met). If
// a WaitForChildren call is currently parked on this frame, the last
// completion wakes it. Safe to call from any worker.
func (f *Frame) ChildCompleted() bool {
	if f.joins.Add(-1) != 0 {
		return false
	}
	f.joinMu.Lock()
	if f.joinWake != nil {
		close(f.joinWake)
		f.joinWake = nil
	}
	f.joinMu.Unlock()
	return true
}

// OutstandingChildren reports the current number of unjoined children.
// Racy unless called by the owner with no concurrent forks in flight.
func (f *Frame) OutstandingChildren() int64 { return f.joins.Load() }

// WaitForChildren blocks until every child added since the last join
// round has completed. Returns immediately if there are none outstanding.
// Must only be called by the frame's current owner, and only once at a
// time per frame (concurrent Joins on the same frame are not a supported
// usage pattern, same as the original's single-join-point-per-scope model).
func (f *Frame) WaitForChildren() {
	f.joinMu.Lock()
	if f.joins.Load() <= 0 {
		f.joinMu.Unlock()
		return
	}
	ch := make(chan struct{})
	f.joinWake = ch
	f.joinMu.Unlock()
	<-ch
}

// CaptureException stores val into the exception cell if no exception has
// been captured yet (first-wins, atomic acq-rel exchange per spec §4.5/§5).
// Subsequent calls are no-ops.
func (f *Frame) CaptureException(val any) {
	if val == nil {
		return
	}
	if f.exceptSet.CompareAndSwap(false, true) {
		f.exception.Store(&capturedPanic{val: val})
	}
}

// HasException reports whether an exception has been captured.
func (f *Frame) HasException() bool { return f.exceptSet.Load() }

// Exception returns the captured exception value, or nil.
func (f *Frame) Exception() any {
	p := f.exception.Load()
	if p == nil {
		return nil
	}
	return p.val
}

// MarkDone closes the frame's completion channel and, for a root frame,
// notifies the bound RootSignal. Must be called exactly once, by whichever
// worker finishes this frame's task body.
func (f *Frame) MarkDone() {
	if f.kind == KindRoot && f.root != nil {
		f.root.Complete(f.Exception())
	}
	close(f.done)
}

// Done returns the channel MarkDone closes. Join does not wait on it; it
// waits through WaitForChildren.
func (f *Frame) Done() <-chan struct{} { return f.done }

// AddJoinWaiter/RemoveJoinWaiter bracket a Join's blocking wait so that
// JoinWaiters reports whether a worker is parked waiting on this frame.
func (f *Frame) AddJoinWaiter()    { f.joinWaiters.Add(1) }
func (f *Frame) RemoveJoinWaiter() { f.joinWaiters.Add(-1) }
func (f *Frame) JoinWaiters() int32 { return f.joinWaiters.Load() }
