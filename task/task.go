// Package task implements the fork/call/join/resume_on suspension
// protocol (spec component C6) — the heart of the runtime.
//
// Continuation stealing vs. child stealing. Spec §4.6 describes
// continuation stealing: on fork, the PARENT's running frame is the one
// suspended and made stealable (pushed as suspended_in_deque(owner)),
// while the child begins running immediately, inline, on the same native
// call stack the parent was using — so a deep fork tree that nobody
// steals from costs O(1) native stack regardless of nesting depth,
// because each fork reuses the same stack slot instead of growing it.
// That transfer is only possible because spec's reference execution model
// (like the C++ library it traces back to) can suspend a stackful
// coroutine mid-function and resume a different one in its place on the
// same physical stack.
//
// Go has no such primitive. A goroutine's stack belongs to that goroutine
// alone; there is no operation that detaches "the rest of this Go
// function" from the call stack currently running it and hands it to a
// different goroutine to resume from an arbitrary point. Implementing
// literal continuation stealing would require rewriting every task body
// in continuation-passing style — turning ordinary recursive Go functions
// like a fib() that calls itself into an explicit chain of Signal-
// returning steps the worker trampoline single-steps — which would discard
// the ordinary-Go-function ergonomics this package exists to provide, for
// a guarantee (O(1) native stack depth under arbitrarily deep forking)
// that Go's own goroutine stacks already provide a working substitute for:
// they start small and grow on demand, so recursion depth is bounded by
// available memory, not a fixed native stack size, the same trade other
// coroutine-less fork-join runtimes make (Java's ForkJoinPool, .NET's TPL,
// Rust's rayon all use child stealing for exactly this reason).
//
// So this package deliberately implements child stealing instead: Fork
// pushes the CHILD frame onto the owner's deque and the parent keeps
// running inline via ordinary Go recursion; a thief that wins a steal
// runs that child concurrently while the original goroutine carries on.
// This preserves every *observable* property spec's scheduler cares about
// — idle workers find real parallel work via the same Chase-Lev deque,
// join correctness, exception propagation, load balance across a
// topology — at the cost of the one specific guarantee (native call-stack
// depth independent of fork depth) that requires coroutine support Go
// does not have. The rest of spec §4.6's machinery is implemented exactly
// as specified on top of this: steals accounting, the synthetic-marker
// sibling-safety rule for sync/eager_throw (ForkSync/CallEagerThrow
// below), and stack-eat on join-win (Join below; child frames are
// allocated off the segmented stack, not the Go heap).
//
//   - Call never touches the deque at all: the child runs inline,
//     immediately, in the same goroutine — exactly what spec describes,
//     with no child-vs-continuation distinction to make since a called
//     child is never independently stealable.
//   - Join first drains the owner's own deque inline to reclaim any
//     children nobody has stolen yet (the fast, common case, and the one
//     that keeps a single-worker pool correct — nothing else could have
//     taken them) — deallocating their stack slots as it goes (stack-eat
//     on join-win) — then blocks the calling goroutine on the frame's
//     children-done signal for whatever was genuinely stolen. Blocking a
//     worker goroutine here trades some of the original's strict O(1),
//     never-block design for Go's cheap, preemptible goroutines; other
//     workers are unaffected since they are independent goroutines, not
//     threads pinned to this one.
//   - ResumeOn is implemented via an explicit continuation-passing
//     trampoline (Body/Signal) run by the worker main loop, rather than a
//     literal suspend-and-resume of a coroutine frame — this is the one
//     place spec itself asks for an explicit resumable continuation, and
//     it is the one place this package builds one.
package task

import (
	"github.com/Swind/go-forkjoin/frame"
	"github.com/Swind/go-forkjoin/worker"
)

// ChildBody is a fork/call child's entry point. It runs to completion in
// whatever goroutine ends up executing it — the forking worker, inline,
// or a thief that stole it from a deque — and never suspends on its own;
// only a root-scheduled Body can resume_on.
type ChildBody func(rt *Rt)

// Body is a root task's entry point. Unlike ChildBody it may suspend by
// returning a ResumeOn signal, migrating to another worker and resuming
// from Next once there.
type Body func(rt *Rt) Signal

// Signal is what a Body returns to tell the worker main loop what to do
// next.
type Signal struct {
	resumeOn bool
	target   int
	next     Body
}

// DoneSignal reports that the task has finished.
func DoneSignal() Signal { return Signal{} }

// IsResumeOn reports whether this signal requests migration.
func (s Signal) IsResumeOn() bool { return s.resumeOn }

// Target returns the worker index to migrate to. Only meaningful when
// IsResumeOn is true.
func (s Signal) Target() int { return s.target }

// Next returns the continuation to resume once migrated. Only meaningful
// when IsResumeOn is true.
func (s Signal) Next() Body { return s.next }

// Rt is the per-invocation handle a running task uses to fork, call,
// join, and (for root tasks) resume_on. A *Rt is only valid for the
// duration of the call that received it; it must never be retained past
// the function it was passed to.
type Rt struct {
	ctx   *worker.Context
	frame *frame.Frame
}

// NewRt constructs a task handle bound to the given worker context and
// frame. Exported so pool/lazypool's main loops — the only callers that
// legitimately create the first Rt for a newly picked-up frame — can use
// it without this package exposing its own scheduling loop.
func NewRt(ctx *worker.Context, f *frame.Frame) *Rt { return &Rt{ctx: ctx, frame: f} }

// Frame returns the frame this Rt is executing. Exposed for pool/lazypool
// bookkeeping (steal accounting, stack-eat) and for tests.
func (rt *Rt) Frame() *frame.Frame { return rt.frame }

// Fork spawns a child that may be stolen by another worker. The child
// frame is bump-allocated off this worker's current stacklet (spec
// component C1), not the Go heap. Modifier `none`: never throws from the
// call site itself; any exception the child raises surfaces later at
// Join.
func (rt *Rt) Fork(body ChildBody) {
	child := frame.NewChild(rt.ctx.CurrentStack(), rt.frame, body)
	rt.frame.AddChild()
	rt.ctx.Push(child)
}

// ForkSync is Fork with the `sync` modifier: it immediately attempts to
// reclaim the child it just pushed (the common case — nothing has had a
// chance to steal it yet) and, if it succeeds, runs it to completion
// right there, eats back its stack slot (stack-eat on join-win, spec
// §4.6), and reports completedSync=true. If the child already escaped to
// a thief, ForkSync returns completedSync=false without running or
// checking anything further; any exception resurfaces at the eventual
// Join the normal way, and the slot is left for the thief since it is
// still in use on another worker.
//
// When the child did complete synchronously here and raised an exception,
// spec §4.6 requires checking for the hazard of abandoning still-
// outstanding siblings: `rt.Fork(A); rt.ForkSync(B)` where B panics must
// not unwind past A before A gets a chance to run. finalSuspend has
// already latched the exception onto rt.frame (the same "synthetic
// marker" spec describes) regardless of what happens next, so the only
// question here is whether it is safe to *also* rethrow directly right
// now: only if no other forked child of this frame is still outstanding.
// If one is, this call returns normally — the marker on rt.frame carries
// the exception forward to the next Join, which rethrows it there once
// every sibling has actually run.
func (rt *Rt) ForkSync(body ChildBody) (completedSync bool) {
	child := frame.NewChild(rt.ctx.CurrentStack(), rt.frame, body)
	rt.frame.AddChild()
	rt.ctx.Push(child)

	popped, ok := rt.ctx.Pop()
	if !ok {
		return false
	}
	if popped != child {
		rt.ctx.Push(popped)
		return false
	}

	Execute(rt.ctx, child)
	// Read the child's exception before its slot is eaten: Deallocate
	// zeroes the slot, exception cell included.
	exc, hasExc := child.Exception(), child.HasException()
	rt.ctx.CurrentStack().Deallocate(1)

	if hasExc && rt.frame.OutstandingChildren() == 0 {
		panic(exc)
	}
	return true
}

// ForkSyncOutside is spec's `sync_outside` modifier: identical to
// ForkSync here. The distinction spec draws — that a direct rethrow is
// always safe outside an enclosing fork-join scope — doesn't apply to Go:
// a panic() unwinds correctly via the normal defer/recover chain
// regardless of what scope called ForkSync, so there is no "inside a
// scope" hazard to guard against.
func (rt *Rt) ForkSyncOutside(body ChildBody) (completedSync bool) {
	return rt.ForkSync(body)
}

// Call spawns a child that must complete before the call returns.
// Modifier `none`: never throws; matches spec's "parent is not pushed;
// control simply transfers to the child" exactly, since Call never
// touches a deque at all. The child frame is bump-allocated off this
// worker's current stacklet and immediately eaten back once it completes,
// since a called child can never be stolen out from under this call.
func (rt *Rt) Call(body ChildBody) {
	child := frame.NewChild(rt.ctx.CurrentStack(), rt.frame, body)
	rt.frame.AddChild()
	Execute(rt.ctx, child)
	rt.ctx.CurrentStack().Deallocate(1)
}

// CallEagerThrow is Call with the `eager_throw` modifier: on return, any
// exception the child raised is rethrown immediately, but — same hazard
// ForkSync guards against — only once no other forked sibling of this
// frame remains outstanding. A called child never visits a deque, so it
// is never itself the thing a thief could steal, but its own panic must
// still not jump the queue ahead of a sibling spawned via Fork earlier in
// the same scope.
func (rt *Rt) CallEagerThrow(body ChildBody) {
	child := frame.NewChild(rt.ctx.CurrentStack(), rt.frame, body)
	rt.frame.AddChild()
	Execute(rt.ctx, child)
	exc, hasExc := child.Exception(), child.HasException()
	rt.ctx.CurrentStack().Deallocate(1)

	if hasExc && rt.frame.OutstandingChildren() == 0 {
		panic(exc)
	}
}

// CallEagerThrowOutside is spec's `eager_throw_outside` modifier,
// identical to CallEagerThrow for the same reason ForkSyncOutside matches
// ForkSync: Go's panic propagation makes the inside/outside distinction
// moot.
func (rt *Rt) CallEagerThrowOutside(body ChildBody) {
	rt.CallEagerThrow(body)
}

// Join waits for every outstanding forked child of the current task to
// complete. It first drains the owner's own deque inline — reclaiming any
// child nobody has stolen yet, the fast path spec §4.6 calls "steals==0"
// — then blocks for whatever was genuinely stolen. If any child captured
// an exception, Join rethrows it via panic on resumption, matching spec's
// "join rethrows on resumption if except is set".
//
// Stack-eat on join-win: every child reclaimed by this inline drain was
// bump-allocated by this same worker, in fork order, and popped back off
// the deque in the reverse (LIFO) order — exactly the discipline the
// segmented stack requires to deallocate them. A thief-owned child is
// never popped here (TryStealFrom removes it from the deque entirely), so
// this loop only ever "wins" slots nobody else touched; the slots it
// drained are deallocated once the loop ends, which eats the stack back to
// where it stood before this frame's first Fork when nothing was stolen.
// Slots of genuinely stolen children are not eaten here and stay
// allocated in this worker's arena, the same "stolen work doesn't get its
// stack back for free" trade-off the bump-allocated arena has in the
// original design.
func (rt *Rt) Join() {
	reclaimed := 0
	for rt.frame.OutstandingChildren() > 0 {
		child, ok := rt.ctx.Pop()
		if !ok {
			break
		}
		if child.Parent() != rt.frame {
			// Not one of ours — shouldn't happen under normal LIFO fork
			// nesting, but don't eat someone else's work if it does.
			rt.ctx.Push(child)
			break
		}
		Execute(rt.ctx, child)
		reclaimed++
	}
	// One slot at a time: Deallocate only frees within the top stacklet, and
	// the drained run may span several.
	for ; reclaimed > 0; reclaimed-- {
		rt.ctx.CurrentStack().Deallocate(1)
	}

	rt.frame.AddJoinWaiter()
	rt.frame.WaitForChildren()
	rt.frame.RemoveJoinWaiter()

	if rt.frame.HasException() {
		panic(rt.frame.Exception())
	}
}

// Execute runs a frame's pending ChildBody payload to completion —
// capturing any panic into the frame's exception cell — and then
// performs final-suspend bookkeeping: propagating the exception to the
// parent, decrementing the parent's outstanding-child count, and closing
// the frame's own done signal. Used both by Join's inline drain and by a
// worker main loop after a steal or a plain deque pop.
func Execute(ctx *worker.Context, f *frame.Frame) {
	body, _ := f.Payload.(ChildBody)
	rt := NewRt(ctx, f)

	func() {
		defer func() {
			if r := recover(); r != nil {
				f.CaptureException(r)
			}
		}()
		if body != nil {
			body(rt)
		}
	}()

	finalSuspend(f)
}

func finalSuspend(f *frame.Frame) {
	if parent := f.Parent(); parent != nil {
		if f.HasException() {
			parent.CaptureException(f.Exception())
		}
		parent.ChildCompleted()
	}
	f.MarkDone()
}

// ResumeOn suspends the current root task and migrates it to worker
// index target, resuming from next once there. Per spec §4.6: if this
// frame has never been stolen, the current worker releases its stack so
// the resuming worker can adopt it; invariant after resume_on is that the
// resuming worker's current stack is empty before it starts running next.
func (rt *Rt) ResumeOn(target int, next Body) Signal {
	if rt.frame.Steals() == 0 {
		rt.frame.Stacklet = rt.ctx.ReleaseStack()
	}
	return Signal{resumeOn: true, target: target, next: next}
}

// RunRoot executes a root frame's Body to completion or until it
// suspends via ResumeOn, handling stack adopt/steal bookkeeping and panic
// capture. The caller (a pool's worker main loop) is responsible for
// acting on a returned ResumeOn signal by rescheduling f onto the target
// worker with f.Payload set to signal.Next(), and for calling nothing
// further when the signal reports completion — RunRoot already performed
// final-suspend in that case.
func RunRoot(ctx *worker.Context, f *frame.Frame) Signal {
	if f.Stacklet != nil {
		if err := ctx.AdoptStack(f.Stacklet); err == nil {
			f.Stacklet = nil
		}
	} else if f.Parent() == nil {
		// A root frame with no carried stacklet landed on this worker's
		// submissions without going through Release — it was resumed
		// while already stolen (spec's "effectively stolen" resume_on
		// case) rather than handed a fresh stack to adopt.
		f.MarkStolen()
	}

	body, _ := f.Payload.(Body)
	rt := NewRt(ctx, f)
	var sig Signal

	func() {
		defer func() {
			if r := recover(); r != nil {
				f.CaptureException(r)
				sig = DoneSignal()
			}
		}()
		if body != nil {
			sig = body(rt)
		} else {
			sig = DoneSignal()
		}
	}()

	if !sig.IsResumeOn() {
		finalSuspend(f)
	}
	return sig
}
