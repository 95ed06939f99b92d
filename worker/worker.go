// Package worker implements the worker context (spec component C4): the
// per-thread bundle of a work-stealing deque, an MPSC submission list, and
// a notification callback, exactly as spec §4.4 describes.
//
// A Context carries no reference to the goroutine that owns it — only that
// goroutine ever calls the owner-only methods (Push, Pop, TryPopSubmissions,
// CurrentStack). Any worker may call Schedule or TryStealFrom on another
// worker's Context.
package worker

import (
	"sync/atomic"

	"github.com/Swind/go-forkjoin/deque"
	"github.com/Swind/go-forkjoin/frame"
	"github.com/Swind/go-forkjoin/stack"
	"github.com/Swind/go-forkjoin/submit"
)

// Context is one worker's owned state: its ready deque, its submission
// list, its current segmented stack, and a notify hook invoked whenever a
// submission lands so a sleeping scheduler can wake this worker.
type Context struct {
	// ID is this worker's index, stable for its lifetime. Used for
	// diagnostics and as a topology lookup key.
	ID int

	deque      *deque.Deque[*frame.Frame]
	submission submit.List[*frame.Frame]
	notify     func()

	stack *stack.Stack[frame.Frame]

	// released holds stacklet chains this worker has Released and has not
	// itself re-Adopted; a chain adopted by another worker stays listed.
	// Nothing frees them at shutdown (spec §9(b), see DESIGN.md).
	released []*stack.Stacklet[frame.Frame]

	stealCount   atomic.Int64
	stolenCount  atomic.Int64
	forkCount    atomic.Int64
	scheduleCount atomic.Int64
}

// New creates a worker context with the given id and notify callback.
// notify must never panic or block; it exists purely to let a scheduler
// wake a sleeping worker after a successful Schedule.
func New(id int, notify func()) *Context {
	if notify == nil {
		notify = func() {}
	}
	return &Context{
		ID:     id,
		deque:  deque.New[*frame.Frame](),
		notify: notify,
		stack:  stack.New[frame.Frame](),
	}
}

// Schedule pushes f's submission node onto this worker's submission list
// and then unconditionally invokes the notify callback, matching spec
// §4.4's strong-exception-guarantee ordering: the callback only fires
// after a successful push.
func (c *Context) Schedule(n *submit.Node[*frame.Frame]) {
	c.submission.Push(n)
	c.scheduleCount.Add(1)
	c.notify()
}

// TryPopSubmissions drains and returns all currently queued root-task
// submissions in FIFO order. Owner-only.
func (c *Context) TryPopSubmissions() []*frame.Frame {
	nodes := c.submission.Drain()
	if len(nodes) == 0 {
		return nil
	}
	out := make([]*frame.Frame, len(nodes))
	for i, n := range nodes {
		out[i] = n.Value
	}
	return out
}

// HasSubmissions reports whether at least one submission is queued.
func (c *Context) HasSubmissions() bool { return !c.submission.Empty() }

// Push adds f to the bottom of this worker's deque. Owner-only.
func (c *Context) Push(f *frame.Frame) {
	c.deque.PushBottom(f)
	c.forkCount.Add(1)
}

// Pop removes the most recently pushed frame from this worker's deque, or
// reports ok=false if empty. Owner-only.
func (c *Context) Pop() (f *frame.Frame, ok bool) { return c.deque.PopBottom() }

// TryStealFrom attempts to steal one frame from victim's deque. Any
// worker, including the owner itself (self-steal, explicitly permitted by
// spec §4.8), may call this.
func (c *Context) TryStealFrom(victim *Context) (f *frame.Frame, res deque.StealResult) {
	f, res = victim.deque.Steal()
	if res == deque.StealOK {
		victim.stolenCount.Add(1)
		c.stealCount.Add(1)
		f.MarkStolen()
	}
	return f, res
}

// DequeLen reports the approximate number of ready frames in this
// worker's deque, for metrics and neighbor-steal heuristics.
func (c *Context) DequeLen() int64 { return c.deque.Len() }

// CurrentStack returns this worker's current segmented stack handle, the
// arena frame.NewChild bump-allocates every forked or called frame from.
// Owner-only.
func (c *Context) CurrentStack() *stack.Stack[frame.Frame] { return c.stack }

// ReleaseStack detaches the worker's current stack chain (for resume_on
// or stack-eat handoffs) and installs a fresh one, tracking the detached
// chain as "released" until something adopts it.
func (c *Context) ReleaseStack() *stack.Stacklet[frame.Frame] {
	top := c.stack.Release()
	c.released = append(c.released, top)
	return top
}

// AdoptStack installs a previously released chain as this worker's
// current stack, and removes it from this worker's released-tracking
// list if it was the one that released it (idempotent otherwise, since
// the chain usually came from a different worker).
func (c *Context) AdoptStack(top *stack.Stacklet[frame.Frame]) error {
	for i, s := range c.released {
		if s == top {
			c.released = append(c.released[:i], c.released[i+1:]...)
			break
		}
	}
	return c.stack.AdoptInto(top)
}

// ReleasedStacklets returns the stacklet chains this worker has released
// and has not itself adopted back; a chain adopted by another worker is
// still listed. BusyPool reads it at shutdown but frees nothing.
func (c *Context) ReleasedStacklets() []*stack.Stacklet[frame.Frame] { return c.released }

// Stats is a point-in-time snapshot of this worker's counters, used by
// the Prometheus adapter and by tests asserting steal/schedule behavior.
type Stats struct {
	DequeLen      int64
	Steals        int64
	Stolen        int64
	Forks         int64
	Schedules     int64
}

// Snapshot returns the current counter values.
func (c *Context) Snapshot() Stats {
	return Stats{
		DequeLen:  c.DequeLen(),
		Steals:    c.stealCount.Load(),
		Stolen:    c.stolenCount.Load(),
		Forks:     c.forkCount.Load(),
		Schedules: c.scheduleCount.Load(),
	}
}
