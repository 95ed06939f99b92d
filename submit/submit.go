// Package submit implements the intrusive MPSC submission list (spec
// component C3) used to hand root tasks to a worker from any goroutine,
// including ones that are not themselves pool workers.
//
// Producers push concurrently via a CAS-linked singly-linked list rooted at
// an atomic head, the same lock-free-stack shape the Go runtime itself uses
// for things like sudog free lists. The single consumer (the owning worker)
// drains the whole list in one atomic swap-to-nil and reverses it so nodes
// come out in the order they were pushed, which is what a FIFO root-task
// submission queue needs — a bare lock-free stack would hand back LIFO
// order instead.
//
// Node is generic over its payload rather than a plain intrusive embed:
// recovering a container from an embedded field pointer needs unsafe
// pointer arithmetic, which this runtime avoids throughout, so the node
// carries its payload directly.
package submit

import "sync/atomic"

// Node is one link in the submission list, carrying a payload of type T.
type Node[T any] struct {
	next  atomic.Pointer[Node[T]]
	Value T
}

// NewNode allocates a node wrapping v, ready to Push.
func NewNode[T any](v T) *Node[T] {
	return &Node[T]{Value: v}
}

// List is an MPSC submission list. The zero value is ready to use.
type List[T any] struct {
	head atomic.Pointer[Node[T]]
}

// Push adds n to the list. Safe for any number of concurrent callers.
func (l *List[T]) Push(n *Node[T]) {
	for {
		old := l.head.Load()
		n.next.Store(old)
		if l.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// Drain atomically detaches the entire current list and returns its nodes
// in FIFO (push) order. Only the designated single consumer may call this;
// concurrent Drain calls would each see a disjoint suffix and race on
// ordering guarantees.
func (l *List[T]) Drain() []*Node[T] {
	head := l.head.Swap(nil)
	if head == nil {
		return nil
	}

	// head..tail is in LIFO order (most recent push first); reverse it.
	var prev *Node[T]
	cur := head
	for cur != nil {
		next := cur.next.Load()
		cur.next.Store(prev)
		prev = cur
		cur = next
	}

	out := make([]*Node[T], 0, 8)
	for n := prev; n != nil; n = n.next.Load() {
		out = append(out, n)
	}
	return out
}

// Empty reports whether the list currently looks empty. Racy against
// concurrent Push the same way any MPSC peek is.
func (l *List[T]) Empty() bool { return l.head.Load() == nil }
