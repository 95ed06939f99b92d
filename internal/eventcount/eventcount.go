// Package eventcount implements the primitive spec §9 names for the lazy
// pool: a single atomic epoch counter that lets a thread commit to
// sleeping only if nothing was signaled between its last "no work" check
// and the moment it actually parks — the classic event-count / futex
// "prepare_wait, recheck, commit-or-cancel" dance, without which any
// naive sleep-on-empty loop has a wakeup race (a notify landing in the
// gap between checking for work and actually sleeping is lost forever).
package eventcount

import (
	"sync"
	"sync/atomic"
)

// EventCount is an atomic epoch counter (no waiter count is kept; Notify
// always broadcasts) plus a condition variable used as the actual parking primitive (Go has
// no native futex syscall exposed to user code; sync.Cond over a mutex is
// the idiomatic stand-in, same as most pure-Go port of futex-based
// algorithms use).
type EventCount struct {
	mu    sync.Mutex
	cond  *sync.Cond
	epoch atomic.Uint64
}

// New creates a ready-to-use EventCount.
func New() *EventCount {
	ec := &EventCount{}
	ec.cond = sync.NewCond(&ec.mu)
	return ec
}

// Key is a ticket returned by Prepare, presented to Commit or Cancel.
type Key struct {
	epoch uint64
}

// Prepare records the current epoch. Call this only after observing "no
// work available" — the epoch snapshot is the thing that lets Commit
// detect whether a Notify happened in between.
func (ec *EventCount) Prepare() Key {
	return Key{epoch: ec.epoch.Load()}
}

// Commit blocks until Notify has been called at least once since the
// matching Prepare, i.e. until the epoch has advanced past key's. Callers
// must re-check for work between Prepare and Commit and call Cancel
// instead if work turned up, or the wakeup race Prepare exists to close
// is reopened.
func (ec *EventCount) Commit(key Key) {
	ec.mu.Lock()
	for ec.epoch.Load() == key.epoch {
		ec.cond.Wait()
	}
	ec.mu.Unlock()
}

// Cancel abandons a Prepare without sleeping — used when a recheck after
// Prepare found work after all.
func (ec *EventCount) Cancel(key Key) {}

// Notify advances the epoch and wakes every thread parked in Commit.
// The lazy pool calls it after a Schedule, after a worker finishes a
// root or child task it picked up, and on Stop; a Fork does not call it.
func (ec *EventCount) Notify() {
	ec.mu.Lock()
	ec.epoch.Add(1)
	ec.cond.Broadcast()
	ec.mu.Unlock()
}
