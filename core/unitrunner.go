package core

import (
	"github.com/Swind/go-forkjoin/frame"
	"github.com/Swind/go-forkjoin/submit"
	"github.com/Swind/go-forkjoin/task"
	"github.com/Swind/go-forkjoin/worker"
)

// UnitRunner is a single-goroutine root.Scheduler, grounded on the
// teacher's single-threaded task runner: a deterministic harness for unit
// tests that exercises the real fork/join/resume_on machinery without
// spinning up a pool. Root frames run to completion synchronously on
// whichever goroutine calls SubmitRoot, following resume_on hops inline.
//
// This is explicitly a test/debugging tool, never a production
// scheduler: a single UnitRunner has no steal source, so any fork that
// isn't joined by the same goroutine that forked it will sit forever in
// its one deque until that goroutine's own Join drains it.
type UnitRunner struct {
	ctx *worker.Context
}

// NewUnitRunner creates a UnitRunner with a fresh, empty worker context.
func NewUnitRunner() *UnitRunner {
	return &UnitRunner{ctx: worker.New(0, nil)}
}

// SubmitRoot implements root.Scheduler: it runs the frame to completion
// immediately on the calling goroutine, following any resume_on hops.
func (r *UnitRunner) SubmitRoot(n *submit.Node[*frame.Frame]) {
	f := n.Value
	for {
		sig := task.RunRoot(r.ctx, f)
		if !sig.IsResumeOn() {
			return
		}
		f.Payload = sig.Next()
	}
}

// InWorker always reports false: a UnitRunner has no background worker
// goroutines to be "inside", so Schedule/SyncWait/Detach are always legal
// to call.
func (r *UnitRunner) InWorker() bool { return false }

// Snapshot exposes the underlying worker's counters for assertions.
func (r *UnitRunner) Snapshot() worker.Stats { return r.ctx.Snapshot() }
