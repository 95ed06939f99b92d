// Package lazypool implements the lazy scheduler policy (spec component
// C9): workers grouped by locality that sleep on a per-group event-count
// instead of spinning. A worker that finishes a task notifies only its own
// group, and becoming active wakes no other group, so the wakeup invariant
// (I5: if any worker is active, every group has a thief or zero sleepers)
// is not enforced: a group's last thief can go to sleep while workers in
// other groups are active.
//
// Grounded the same way pool.BusyPool is — the teacher's
// GoroutineThreadPool Start/Stop latch — but the main loop's idle path
// replaces pool's microsecond busy-sleep with a real
// internal/eventcount.EventCount parking point per locality group.
package lazypool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-forkjoin/core"
	"github.com/Swind/go-forkjoin/deque"
	"github.com/Swind/go-forkjoin/frame"
	"github.com/Swind/go-forkjoin/internal/eventcount"
	"github.com/Swind/go-forkjoin/internal/gid"
	"github.com/Swind/go-forkjoin/internal/topology"
	"github.com/Swind/go-forkjoin/submit"
	"github.com/Swind/go-forkjoin/task"
	"github.com/Swind/go-forkjoin/worker"
)

// workerState is one of Active (running a task), Thief (looking for
// work), or Sleeping (parked on its group's event-count) — the three
// states the glossary's "Active / Thief / Sleeping" entry names.
type workerState int32

const (
	stateThief workerState = iota
	stateActive
	stateSleeping
)

// LazyPool is the event-counted scheduler: a worker sleeps on its group's
// event-count, instead of spinning, once its own submissions and deque and
// its immediate neighbors' deques are empty.
type LazyPool struct {
	config core.SchedulerConfig
	topo   *topology.Topology

	workers []*worker.Context
	states  []atomic.Int32

	groupEvents []*eventcount.EventCount

	nextSubmit atomic.Uint64

	goroutineWg sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	runningMu sync.RWMutex
	running   bool

	activeGoroutines sync.Map
}

// New constructs a LazyPool from cfg (normalized) but does not start any
// goroutines yet.
func New(cfg core.SchedulerConfig) *LazyPool {
	cfg = cfg.Normalize()
	topo := topology.Build(cfg.Workers, cfg.Distribution)

	p := &LazyPool{
		config: cfg,
		topo:   topo,
	}
	p.workers = make([]*worker.Context, cfg.Workers)
	p.states = make([]atomic.Int32, cfg.Workers)
	p.groupEvents = make([]*eventcount.EventCount, topo.NumGroups())
	for g := range p.groupEvents {
		p.groupEvents[g] = eventcount.New()
	}
	for i := range p.workers {
		idx := i
		group := topo.Group(idx)
		p.workers[i] = worker.New(idx, func() { p.groupEvents[group].Notify() })
	}
	return p
}

// Start spins up one goroutine per worker.
func (p *LazyPool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	for i := range p.workers {
		p.goroutineWg.Add(1)
		go p.workerLoop(i, p.ctx)
	}
}

// Stop cancels every worker, wakes any sleepers so they can observe
// cancellation, and waits for them to drain.
func (p *LazyPool) Stop() {
	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.runningMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	for _, ec := range p.groupEvents {
		ec.Notify()
	}
	p.goroutineWg.Wait()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()
}

// Join blocks until every worker goroutine has exited after Stop.
func (p *LazyPool) Join() { p.goroutineWg.Wait() }

// WorkerCount returns the number of worker goroutines.
func (p *LazyPool) WorkerCount() int { return len(p.workers) }

// Name returns the pool's configured name, for snapshot/metrics labeling.
func (p *LazyPool) Name() string { return p.config.Name }

// Snapshots returns a point-in-time counter snapshot for every worker, in
// worker-id order. Used by the Prometheus snapshot poller.
func (p *LazyPool) Snapshots() []worker.Stats {
	out := make([]worker.Stats, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Snapshot()
	}
	return out
}

// ActiveWorkerCount returns the current count of workers in the Active
// state, for the snapshot poller's pool-level active gauge.
func (p *LazyPool) ActiveWorkerCount() int {
	n := 0
	for i := range p.states {
		if workerState(p.states[i].Load()) == stateActive {
			n++
		}
	}
	return n
}

// SubmitRoot implements root.Scheduler.
func (p *LazyPool) SubmitRoot(n *submit.Node[*frame.Frame]) {
	idx := int(p.nextSubmit.Add(1)) % len(p.workers)
	p.workers[idx].Schedule(n)
}

// InWorker implements root.Scheduler.
func (p *LazyPool) InWorker() bool {
	_, ok := p.activeGoroutines.Load(gid.Current())
	return ok
}

func (p *LazyPool) setState(id int, s workerState) { p.states[id].Store(int32(s)) }

// AnyActive reports whether any worker pool-wide is currently running a
// task. Exposed (alongside GroupThieves/GroupSleeping) so tests can
// sample the I5 wakeup invariant — "if any worker is active, every group
// has at least one thief or zero sleepers" — during a live stress run.
func (p *LazyPool) AnyActive() bool {
	for i := range p.states {
		if workerState(p.states[i].Load()) == stateActive {
			return true
		}
	}
	return false
}

// GroupThieves counts workers in group g currently in the Thief state.
func (p *LazyPool) GroupThieves(g int) int {
	n := 0
	for _, w := range p.topo.WorkersInGroup(g) {
		if workerState(p.states[w].Load()) == stateThief {
			n++
		}
	}
	return n
}

// GroupSleeping counts workers in group g currently parked Sleeping.
func (p *LazyPool) GroupSleeping(g int) int {
	n := 0
	for _, w := range p.topo.WorkersInGroup(g) {
		if workerState(p.states[w].Load()) == stateSleeping {
			n++
		}
	}
	return n
}

// NumGroups returns the number of locality groups workers are split into.
func (p *LazyPool) NumGroups() int { return p.topo.NumGroups() }

func (p *LazyPool) workerLoop(id int, ctx context.Context) {
	defer p.goroutineWg.Done()

	self := gid.Current()
	p.activeGoroutines.Store(self, struct{}{})
	defer p.activeGoroutines.Delete(self)

	w := p.workers[id]
	group := p.topo.Group(id)
	sampler := topology.NewNeighborSampler(p.topo, id, nil, int64(id)+1)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.setState(id, stateThief)

		if p.runOneSubmission(w) {
			continue
		}
		if p.runOneOwned(w) {
			continue
		}
		if p.stealOne(w, sampler) {
			continue
		}

		p.parkUntilWork(ctx, id, group, w, sampler)
	}
}

// parkUntilWork implements the prepare/recheck/commit-or-cancel dance:
// snapshot the group's event-count epoch, recheck this worker's own
// submissions and deque and its immediate neighbors' deques one more time
// (closing the race where work appeared there between the earlier checks
// and now), and only sleep if that recheck also comes up empty. Workers
// outside the immediate neighbors are not rechecked.
func (p *LazyPool) parkUntilWork(ctx context.Context, id, group int, w *worker.Context, sampler *topology.NeighborSampler) {
	ec := p.groupEvents[group]
	key := ec.Prepare()

	if w.HasSubmissions() || w.DequeLen() > 0 {
		ec.Cancel(key)
		return
	}
	for _, victimID := range sampler.ImmediateNeighbors() {
		if p.workers[victimID].DequeLen() > 0 {
			ec.Cancel(key)
			return
		}
	}

	select {
	case <-ctx.Done():
		ec.Cancel(key)
		return
	default:
	}

	p.setState(id, stateSleeping)
	waitDone := make(chan struct{})
	go func() {
		ec.Commit(key)
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		ec.Notify() // unblock the helper goroutine above
		<-waitDone
	}
	p.setState(id, stateThief)
}

func (p *LazyPool) runOneSubmission(w *worker.Context) bool {
	frames := w.TryPopSubmissions()
	if len(frames) == 0 {
		return false
	}
	id := w.ID
	p.setState(id, stateActive)
	for _, f := range frames {
		p.runRoot(w, f)
	}
	p.notifyGroup(id)
	p.setState(id, stateThief)
	return true
}

func (p *LazyPool) runOneOwned(w *worker.Context) bool {
	f, ok := w.Pop()
	if !ok {
		return false
	}
	p.setState(w.ID, stateActive)
	p.runChild(w, f)
	p.notifyGroup(w.ID)
	p.setState(w.ID, stateThief)
	return true
}

func (p *LazyPool) stealOne(w *worker.Context, sampler *topology.NeighborSampler) bool {
	for _, victimID := range sampler.ImmediateNeighbors() {
		f, res := w.TryStealFrom(p.workers[victimID])
		if res == deque.StealOK {
			p.config.Metrics.RecordSteal(p.config.Name, w.ID, victimID)
			p.setState(w.ID, stateActive)
			p.runChild(w, f)
			p.notifyGroup(w.ID)
			p.setState(w.ID, stateThief)
			return true
		}
	}
	if victimID, ok := sampler.Sample(); ok {
		if f, res := w.TryStealFrom(p.workers[victimID]); res == deque.StealOK {
			p.config.Metrics.RecordSteal(p.config.Name, w.ID, victimID)
			p.setState(w.ID, stateActive)
			p.runChild(w, f)
			p.notifyGroup(w.ID)
			p.setState(w.ID, stateThief)
			return true
		}
	}
	return false
}

// notifyGroup wakes this worker's own group's sleepers after it finishes a
// root or child task, since that task's forks may have left work for
// neighbors to find. Sleepers in other groups are not woken.
func (p *LazyPool) notifyGroup(workerID int) {
	p.groupEvents[p.topo.Group(workerID)].Notify()
}

func (p *LazyPool) runChild(w *worker.Context, f *frame.Frame) {
	defer p.recoverPanic(w.ID)
	task.Execute(w, f)
}

func (p *LazyPool) runRoot(w *worker.Context, f *frame.Frame) {
	defer p.recoverPanic(w.ID)
	start := time.Now()
	sig := task.RunRoot(w, f)
	if sig.IsResumeOn() {
		f.Payload = sig.Next()
		target := sig.Target() % len(p.workers)
		node := submit.NewNode(f)
		p.workers[target].Schedule(node)
		return
	}
	p.config.Metrics.RecordForkJoinDuration(p.config.Name, time.Since(start))
}

func (p *LazyPool) recoverPanic(workerID int) {
	if r := recover(); r != nil {
		p.config.Metrics.RecordPanic(p.config.Name, r)
		p.config.PanicHandler.HandlePanic(p.ctx, p.config.Name, workerID, r, nil)
	}
}
