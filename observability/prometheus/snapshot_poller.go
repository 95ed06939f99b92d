package prometheus

import (
	"context"
	"fmt"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-forkjoin/worker"
)

// PoolSnapshotProvider exposes whatever a scheduler (pool.BusyPool or
// lazypool.LazyPool) can report about its own worker contexts at a point
// in time. Both pools implement this with no adapter required.
type PoolSnapshotProvider interface {
	Name() string
	WorkerCount() int
	Snapshots() []worker.Stats
}

// SnapshotPoller periodically reads PoolSnapshotProvider.Snapshots() and
// exports per-worker and pool-level gauges, grounded on the teacher's own
// SnapshotPoller — same Start/Stop latch over a ticking goroutine, same
// per-pool provider registry, retargeted from the teacher's queued/
// active/delayed runner-and-pool stats onto worker deque depth and
// steal/fork/schedule counters.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	workerQueueDepth  *prom.GaugeVec
	workerStealsTotal *prom.GaugeVec
	workerStolenTotal *prom.GaugeVec
	workerForksTotal  *prom.GaugeVec
	workerSchedules   *prom.GaugeVec
	poolWorkers       *prom.GaugeVec
	poolQueuedTotal   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	workerQueueDepth := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "forkjoin",
		Name:      "worker_deque_depth",
		Help:      "Snapshot of a worker's deque length.",
	}, []string{"pool", "worker"})
	workerStealsTotal := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "forkjoin",
		Name:      "worker_steals_total_snapshot",
		Help:      "Snapshot of a worker's lifetime successful-steal count.",
	}, []string{"pool", "worker"})
	workerStolenTotal := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "forkjoin",
		Name:      "worker_stolen_from_total_snapshot",
		Help:      "Snapshot of a worker's lifetime count of frames stolen from it.",
	}, []string{"pool", "worker"})
	workerForksTotal := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "forkjoin",
		Name:      "worker_forks_total_snapshot",
		Help:      "Snapshot of a worker's lifetime fork (deque push) count.",
	}, []string{"pool", "worker"})
	workerSchedules := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "forkjoin",
		Name:      "worker_schedules_total_snapshot",
		Help:      "Snapshot of a worker's lifetime root-submission count.",
	}, []string{"pool", "worker"})
	poolWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "forkjoin",
		Name:      "pool_worker_count",
		Help:      "Configured worker count per pool.",
	}, []string{"pool"})
	poolQueuedTotal := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "forkjoin",
		Name:      "pool_queued_total",
		Help:      "Sum of deque lengths across every worker in a pool.",
	}, []string{"pool"})

	var err error
	if workerQueueDepth, err = registerCollector(reg, workerQueueDepth); err != nil {
		return nil, err
	}
	if workerStealsTotal, err = registerCollector(reg, workerStealsTotal); err != nil {
		return nil, err
	}
	if workerStolenTotal, err = registerCollector(reg, workerStolenTotal); err != nil {
		return nil, err
	}
	if workerForksTotal, err = registerCollector(reg, workerForksTotal); err != nil {
		return nil, err
	}
	if workerSchedules, err = registerCollector(reg, workerSchedules); err != nil {
		return nil, err
	}
	if poolWorkers, err = registerCollector(reg, poolWorkers); err != nil {
		return nil, err
	}
	if poolQueuedTotal, err = registerCollector(reg, poolQueuedTotal); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:          interval,
		pools:             make(map[string]PoolSnapshotProvider),
		workerQueueDepth:  workerQueueDepth,
		workerStealsTotal: workerStealsTotal,
		workerStolenTotal: workerStolenTotal,
		workerForksTotal:  workerForksTotal,
		workerSchedules:   workerSchedules,
		poolWorkers:       poolWorkers,
		poolQueuedTotal:   poolQueuedTotal,
	}, nil
}

// AddPool adds or replaces a pool snapshot provider, keyed by its own Name().
func (p *SnapshotPoller) AddPool(provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name := normalizeLabel(provider.Name(), "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	defer p.poolsMu.RUnlock()

	for name, provider := range p.pools {
		p.poolWorkers.WithLabelValues(name).Set(float64(provider.WorkerCount()))

		snapshots := provider.Snapshots()
		var queuedTotal int64
		for id, stats := range snapshots {
			workerLabel := fmt.Sprintf("%d", id)
			p.workerQueueDepth.WithLabelValues(name, workerLabel).Set(float64(stats.DequeLen))
			p.workerStealsTotal.WithLabelValues(name, workerLabel).Set(float64(stats.Steals))
			p.workerStolenTotal.WithLabelValues(name, workerLabel).Set(float64(stats.Stolen))
			p.workerForksTotal.WithLabelValues(name, workerLabel).Set(float64(stats.Forks))
			p.workerSchedules.WithLabelValues(name, workerLabel).Set(float64(stats.Schedules))
			queuedTotal += stats.DequeLen
		}
		p.poolQueuedTotal.WithLabelValues(name).Set(float64(queuedTotal))
	}
}
