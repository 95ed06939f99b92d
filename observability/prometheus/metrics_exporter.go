package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-forkjoin/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors, grounded
// on the teacher's own Prometheus adapter — same registerCollector
// idempotent-register helper, same fork-join domain's metrics surface
// (root task duration histogram, steal/panic/rejection counters,
// queue-depth/active-worker gauges) in place of the teacher's
// per-priority task duration histogram.
type MetricsExporter struct {
	forkJoinDurationSeconds *prom.HistogramVec
	stealsTotal             *prom.CounterVec
	panicsTotal             *prom.CounterVec
	rejectedTotal           *prom.CounterVec
	queueDepth              *prom.GaugeVec
	activeWorkers           *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "forkjoin"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "root_task_duration_seconds",
		Help:      "Wall-clock duration of a root task from schedule to completion.",
		Buckets:   buckets,
	}, []string{"pool"})
	stealsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "steals_total",
		Help:      "Total number of successful work-stealing deque steals.",
	}, []string{"pool", "thief", "victim"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of panics recovered by pool worker loops.",
	}, []string{"pool"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_rejected_total",
		Help:      "Total number of rejected root schedule calls.",
	}, []string{"pool", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Current number of ready frames in a worker's deque.",
	}, []string{"pool", "worker"})
	activeWorkersVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "active_workers",
		Help:      "Current number of workers executing a task rather than stealing or sleeping.",
	}, []string{"pool"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if stealsVec, err = registerCollector(reg, stealsVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if activeWorkersVec, err = registerCollector(reg, activeWorkersVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		forkJoinDurationSeconds: durationVec,
		stealsTotal:             stealsVec,
		panicsTotal:             panicVec,
		rejectedTotal:           rejectedVec,
		queueDepth:              queueDepthVec,
		activeWorkers:           activeWorkersVec,
	}, nil
}

// RecordForkJoinDuration implements core.Metrics.
func (m *MetricsExporter) RecordForkJoinDuration(poolName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.forkJoinDurationSeconds.WithLabelValues(normalizeLabel(poolName, "unknown")).Observe(duration.Seconds())
}

// RecordSteal implements core.Metrics.
func (m *MetricsExporter) RecordSteal(poolName string, thiefID, victimID int) {
	if m == nil {
		return
	}
	m.stealsTotal.WithLabelValues(normalizeLabel(poolName, "unknown"), workerLabel(thiefID), workerLabel(victimID)).Inc()
}

// RecordPanic implements core.Metrics.
func (m *MetricsExporter) RecordPanic(poolName string, panicInfo any) {
	if m == nil {
		return
	}
	m.panicsTotal.WithLabelValues(normalizeLabel(poolName, "unknown")).Inc()
}

// RecordQueueDepth implements core.Metrics.
func (m *MetricsExporter) RecordQueueDepth(poolName string, workerID int, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(poolName, "unknown"), workerLabel(workerID)).Set(float64(depth))
}

// RecordRejected implements core.Metrics.
func (m *MetricsExporter) RecordRejected(poolName string, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(normalizeLabel(poolName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordActiveWorkers implements core.Metrics.
func (m *MetricsExporter) RecordActiveWorkers(poolName string, active int) {
	if m == nil {
		return
	}
	m.activeWorkers.WithLabelValues(normalizeLabel(poolName, "unknown")).Set(float64(active))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func workerLabel(id int) string {
	return fmt.Sprintf("%d", id)
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
