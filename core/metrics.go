package core

import "time"

// Metrics is the collection interface a pool reports to. Implementations
// can forward into any monitoring system; the bundled
// observability/prometheus adapter turns this into registered Prometheus
// collectors. All methods must be non-blocking and fast — they are called
// from worker loops (every successful steal, every finished root task,
// every recovered panic) and from the snapshot poller.
type Metrics interface {
	// RecordForkJoinDuration records the wall-clock time a root task
	// spent running, from Schedule to completion.
	RecordForkJoinDuration(poolName string, duration time.Duration)

	// RecordSteal records a successful steal by thiefID from victimID.
	RecordSteal(poolName string, thiefID, victimID int)

	// RecordPanic records a panic recovered by a pool worker loop. Task
	// body panics are captured into frame exception cells and are not
	// recorded here.
	RecordPanic(poolName string, panicInfo any)

	// RecordQueueDepth records a worker's current deque length.
	RecordQueueDepth(poolName string, workerID int, depth int)

	// RecordRejected records that a root schedule was rejected (e.g.
	// called from a worker thread, or the pool is shutting down).
	RecordRejected(poolName string, reason string)

	// RecordActiveWorkers records the pool-wide count of workers
	// currently executing a task rather than stealing or sleeping.
	RecordActiveWorkers(poolName string, active int)
}

// NilMetrics is a no-op Metrics implementation, the default when none is
// configured.
type NilMetrics struct{}

func (*NilMetrics) RecordForkJoinDuration(poolName string, duration time.Duration) {}
func (*NilMetrics) RecordSteal(poolName string, thiefID, victimID int)             {}
func (*NilMetrics) RecordPanic(poolName string, panicInfo any)                     {}
func (*NilMetrics) RecordQueueDepth(poolName string, workerID int, depth int)      {}
func (*NilMetrics) RecordRejected(poolName string, reason string)                  {}
func (*NilMetrics) RecordActiveWorkers(poolName string, active int)                {}
