package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Swind/go-forkjoin/worker"
)

type poolStub struct {
	name      string
	snapshots []worker.Stats
}

func (s poolStub) Name() string              { return s.name }
func (s poolStub) WorkerCount() int          { return len(s.snapshots) }
func (s poolStub) Snapshots() []worker.Stats { return s.snapshots }

func TestSnapshotPoller_CollectsPoolStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddPool(poolStub{
		name: "pool-a",
		snapshots: []worker.Stats{
			{DequeLen: 4, Steals: 1, Stolen: 0, Forks: 9, Schedules: 2},
			{DequeLen: 0, Steals: 3, Stolen: 1, Forks: 5, Schedules: 1},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		depth0 := testutil.ToFloat64(poller.workerQueueDepth.WithLabelValues("pool-a", "0"))
		total := testutil.ToFloat64(poller.poolQueuedTotal.WithLabelValues("pool-a"))
		return depth0 == 4 && total == 4
	})

	if got := testutil.ToFloat64(poller.poolWorkers.WithLabelValues("pool-a")); got != 2 {
		t.Fatalf("pool worker count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.workerStealsTotal.WithLabelValues("pool-a", "1")); got != 3 {
		t.Fatalf("worker 1 steals = %v, want 3", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
