// Command fibbench runs the classic recursive-Fibonacci fork/join
// workload against both scheduler policies and prints steal and
// fork counts, in the spirit of the teacher's examples/ tree of
// small demonstration binaries.
package main

import (
	"context"
	"fmt"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/Swind/go-forkjoin/core"
	"github.com/Swind/go-forkjoin/lazypool"
	"github.com/Swind/go-forkjoin/pool"
	"github.com/Swind/go-forkjoin/root"
	"github.com/Swind/go-forkjoin/task"
)

func fib(rt *task.Rt, n int) int {
	if n < 2 {
		return n
	}
	var a, b int
	rt.Fork(func(rt2 *task.Rt) { a = fib(rt2, n-1) })
	b = fib(rt, n-2)
	rt.Join()
	return a + b
}

func main() {
	fmt.Println("=== fibbench ===")

	runBusy(25)
	runLazy(25)

	fmt.Println("\n=== done ===")
}

func runBusy(n int) {
	fmt.Printf("\n--- BusyPool: fib(%d) ---\n", n)

	p := pool.New(core.SchedulerConfig{Name: "busy", Workers: 8})
	p.Start(context.Background())
	defer p.Stop()

	start := time.Now()
	got, err := root.SyncWait(p, func(rt *task.Rt) int { return fib(rt, n) })
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("fib(%d) failed: %v\n", n, err)
		return
	}

	var steals, forks int64
	for _, s := range p.Snapshots() {
		steals += s.Steals
		forks += s.Forks
	}
	fmt.Printf("result=%d elapsed=%s workers=%d steals=%d forks=%d\n", got, elapsed, p.WorkerCount(), steals, forks)
}

func runLazy(n int) {
	fmt.Printf("\n--- LazyPool: fib(%d) ---\n", n)

	p := lazypool.New(core.SchedulerConfig{Name: "lazy", Workers: 8})
	p.Start(context.Background())
	defer p.Stop()

	start := time.Now()
	got, err := root.SyncWait(p, func(rt *task.Rt) int { return fib(rt, n) })
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("fib(%d) failed: %v\n", n, err)
		return
	}

	var steals, forks int64
	for _, s := range p.Snapshots() {
		steals += s.Steals
		forks += s.Forks
	}
	fmt.Printf("result=%d elapsed=%s workers=%d steals=%d forks=%d active=%d\n",
		got, elapsed, p.WorkerCount(), steals, forks, p.ActiveWorkerCount())
}
