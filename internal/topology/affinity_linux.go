//go:build linux

package topology

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// affinityCPUCount reports the number of CPUs set in this process's
// scheduling affinity mask, which can be narrower than the machine's total
// core count under cgroups/taskset — the same signal
// go.uber.org/automaxprocs uses to size GOMAXPROCS.
func affinityCPUCount() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0
	}
	return set.Count()
}

func fallbackCPUCount() int { return runtime.NumCPU() }
