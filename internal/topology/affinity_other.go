//go:build !linux

package topology

import "runtime"

// affinityCPUCount has no portable affinity-mask query outside Linux;
// HardwareConcurrency falls back to runtime.NumCPU in that case.
func affinityCPUCount() int { return 0 }

func fallbackCPUCount() int { return runtime.NumCPU() }
