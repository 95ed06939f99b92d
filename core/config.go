package core

import "github.com/Swind/go-forkjoin/internal/topology"

// SchedulerConfig carries the construction parameters spec §6 lists for a
// pool: worker count, how workers are grouped into steal neighbors, and
// the ambient logging/metrics/panic-reporting
// collaborators every pool reports to.
type SchedulerConfig struct {
	// Name identifies this pool in logs and metrics.
	Name string

	// Workers is the number of worker goroutines to run. Zero means use
	// topology.HardwareConcurrency().
	Workers int

	// Distribution picks how workers are grouped for neighbor stealing and
	// (in the lazy pool) event-count sleeping: Fan maximizes distinct
	// cache domains touched, Seq packs adjacent workers together.
	Distribution topology.Strategy

	Logger       Logger
	Metrics      Metrics
	PanicHandler PanicHandler
}

// DefaultSchedulerConfig returns a SchedulerConfig with hardware
// concurrency workers, Fan distribution, no-op logging and metrics, and a
// DefaultPanicHandler that prints to stdout.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Name:         "forkjoin",
		Workers:      topology.HardwareConcurrency(),
		Distribution: topology.Fan,
		Logger:       NewNoOpLogger(),
		Metrics:      &NilMetrics{},
		PanicHandler: &DefaultPanicHandler{},
	}
}

// normalize fills in any zero-valued fields with their defaults, the way
// the teacher's DefaultTaskSchedulerConfig-derived configs were merged
// before use.
func (c SchedulerConfig) normalize() SchedulerConfig {
	if c.Name == "" {
		c.Name = "forkjoin"
	}
	if c.Workers <= 0 {
		c.Workers = topology.HardwareConcurrency()
	}
	if c.Logger == nil {
		c.Logger = NewNoOpLogger()
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &DefaultPanicHandler{}
	}
	return c
}

// Normalize is the exported entry point pools use to fill in defaults
// before spinning up workers.
func (c SchedulerConfig) Normalize() SchedulerConfig { return c.normalize() }
