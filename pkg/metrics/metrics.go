package metrics

import (
	"time"
)

// Patch outcomes reported through Collector.PatchOutcome
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Collector defines the interface for collecting mitigation metrics
type Collector interface {
	// TaskRun records one execution of a scheduled task
	TaskRun(task string, kind string, duration time.Duration, err error)

	// TimerQueueDepth records the number of tasks waiting on the scheduler
	TimerQueueDepth(depth int)

	// ScanCycle records one worker-thread discovery pass
	ScanCycle(discovered, instrumented int)

	// InstallFailure records a post that failed while instrumenting a thread
	InstallFailure(stage string)

	// FlushRearmed records a worker thread re-arming its idle flush
	FlushRearmed()

	// PoolDrained records one drain pass over a bounded pool
	PoolDrained(pool string, iterations int)

	// PatchOutcome records the result of applying one patch
	PatchOutcome(patch string, outcome string)
}

// noopCollector is a no-op implementation of Collector
type noopCollector struct{}

func (n *noopCollector) TaskRun(task string, kind string, duration time.Duration, err error) {}

func (n *noopCollector) TimerQueueDepth(depth int) {}

func (n *noopCollector) ScanCycle(discovered, instrumented int) {}

func (n *noopCollector) InstallFailure(stage string) {}

func (n *noopCollector) FlushRearmed() {}

func (n *noopCollector) PoolDrained(pool string, iterations int) {}

func (n *noopCollector) PatchOutcome(patch string, outcome string) {}

// NewNoopCollector creates a no-op metrics collector
func NewNoopCollector() Collector {
	return &noopCollector{}
}
