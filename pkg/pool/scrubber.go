package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/jrepp/prism-plumber/pkg/metrics"
	"github.com/jrepp/prism-plumber/pkg/scheduler"
)

const (
	// DefaultMaxIterations is the number of requests per scrub
	DefaultMaxIterations = 50

	// DefaultInterval is the initial delay and period of a scheduled scrub
	DefaultInterval = 5 * time.Second
)

// Drain calls request exactly maxIterations times and discards the results.
// A non-positive maxIterations does nothing. The pool is assumed to hold at
// most maxIterations idle instances; beyond that the drain is partial.
func Drain[T any](request func() T, maxIterations int) {
	for i := 0; i < maxIterations; i++ {
		request()
	}
}

// Scrubber periodically drains one pool.
type Scrubber[T any] struct {
	name          string
	request       func() T
	maxIterations int
	logger        *slog.Logger
	metrics       metrics.Collector
}

// NewScrubber creates a scrubber for the pool behind request
func NewScrubber[T any](name string, request func() T, maxIterations int, logger *slog.Logger, mc metrics.Collector) *Scrubber[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NewNoopCollector()
	}

	return &Scrubber[T]{
		name:          name,
		request:       request,
		maxIterations: maxIterations,
		logger:        logger.With("component", "pool-scrubber", "pool", name),
		metrics:       mc,
	}
}

// Scrub drains the pool once
func (s *Scrubber[T]) Scrub(ctx context.Context) error {
	Drain(s.request, s.maxIterations)
	s.metrics.PoolDrained(s.name, s.maxIterations)
	return nil
}

// Schedule runs Scrub on sched at a fixed rate. The scrub is never cancelled.
func (s *Scrubber[T]) Schedule(sched *scheduler.Scheduler, initialDelay, period time.Duration) error {
	s.logger.Debug("scheduling pool scrub", "initial_delay", initialDelay, "period", period, "iterations", s.maxIterations)
	return sched.RunAtFixedRate("scrub:"+s.name, initialDelay, period, s.Scrub)
}
