package scheduler

import (
	"log/slog"

	"github.com/jrepp/prism-plumber/pkg/metrics"
)

// Option configures the Scheduler
type Option func(*Scheduler)

// WithName sets the worker name used in logs
func WithName(name string) Option {
	return func(s *Scheduler) {
		s.name = name
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc metrics.Collector) Option {
	return func(s *Scheduler) {
		if mc != nil {
			s.metrics = mc
		}
	}
}

// WithNiceness sets the niceness applied to the worker's OS thread. Zero leaves
// the thread at the process default.
func WithNiceness(niceness int) Option {
	return func(s *Scheduler) {
		s.niceness = niceness
	}
}
