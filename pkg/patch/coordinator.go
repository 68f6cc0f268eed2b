package patch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jrepp/prism-plumber/pkg/lifecycle"
	"github.com/jrepp/prism-plumber/pkg/metrics"
	"github.com/jrepp/prism-plumber/pkg/scheduler"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jrepp/prism-plumber/pkg/patch"

// Report lists what one ApplyFixes call did, in catalog order.
type Report struct {
	Applied []ID
	Skipped []ID
	Failed  []ID
}

// Coordinator applies a catalog against the facts of the running process.
type Coordinator struct {
	catalog   *Catalog
	facts     Facts
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	metrics   metrics.Collector
	tracer    trace.Tracer
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricsCollector sets the collector for patch outcomes
func WithMetricsCollector(mc metrics.Collector) CoordinatorOption {
	return func(c *Coordinator) {
		if mc != nil {
			c.metrics = mc
		}
	}
}

// WithTracer overrides the global tracer
func WithTracer(tracer trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewCoordinator creates a coordinator. sched is handed to every apply action.
func NewCoordinator(catalog *Catalog, facts Facts, sched *scheduler.Scheduler, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		catalog:   catalog,
		facts:     facts,
		scheduler: sched,
		logger:    slog.Default(),
		metrics:   metrics.NewNoopCollector(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.logger = c.logger.With("component", "patch-coordinator")
	return c
}

// Facts returns the facts triggers are evaluated against
func (c *Coordinator) Facts() Facts {
	return c.facts
}

// ApplyFixes runs every selected patch whose trigger holds. It never fails:
// errors and panics from one patch are logged and do not stop the rest.
func (c *Coordinator) ApplyFixes(ctx context.Context, app lifecycle.Bridge, sel Selection) Report {
	var report Report
	env := Env{App: app, Scheduler: c.scheduler, Logger: c.logger}

	for _, p := range c.catalog.patches {
		if !sel.Contains(p.ID) {
			continue
		}

		applies, err := c.evaluate(p)
		if err != nil {
			c.logger.Debug("trigger failed", "patch", p.String(), "error", err)
			c.metrics.PatchOutcome(p.String(), metrics.OutcomeFailed)
			report.Failed = append(report.Failed, p.ID)
			continue
		}
		if !applies {
			c.metrics.PatchOutcome(p.String(), metrics.OutcomeSkipped)
			report.Skipped = append(report.Skipped, p.ID)
			continue
		}

		if err := c.apply(ctx, p, env); err != nil {
			c.logger.Debug("could not apply fix", "patch", p.String(), "error", err)
			c.metrics.PatchOutcome(p.String(), metrics.OutcomeFailed)
			report.Failed = append(report.Failed, p.ID)
			continue
		}
		c.metrics.PatchOutcome(p.String(), metrics.OutcomeApplied)
		report.Applied = append(report.Applied, p.ID)
	}

	c.logger.Debug("fixes applied",
		"api_level", c.facts.APILevel,
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed))
	return report
}

func (c *Coordinator) evaluate(p Patch) (applies bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger panicked: %v", r)
		}
	}()
	return p.Trigger(c.facts), nil
}

func (c *Coordinator) apply(ctx context.Context, p Patch, env Env) (err error) {
	ctx, span := c.tracer.Start(ctx, "patch.apply", trace.WithAttributes(
		attribute.Int("patch.id", int(p.ID)),
		attribute.String("patch.name", p.String()),
		attribute.Int("runtime.api_level", c.facts.APILevel),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.logger.Debug("patch evaluated", "patch", p.String(), "duration", time.Since(start))
	}()

	return p.Apply(ctx, env)
}
