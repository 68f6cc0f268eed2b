// Package plumber wires the leak mitigations together.
//
// A host creates one Plumber early during startup and calls ApplyFixes once
// with its lifecycle bridge. Everything after that happens on the
// plumber's background scheduler and on the host's own looper threads.
package plumber

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jrepp/prism-plumber/pkg/config"
	"github.com/jrepp/prism-plumber/pkg/fixes"
	"github.com/jrepp/prism-plumber/pkg/lifecycle"
	"github.com/jrepp/prism-plumber/pkg/looper"
	"github.com/jrepp/prism-plumber/pkg/metrics"
	"github.com/jrepp/prism-plumber/pkg/patch"
	"github.com/jrepp/prism-plumber/pkg/scheduler"
	"github.com/jrepp/prism-plumber/pkg/threads"
)

// Plumber owns the background scheduler and the mitigation catalog.
type Plumber struct {
	cfg         *config.Config
	logger      *slog.Logger
	metrics     metrics.Collector
	hooks       fixes.Hooks
	group       *looper.Group
	scoped      bool
	scheduler   *scheduler.Scheduler
	scanner     *threads.Scanner
	catalog     *patch.Catalog
	coordinator *patch.Coordinator
	disabled    patch.Selection
}

// Option configures a Plumber
type Option func(*Plumber)

// WithLogger sets the logger of every component
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plumber) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetricsCollector sets the collector of every component
func WithMetricsCollector(mc metrics.Collector) Option {
	return func(p *Plumber) {
		if mc != nil {
			p.metrics = mc
		}
	}
}

// WithHooks sets the platform hooks. The default provides none.
func WithHooks(hooks fixes.Hooks) Option {
	return func(p *Plumber) {
		if hooks != nil {
			p.hooks = hooks
		}
	}
}

// WithThreadGroup limits worker thread discovery to group and its subgroups.
// By default discovery climbs to the root group.
func WithThreadGroup(group *looper.Group) Option {
	return func(p *Plumber) {
		p.group = group
		p.scoped = group != nil
	}
}

// New builds a Plumber and starts its scheduler. A nil cfg means the defaults.
func New(cfg *config.Config, opts ...Option) (*Plumber, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Plumber{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: metrics.NewNoopCollector(),
		hooks:   fixes.UnavailableHooks{},
	}
	for _, opt := range opts {
		opt(p)
	}

	disabled, err := fixes.ParseSelection(cfg.Patches.Disabled)
	if err != nil {
		return nil, fmt.Errorf("patches.disabled: %w", err)
	}
	p.disabled = disabled

	var dir *threads.Directory
	if p.scoped {
		dir = threads.NewScopedDirectory(p.group)
	} else {
		dir = threads.NewDirectory(p.group)
	}
	installer := threads.NewInstaller(cfg.Flush.RearmDelay, p.logger, p.metrics)
	p.scanner = threads.NewScanner(dir, installer, p.logger, p.metrics)

	p.catalog, err = fixes.NewCatalog(p.hooks, p.scanner,
		fixes.WithLogger(p.logger),
		fixes.WithMetricsCollector(p.metrics),
		fixes.WithFlushSchedule(cfg.Flush.InitialDelay, cfg.Flush.Period),
		fixes.WithScrubSchedule(cfg.Scrub.InitialDelay, cfg.Scrub.Period, cfg.Scrub.MaxIterations),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}

	p.scheduler = scheduler.New(
		scheduler.WithLogger(p.logger),
		scheduler.WithMetricsCollector(p.metrics),
	)
	p.coordinator = patch.NewCoordinator(p.catalog, patch.Facts{APILevel: cfg.Runtime.APILevel}, p.scheduler,
		patch.WithLogger(p.logger),
		patch.WithMetricsCollector(p.metrics),
	)
	return p, nil
}

// ApplyFixes applies the selected patches, or every enabled patch when ids is
// empty. Disabled patches are dropped from an explicit selection too.
func (p *Plumber) ApplyFixes(ctx context.Context, app lifecycle.Bridge, ids ...patch.ID) patch.Report {
	var sel patch.Selection
	if len(ids) > 0 {
		sel = patch.Select(ids...)
	}
	sel = sel.Without(p.catalog, p.disabled.IDs()...)

	report := p.coordinator.ApplyFixes(ctx, app, sel)
	p.logger.Info("leak fixes applied",
		"api_level", p.cfg.Runtime.APILevel,
		"applied", names(report.Applied),
		"skipped", names(report.Skipped),
		"failed", names(report.Failed))
	return report
}

func names(ids []patch.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, fixes.Name(id))
	}
	return out
}

// Catalog returns the mitigation catalog
func (p *Plumber) Catalog() *patch.Catalog {
	return p.catalog
}

// Facts returns the runtime facts the catalog is evaluated against
func (p *Plumber) Facts() patch.Facts {
	return p.coordinator.Facts()
}

// Scheduler returns the background scheduler
func (p *Plumber) Scheduler() *scheduler.Scheduler {
	return p.scheduler
}

// Scanner returns the worker thread scanner
func (p *Plumber) Scanner() *threads.Scanner {
	return p.scanner
}

// Shutdown stops the background scheduler. Hosts never need it; applied
// mitigations stay in place for the life of the process otherwise.
func (p *Plumber) Shutdown(ctx context.Context) error {
	return p.scheduler.Shutdown(ctx)
}
