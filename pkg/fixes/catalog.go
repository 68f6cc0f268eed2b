// Package fixes is the catalog of known leak mitigations.
//
// Each entry works around one platform object that keeps a reference to
// a short-lived unit: singletons primed with the wrong scope, static caches,
// recycle pools and idle worker threads holding their last task.
package fixes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jrepp/prism-plumber/pkg/lifecycle"
	"github.com/jrepp/prism-plumber/pkg/metrics"
	"github.com/jrepp/prism-plumber/pkg/patch"
	"github.com/jrepp/prism-plumber/pkg/pool"
	"github.com/jrepp/prism-plumber/pkg/threads"
)

const (
	DefaultFlushInitialDelay = 2 * time.Second
	DefaultFlushPeriod       = 3 * time.Second
)

var (
	errNoScheduler = errors.New("no scheduler")
	errNoBridge    = errors.New("no lifecycle bridge")
)

type builder struct {
	hooks   Hooks
	scanner *threads.Scanner
	logger  *slog.Logger
	metrics metrics.Collector

	flushInitialDelay time.Duration
	flushPeriod       time.Duration
	scrubInitialDelay time.Duration
	scrubPeriod       time.Duration
	scrubIterations   int
}

// Option configures the catalog
type Option func(*builder)

// WithLogger sets the logger used by the scheduled work
func WithLogger(logger *slog.Logger) Option {
	return func(b *builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetricsCollector sets the collector for pool scrubs
func WithMetricsCollector(mc metrics.Collector) Option {
	return func(b *builder) {
		if mc != nil {
			b.metrics = mc
		}
	}
}

// WithFlushSchedule sets the worker thread scan schedule
func WithFlushSchedule(initialDelay, period time.Duration) Option {
	return func(b *builder) {
		b.flushInitialDelay = initialDelay
		b.flushPeriod = period
	}
}

// WithScrubSchedule sets the accessibility node pool scrub schedule
func WithScrubSchedule(initialDelay, period time.Duration, iterations int) Option {
	return func(b *builder) {
		b.scrubInitialDelay = initialDelay
		b.scrubPeriod = period
		b.scrubIterations = iterations
	}
}

// NewCatalog builds the mitigation catalog. A nil hooks means
// UnavailableHooks; scanner drives the flush patch and must not be shared
// with anything else.
func NewCatalog(hooks Hooks, scanner *threads.Scanner, opts ...Option) (*patch.Catalog, error) {
	if hooks == nil {
		hooks = UnavailableHooks{}
	}
	b := &builder{
		hooks:             hooks,
		scanner:           scanner,
		logger:            slog.Default(),
		metrics:           metrics.NewNoopCollector(),
		flushInitialDelay: DefaultFlushInitialDelay,
		flushPeriod:       DefaultFlushPeriod,
		scrubInitialDelay: pool.DefaultInterval,
		scrubPeriod:       pool.DefaultInterval,
		scrubIterations:   pool.DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(b)
	}
	if scanner == nil {
		return nil, fmt.Errorf("%s: scanner is required", Name(FlushHandlerThreads))
	}
	b.logger = b.logger.With("component", "fixes")

	return patch.NewCatalog(
		b.entry(MediaSessionLegacyHelper, patch.LevelEquals(21), b.mediaSessionLegacyHelper),
		b.entry(TextLinePool, patch.LevelBelow(28), b.textLinePool),
		b.entry(UserManager, patch.LevelBetween(17, 25), b.userManager),
		b.entry(FlushHandlerThreads, patch.Always, b.flushHandlerThreads),
		b.entry(AccessibilityNodeInfo, patch.LevelBelow(28), b.accessibilityNodeInfo),
	)
}

func (b *builder) entry(id patch.ID, trigger patch.Trigger, apply patch.Action) patch.Patch {
	return patch.Patch{ID: id, Name: Name(id), Trigger: trigger, Apply: once(apply)}
}

// once makes apply a no-op after its first success, so applying the catalog
// twice never schedules the same work twice.
func once(apply patch.Action) patch.Action {
	var (
		mu   sync.Mutex
		done bool
	)
	return func(ctx context.Context, env patch.Env) error {
		mu.Lock()
		defer mu.Unlock()

		if done {
			return nil
		}
		if err := apply(ctx, env); err != nil {
			return err
		}
		done = true
		return nil
	}
}

// background runs fn on the scheduler worker. Its failure is logged there.
func background(env patch.Env, name string, fn func(ctx context.Context) error) error {
	if env.Scheduler == nil {
		return errNoScheduler
	}
	return env.Scheduler.RunOnce(name, fn)
}

func (b *builder) mediaSessionLegacyHelper(ctx context.Context, env patch.Env) error {
	return background(env, Name(MediaSessionLegacyHelper), func(ctx context.Context) error {
		return b.hooks.PrimeMediaSessionHelper(env.App)
	})
}

func (b *builder) textLinePool(ctx context.Context, env patch.Env) error {
	if env.App == nil {
		return errNoBridge
	}
	return background(env, Name(TextLinePool), func(ctx context.Context) error {
		cache, err := b.hooks.TextLineCache()
		if err != nil {
			return fmt.Errorf("could not get the text line cache: %w", err)
		}
		lifecycle.OnDestroyed(env.App, func(lifecycle.Unit) {
			cache.Clear()
		})
		return nil
	})
}

func (b *builder) userManager(ctx context.Context, env patch.Env) error {
	if err := b.hooks.PrimeUserManager(env.App); err != nil {
		return fmt.Errorf("could not prime the user manager: %w", err)
	}
	return nil
}

func (b *builder) flushHandlerThreads(ctx context.Context, env patch.Env) error {
	if env.Scheduler == nil {
		return errNoScheduler
	}
	return env.Scheduler.RunPeriodically(Name(FlushHandlerThreads), b.flushInitialDelay, b.flushPeriod, b.scanner.ScanCycle)
}

func (b *builder) accessibilityNodeInfo(ctx context.Context, env patch.Env) error {
	if env.Scheduler == nil {
		return errNoScheduler
	}
	obtain, err := b.hooks.AccessibilityNodeSource()
	if err != nil {
		return fmt.Errorf("could not get the accessibility node pool: %w", err)
	}
	s := pool.NewScrubber(Name(AccessibilityNodeInfo), obtain, b.scrubIterations, b.logger, b.metrics)
	return s.Schedule(env.Scheduler, b.scrubInitialDelay, b.scrubPeriod)
}
