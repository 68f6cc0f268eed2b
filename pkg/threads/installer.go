package threads

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jrepp/prism-plumber/pkg/looper"
	"github.com/jrepp/prism-plumber/pkg/metrics"
)

// DefaultRearmDelay is how long an idle flush stays disarmed
const DefaultRearmDelay = time.Second

// FlushArm is the per-thread scheduleFlush flag. It is only touched from the
// thread that owns it, so it needs no synchronization.
type FlushArm struct {
	armed bool
}

// NewFlushArm returns an armed flag
func NewFlushArm() *FlushArm {
	return &FlushArm{armed: true}
}

// Disarm clears the flag and reports whether it was set
func (a *FlushArm) Disarm() bool {
	if !a.armed {
		return false
	}
	a.armed = false
	return true
}

// Rearm sets the flag
func (a *FlushArm) Rearm() {
	a.armed = true
}

// Armed reports whether the flag is set
func (a *FlushArm) Armed() bool {
	return a.armed
}

// Installer makes worker threads post a small task to themselves whenever
// their queue goes idle, so the loop never keeps holding the last real task.
type Installer struct {
	rearmDelay time.Duration
	logger     *slog.Logger
	metrics    metrics.Collector
}

// NewInstaller creates an installer. Zero rearmDelay means DefaultRearmDelay.
func NewInstaller(rearmDelay time.Duration, logger *slog.Logger, mc metrics.Collector) *Installer {
	if rearmDelay <= 0 {
		rearmDelay = DefaultRearmDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NewNoopCollector()
	}

	return &Installer{
		rearmDelay: rearmDelay,
		logger:     logger.With("component", "flush-installer"),
		metrics:    mc,
	}
}

// Install registers an idle observer on h. Idle observers can only be added
// from the owning thread, so this posts a bootstrap task that does it there.
// Failures are expected when h is shutting down and are discarded.
func (in *Installer) Install(h Handle) {
	in.logger.Debug("setting up flushing", "thread", h)

	err := safePost(func() error {
		return h.Post(func(ctx context.Context) {
			q, ok := looper.MyQueue(ctx)
			if !ok {
				return
			}
			q.AddIdleHandler(in.IdleHandler(h))
		})
	})
	if err != nil {
		in.metrics.InstallFailure("bootstrap")
		in.logger.Debug("flush bootstrap not posted", "thread", h, "error", err)
	}
}

// IdleHandler returns the observer Install registers on h. Each idle
// notification posts at most one delayed re-arm task while the arm is set.
func (in *Installer) IdleHandler(h Handle) looper.IdleHandler {
	arm := NewFlushArm()

	rearm := func(ctx context.Context) {
		// The next idle notification right after this runs posts again
		arm.Rearm()
		in.metrics.FlushRearmed()
	}

	return func() bool {
		if !arm.Disarm() {
			return true
		}

		err := safePost(func() error {
			return h.PostDelayed(rearm, in.rearmDelay)
		})
		if err != nil {
			in.metrics.InstallFailure("rearm")
			in.logger.Debug("flush rearm not posted", "thread", h, "error", err)
		}
		return true
	}
}

// safePost runs post, converting a panic into an error
func safePost(post func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("post panicked: %v", r)
		}
	}()
	return post()
}
