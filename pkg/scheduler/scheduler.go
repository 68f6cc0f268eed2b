package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/jrepp/prism-plumber/pkg/metrics"
)

var (
	// ErrSchedulerStopped is returned when submitting to a scheduler that has shut down
	ErrSchedulerStopped = errors.New("scheduler: stopped")

	// ErrInvalidPeriod is returned for recurring tasks with a non-positive period
	ErrInvalidPeriod = errors.New("scheduler: period must be positive")

	// ErrTaskPanicked wraps a value recovered from a panicking task
	ErrTaskPanicked = errors.New("scheduler: task panicked")
)

// Task is a unit of background mitigation work. Returned errors are logged and
// discarded; they never stop the scheduler or later runs of a recurring task.
type Task func(ctx context.Context) error

// Scheduler runs every task on a single dedicated worker goroutine.
type Scheduler struct {
	mu      sync.Mutex
	timers  timerHeap
	seq     uint64
	stopped bool

	notifyCh chan struct{}

	name     string
	niceness int
	logger   *slog.Logger
	metrics  metrics.Collector

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	done           chan struct{}
}

// New creates a scheduler and starts its worker
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		timers:         timerHeap{},
		notifyCh:       make(chan struct{}, 1),
		name:           "plumber-leaks",
		niceness:       BackgroundNiceness,
		logger:         slog.Default(),
		metrics:        metrics.NewNoopCollector(),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler", "worker", s.name)

	go s.worker()

	return s
}

// RunOnce submits task for execution as soon as the worker is free
func (s *Scheduler) RunOnce(name string, task Task) error {
	return s.submit(name, task, KindOnce, 0, 0)
}

// RunAfter submits task for a single execution after delay
func (s *Scheduler) RunAfter(name string, delay time.Duration, task Task) error {
	return s.submit(name, task, KindOnce, delay, 0)
}

// RunPeriodically runs task after initialDelay, then period after each run completes
func (s *Scheduler) RunPeriodically(name string, initialDelay, period time.Duration, task Task) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s got %v", ErrInvalidPeriod, name, period)
	}
	return s.submit(name, task, KindFixedDelay, initialDelay, period)
}

// RunAtFixedRate runs task after initialDelay, then every period measured from
// the first scheduled start. Runs that fall behind execute back to back.
func (s *Scheduler) RunAtFixedRate(name string, initialDelay, period time.Duration, task Task) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s got %v", ErrInvalidPeriod, name, period)
	}
	return s.submit(name, task, KindFixedRate, initialDelay, period)
}

func (s *Scheduler) submit(name string, task Task, kind Kind, delay, period time.Duration) error {
	if task == nil {
		return fmt.Errorf("scheduler: nil task %q", name)
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	s.seq++
	s.timers.push(&entry{
		name:   name,
		task:   task,
		kind:   kind,
		period: period,
		when:   time.Now().Add(delay),
		seq:    s.seq,
	})
	s.metrics.TimerQueueDepth(s.timers.Len())
	s.notify()
	return nil
}

// Len returns the number of tasks waiting to run
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.Len()
}

// notify signals that the timer heap changed
func (s *Scheduler) notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
		// Already has pending notification
	}
}

// worker runs on its own OS thread at background priority
func (s *Scheduler) worker() {
	defer close(s.done)

	// Never unlocked: the reniced thread exits with the worker instead of
	// returning to the runtime's pool.
	runtime.LockOSThread()

	if err := lowerThreadPriority(s.niceness); err != nil {
		s.logger.Debug("could not lower worker priority", "niceness", s.niceness, "error", err)
	}

	for {
		e, wait := s.next()
		if e != nil {
			s.run(e)
			s.reschedule(e)
			continue
		}

		if wait < 0 {
			select {
			case <-s.shutdownCtx.Done():
				return
			case <-s.notifyCh:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.shutdownCtx.Done():
			timer.Stop()
			return
		case <-s.notifyCh:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// next pops the next due entry, or reports how long to wait (-1 for no entries)
func (s *Scheduler) next() (*entry, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, -1
	}

	e := s.timers.peek()
	if e == nil {
		return nil, -1
	}

	now := time.Now()
	if now.Before(e.when) {
		return nil, e.when.Sub(now)
	}

	s.timers.pop()
	s.metrics.TimerQueueDepth(s.timers.Len())
	return e, 0
}

func (s *Scheduler) run(e *entry) {
	start := time.Now()
	err := safeRun(s.shutdownCtx, e.task)
	duration := time.Since(start)

	s.metrics.TaskRun(e.name, e.kind.String(), duration, err)
	if err != nil {
		s.logger.Debug("task failed", "task", e.name, "kind", e.kind, "error", err)
	}
}

func (s *Scheduler) reschedule(e *entry) {
	switch e.kind {
	case KindFixedDelay:
		e.when = time.Now().Add(e.period)
	case KindFixedRate:
		e.when = e.when.Add(e.period)
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.seq++
	e.seq = s.seq
	s.timers.push(e)
	s.metrics.TimerQueueDepth(s.timers.Len())
}

// safeRun executes task, converting a panic into an error
func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task(ctx)
}

// Shutdown stops the worker and drops every pending task. The task running at
// the time of the call is allowed to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.timers = timerHeap{}
	s.mu.Unlock()

	s.shutdownCancel()

	select {
	case <-s.done:
		s.logger.Debug("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
