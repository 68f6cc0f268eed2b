package looper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// InvalidThreadID is reported by a HandlerThread whose loop is not running yet.
const InvalidThreadID int64 = -1

var threadIDs atomic.Int64

func nextThreadID() int64 {
	return threadIDs.Add(1)
}

// Thread is anything registered in a Group.
type Thread interface {
	Name() string
}

// HandlerThread is a goroutine that owns a serial MessageQueue.
//
// The thread retains the last task it dispatched until the next one replaces it,
// so a quiet queue pins whatever that task references.
type HandlerThread struct {
	name    string
	group   *Group
	queue   *MessageQueue
	handler *Handler
	logger  *slog.Logger

	id         atomic.Int64
	startOnce  sync.Once
	done       chan struct{}
	dispatched atomic.Uint64

	// last is only touched by the loop goroutine
	last *message
}

// NewHandlerThread creates a looper thread in group. A nil group means MainGroup.
func NewHandlerThread(group *Group, name string) *HandlerThread {
	if group == nil {
		group = MainGroup()
	}

	t := &HandlerThread{
		name:   name,
		group:  group,
		queue:  newMessageQueue(),
		logger: slog.Default().With("component", "looper", "thread", name),
		done:   make(chan struct{}),
	}
	t.id.Store(InvalidThreadID)
	t.handler = &Handler{queue: t.queue}
	return t
}

// Start registers the thread in its group and starts the loop. The thread id
// becomes valid once the loop goroutine is running.
func (t *HandlerThread) Start() {
	t.startOnce.Do(func() {
		t.group.add(t)
		go t.loop()
	})
}

func (t *HandlerThread) loop() {
	defer close(t.done)
	defer t.group.remove(t)

	t.id.Store(nextThreadID())
	ctx := context.WithValue(context.Background(), queueKey{}, t.queue)

	for {
		m, ok := t.queue.next()
		if !ok {
			t.last = nil
			return
		}
		t.dispatch(ctx, m)
	}
}

func (t *HandlerThread) dispatch(ctx context.Context, m *message) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("task panicked", "panic", r)
		}
	}()

	t.last = m
	t.dispatched.Add(1)
	m.task(ctx)
}

// Name returns the thread name
func (t *HandlerThread) Name() string {
	return t.name
}

// ThreadID returns the thread identity, or InvalidThreadID before the loop runs
func (t *HandlerThread) ThreadID() int64 {
	return t.id.Load()
}

// Group returns the group the thread belongs to
func (t *HandlerThread) Group() *Group {
	return t.group
}

// Handler returns the handler that posts onto this thread
func (t *HandlerThread) Handler() *Handler {
	return t.handler
}

// Post enqueues task on this thread
func (t *HandlerThread) Post(task Task) error {
	return t.handler.Post(task)
}

// PostDelayed enqueues task on this thread after delay
func (t *HandlerThread) PostDelayed(task Task, delay time.Duration) error {
	return t.handler.PostDelayed(task, delay)
}

// Dispatched returns the number of tasks the thread has run
func (t *HandlerThread) Dispatched() uint64 {
	return t.dispatched.Load()
}

// Quit stops the loop, discarding pending tasks
func (t *HandlerThread) Quit() bool {
	return t.queue.quit(false)
}

// QuitSafely stops the loop after delivering tasks that are already due
func (t *HandlerThread) QuitSafely() bool {
	return t.queue.quit(true)
}

// Done is closed once the loop has exited
func (t *HandlerThread) Done() <-chan struct{} {
	return t.done
}

func (t *HandlerThread) String() string {
	return fmt.Sprintf("HandlerThread[%s,%d]", t.name, t.ThreadID())
}

// Handler posts tasks onto one MessageQueue.
type Handler struct {
	queue *MessageQueue
}

// Post enqueues task to run as soon as possible
func (h *Handler) Post(task Task) error {
	return h.queue.enqueue(task, time.Now())
}

// PostDelayed enqueues task to run after delay
func (h *Handler) PostDelayed(task Task, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return h.queue.enqueue(task, time.Now().Add(delay))
}

// Routine is a registered goroutine without a message queue.
type Routine struct {
	name  string
	group *Group
	done  chan struct{}
}

// Go runs fn on a new goroutine registered in group for as long as fn runs.
func Go(group *Group, name string, fn func()) *Routine {
	if group == nil {
		group = MainGroup()
	}

	r := &Routine{name: name, group: group, done: make(chan struct{})}
	group.add(r)
	go func() {
		defer close(r.done)
		defer group.remove(r)
		fn()
	}()
	return r
}

// Name returns the routine name
func (r *Routine) Name() string {
	return r.name
}

// Done is closed once fn has returned
func (r *Routine) Done() <-chan struct{} {
	return r.done
}
