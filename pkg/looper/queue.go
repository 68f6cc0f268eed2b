package looper

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQuitting is returned when posting to a queue whose thread is shutting down.
// There is no atomic way to check liveness before posting, so callers that race
// thread shutdown must treat this as an expected outcome.
var ErrQuitting = errors.New("looper: sending message to a handler on a dead thread")

// Task is a unit of work executed on a looper thread. The context carries the
// queue of the thread running the task, see MyQueue.
type Task func(ctx context.Context)

// IdleHandler is called when the queue runs out of due messages. Returning false
// removes the handler.
type IdleHandler func() bool

// message is a queued task
type message struct {
	when  time.Time
	seq   uint64
	task  Task
	index int
}

// messageHeap implements heap.Interface ordered by (when, seq)
type messageHeap []*message

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h messageHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *messageHeap) Push(x interface{}) {
	m := x.(*message)
	m.index = len(*h)
	*h = append(*h, m)
}

func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	m.index = -1
	*h = old[0 : n-1]
	return m
}

type idleEntry struct {
	id      uint64
	handler IdleHandler
}

// MessageQueue is the serial queue owned by one looper thread.
type MessageQueue struct {
	mu       sync.Mutex
	messages messageHeap
	seq      uint64
	idle     []idleEntry
	idleSeq  uint64
	quitting bool
	notifyCh chan struct{}
}

func newMessageQueue() *MessageQueue {
	return &MessageQueue{
		messages: messageHeap{},
		notifyCh: make(chan struct{}, 1),
	}
}

type queueKey struct{}

// MyQueue returns the queue of the looper thread executing the calling task.
// It reports false when ctx did not come from a looper task.
func MyQueue(ctx context.Context) (*MessageQueue, bool) {
	q, ok := ctx.Value(queueKey{}).(*MessageQueue)
	return q, ok
}

// AddIdleHandler registers h to run each time the queue goes idle.
func (q *MessageQueue) AddIdleHandler(h IdleHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.idleSeq++
	q.idle = append(q.idle, idleEntry{id: q.idleSeq, handler: h})
}

// IdleHandlers returns the number of registered idle handlers
func (q *MessageQueue) IdleHandlers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.idle)
}

// Len returns the number of pending messages
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.messages.Len()
}

func (q *MessageQueue) enqueue(task Task, when time.Time) error {
	if task == nil {
		return errors.New("looper: nil task")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.quitting {
		return ErrQuitting
	}

	q.seq++
	heap.Push(&q.messages, &message{when: when, seq: q.seq, task: task})
	q.notify()
	return nil
}

// quit stops the queue. With safe set, messages already due are still delivered.
func (q *MessageQueue) quit(safe bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.quitting {
		return false
	}
	q.quitting = true

	if safe {
		now := time.Now()
		kept := messageHeap{}
		for _, m := range q.messages {
			if !m.when.After(now) {
				kept = append(kept, m)
			}
		}
		heap.Init(&kept)
		q.messages = kept
	} else {
		q.messages = messageHeap{}
	}

	q.notify()
	return true
}

// notify signals that queue state changed
func (q *MessageQueue) notify() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
		// Already has pending notification
	}
}

// next blocks until a message is due. Idle handlers run at most once per call,
// the first time the queue has nothing due.
func (q *MessageQueue) next() (*message, bool) {
	pendingIdle := true

	for {
		q.mu.Lock()
		var wait time.Duration = -1
		if q.messages.Len() > 0 {
			m := q.messages[0]
			now := time.Now()
			if !now.Before(m.when) {
				heap.Pop(&q.messages)
				q.mu.Unlock()
				return m, true
			}
			wait = m.when.Sub(now)
		}

		if q.quitting {
			q.mu.Unlock()
			return nil, false
		}

		var idlers []idleEntry
		if pendingIdle {
			idlers = append(idlers, q.idle...)
		}
		q.mu.Unlock()

		if pendingIdle {
			pendingIdle = false
			if len(idlers) > 0 {
				q.runIdle(idlers)
				// idle handlers may have posted work
				continue
			}
		}

		if wait < 0 {
			<-q.notifyCh
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-q.notifyCh:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (q *MessageQueue) runIdle(idlers []idleEntry) {
	var drop []uint64
	for _, e := range idlers {
		if !safeIdle(e.handler) {
			drop = append(drop, e.id)
		}
	}
	if len(drop) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.idle[:0]
	for _, e := range q.idle {
		removed := false
		for _, id := range drop {
			if e.id == id {
				removed = true
				break
			}
		}
		if !removed {
			kept = append(kept, e)
		}
	}
	q.idle = kept
}

// safeIdle runs an idle handler, dropping it if it panics
func safeIdle(h IdleHandler) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			keep = false
		}
	}()
	return h()
}
