package scheduler

import (
	"container/heap"
	"time"
)

// Kind specifies how a task is rescheduled after it runs
type Kind int

const (
	// KindOnce - run a single time
	KindOnce Kind = iota
	// KindFixedDelay - next run is period after the previous run completed
	KindFixedDelay
	// KindFixedRate - next run is period after the previous scheduled time
	KindFixedRate
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindFixedDelay:
		return "fixed-delay"
	case KindFixedRate:
		return "fixed-rate"
	default:
		return "unknown"
	}
}

// entry represents a scheduled task
type entry struct {
	name   string
	task   Task
	kind   Kind
	period time.Duration
	when   time.Time
	seq    uint64 // Submission order, breaks ties between equal deadlines
	index  int    // Index in heap (for heap.Interface)
}

// timerHeap implements heap.Interface ordered by (when, seq)
type timerHeap []*entry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[0 : n-1]
	return e
}

// peek returns the earliest entry without removing it
func (h timerHeap) peek() *entry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

func (h *timerHeap) push(e *entry) {
	heap.Push(h, e)
}

func (h *timerHeap) pop() *entry {
	return heap.Pop(h).(*entry)
}
