// Package pool scrubs obtain/recycle pools whose idle instances keep
// references to objects that are otherwise gone.
package pool

import (
	"sync"
)

// Pool is a bounded recycle pool. A recycled instance keeps whatever it
// referenced until it is obtained again, which is the retention Drain undoes.
type Pool[T any] struct {
	mu    sync.Mutex
	free  []T
	max   int
	newFn func() T
}

// New creates a pool holding at most max idle instances
func New[T any](max int, newFn func() T) *Pool[T] {
	if max < 0 {
		max = 0
	}
	return &Pool[T]{
		free:  make([]T, 0, max),
		max:   max,
		newFn: newFn,
	}
}

// Obtain returns an idle instance, or a new one when the pool is empty
func (p *Pool[T]) Obtain() T {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()
	return p.newFn()
}

// Recycle returns v to the pool. It reports false when the pool is full and
// v was dropped.
func (p *Pool[T]) Recycle(v T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) >= p.max {
		return false
	}
	p.free = append(p.free, v)
	return true
}

// Len returns the number of idle instances
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Clear drops every idle instance
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.free)
	p.free = p.free[:0]
}
