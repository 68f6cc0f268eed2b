// Package lifecycle carries per-unit lifecycle events from the host to the
// mitigations that react to them.
//
// The host owns the units (screens, sessions, request scopes) and tells a
// Bridge when they change state. Callbacks only declares the events a
// subscriber cares about; every other event is a no-op for it.
package lifecycle

import (
	"fmt"
	"sync"
)

// Unit is one host-managed object with a lifecycle.
type Unit interface {
	Name() string
}

// Event is a lifecycle transition
type Event int

const (
	Created Event = iota
	Started
	Resumed
	Paused
	Stopped
	Destroyed
)

func (e Event) String() string {
	switch e {
	case Created:
		return "created"
	case Started:
		return "started"
	case Resumed:
		return "resumed"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Callbacks is a set of optional event handlers. Nil fields are ignored.
type Callbacks struct {
	OnCreated   func(Unit)
	OnStarted   func(Unit)
	OnResumed   func(Unit)
	OnPaused    func(Unit)
	OnStopped   func(Unit)
	OnDestroyed func(Unit)
}

func (c Callbacks) handler(e Event) func(Unit) {
	switch e {
	case Created:
		return c.OnCreated
	case Started:
		return c.OnStarted
	case Resumed:
		return c.OnResumed
	case Paused:
		return c.OnPaused
	case Stopped:
		return c.OnStopped
	case Destroyed:
		return c.OnDestroyed
	default:
		return nil
	}
}

// Bridge accepts lifecycle subscriptions. Registrations cannot be removed.
type Bridge interface {
	RegisterLifecycleCallbacks(cb Callbacks)
}

// OnDestroyed registers fn for the Destroyed event only
func OnDestroyed(b Bridge, fn func(Unit)) {
	b.RegisterLifecycleCallbacks(Callbacks{OnDestroyed: fn})
}

// Dispatcher is an in-memory Bridge driven by the host.
type Dispatcher struct {
	mu        sync.RWMutex
	callbacks []Callbacks
}

// NewDispatcher creates a dispatcher with no subscribers
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// RegisterLifecycleCallbacks implements Bridge
func (d *Dispatcher) RegisterLifecycleCallbacks(cb Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, cb)
}

// Len returns the number of registrations
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.callbacks)
}

// Emit delivers e for u to every registration, in registration order.
// Handlers run on the calling goroutine.
func (d *Dispatcher) Emit(e Event, u Unit) {
	d.mu.RLock()
	cbs := make([]Callbacks, len(d.callbacks))
	copy(cbs, d.callbacks)
	d.mu.RUnlock()

	for _, cb := range cbs {
		if fn := cb.handler(e); fn != nil {
			fn(u)
		}
	}
}

func (d *Dispatcher) Create(u Unit)  { d.Emit(Created, u) }
func (d *Dispatcher) Start(u Unit)   { d.Emit(Started, u) }
func (d *Dispatcher) Resume(u Unit)  { d.Emit(Resumed, u) }
func (d *Dispatcher) Pause(u Unit)   { d.Emit(Paused, u) }
func (d *Dispatcher) Stop(u Unit)    { d.Emit(Stopped, u) }
func (d *Dispatcher) Destroy(u Unit) { d.Emit(Destroyed, u) }

var _ Bridge = (*Dispatcher)(nil)

// NamedUnit is a Unit identified only by its name
type NamedUnit string

// Name implements Unit
func (n NamedUnit) Name() string { return string(n) }
