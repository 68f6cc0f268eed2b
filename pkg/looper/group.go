package looper

import (
	"sync"
)

var (
	systemGroup = &Group{name: "system"}
	mainGroup   = newChildGroup(systemGroup, "main")
)

// Group is a node in the process-wide thread-group tree.
type Group struct {
	name   string
	parent *Group

	mu      sync.Mutex
	threads []Thread
	groups  []*Group
}

// MainGroup returns the default group for threads created without one
func MainGroup() *Group {
	return mainGroup
}

// NewGroup creates a child of parent. A nil parent means MainGroup.
func NewGroup(parent *Group, name string) *Group {
	if parent == nil {
		parent = MainGroup()
	}
	return newChildGroup(parent, name)
}

func newChildGroup(parent *Group, name string) *Group {
	g := &Group{name: name, parent: parent}
	parent.mu.Lock()
	parent.groups = append(parent.groups, g)
	parent.mu.Unlock()
	return g
}

// Name returns the group name
func (g *Group) Name() string {
	return g.name
}

// Parent returns the parent group, nil at the root
func (g *Group) Parent() *Group {
	return g.parent
}

// ActiveCount returns an estimate of the threads in this group and its
// subgroups. The population may change before the caller acts on it.
func (g *Group) ActiveCount() int {
	g.mu.Lock()
	n := len(g.threads)
	children := append([]*Group(nil), g.groups...)
	g.mu.Unlock()

	for _, c := range children {
		n += c.ActiveCount()
	}
	return n
}

// Enumerate copies threads into dst and returns how many were copied. Threads
// that do not fit are silently left out; a return value equal to len(dst)
// means the snapshot may be incomplete.
func (g *Group) Enumerate(dst []Thread, recurse bool) int {
	return g.enumerate(dst, 0, recurse)
}

func (g *Group) enumerate(dst []Thread, n int, recurse bool) int {
	g.mu.Lock()
	for _, t := range g.threads {
		if n >= len(dst) {
			break
		}
		dst[n] = t
		n++
	}
	var children []*Group
	if recurse {
		children = append(children, g.groups...)
	}
	g.mu.Unlock()

	for _, c := range children {
		if n >= len(dst) {
			break
		}
		n = c.enumerate(dst, n, true)
	}
	return n
}

func (g *Group) add(t Thread) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threads = append(g.threads, t)
}

func (g *Group) remove(t Thread) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, existing := range g.threads {
		if existing == t {
			g.threads = append(g.threads[:i], g.threads[i+1:]...)
			return
		}
	}
}
