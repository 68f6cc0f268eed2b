// Package patch defines the mitigation catalog and applies it.
//
// A Patch is a plain record: an identifier, a predicate over the runtime
// facts of the process and an action. The Coordinator evaluates each
// selected patch once, in catalog order, and never lets one patch's failure
// reach the host or the patches after it.
package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jrepp/prism-plumber/pkg/lifecycle"
	"github.com/jrepp/prism-plumber/pkg/scheduler"
)

// ErrDuplicatePatch is returned when a catalog declares the same ID twice
var ErrDuplicatePatch = errors.New("duplicate patch id")

// ID identifies a patch. IDs are assigned by the catalog author.
type ID int

// Facts are the runtime facts a trigger is evaluated against
type Facts struct {
	APILevel int
}

// Trigger reports whether a patch applies to the running process
type Trigger func(Facts) bool

// Env is what an apply action may use
type Env struct {
	App       lifecycle.Bridge
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Action performs a mitigation. It must be idempotent and must not depend
// on other patches having run.
type Action func(ctx context.Context, env Env) error

// Patch is one mitigation
type Patch struct {
	ID      ID
	Name    string
	Trigger Trigger
	Apply   Action
}

func (p Patch) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("patch(%d)", int(p.ID))
}

// Catalog is an ordered, immutable list of patches.
type Catalog struct {
	patches []Patch
	byID    map[ID]int
}

// NewCatalog builds a catalog in the given order
func NewCatalog(patches ...Patch) (*Catalog, error) {
	c := &Catalog{
		patches: make([]Patch, 0, len(patches)),
		byID:    make(map[ID]int, len(patches)),
	}
	for _, p := range patches {
		if _, ok := c.byID[p.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePatch, p)
		}
		if p.Trigger == nil || p.Apply == nil {
			return nil, fmt.Errorf("patch %s: trigger and apply are required", p)
		}
		c.byID[p.ID] = len(c.patches)
		c.patches = append(c.patches, p)
	}
	return c, nil
}

// Patches returns a copy of the catalog in declared order
func (c *Catalog) Patches() []Patch {
	out := make([]Patch, len(c.patches))
	copy(out, c.patches)
	return out
}

// Lookup returns the patch with id
func (c *Catalog) Lookup(id ID) (Patch, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Patch{}, false
	}
	return c.patches[i], true
}

// Len returns the number of patches
func (c *Catalog) Len() int {
	return len(c.patches)
}

// Selection is a set of patch IDs. A nil Selection selects every patch.
type Selection map[ID]struct{}

// Select builds a selection from ids
func Select(ids ...ID) Selection {
	s := make(Selection, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// All selects every patch of c
func All(c *Catalog) Selection {
	s := make(Selection, c.Len())
	for _, p := range c.patches {
		s[p.ID] = struct{}{}
	}
	return s
}

// Contains reports whether id is selected
func (s Selection) Contains(id ID) bool {
	if s == nil {
		return true
	}
	_, ok := s[id]
	return ok
}

// Without returns a copy of s minus ids. A nil s stands for every patch of c.
func (s Selection) Without(c *Catalog, ids ...ID) Selection {
	if s == nil {
		s = All(c)
	}
	out := make(Selection, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	for _, id := range ids {
		delete(out, id)
	}
	return out
}

// IDs returns the explicitly selected ids in ascending order. It is empty
// for a nil Selection.
func (s Selection) IDs() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
