package fixes

import (
	"errors"

	"github.com/jrepp/prism-plumber/pkg/lifecycle"
)

// ErrHookUnavailable is returned by a hook the host platform cannot provide.
// The patch depending on it becomes a no-op.
var ErrHookUnavailable = errors.New("platform hook unavailable")

// Cache is a platform-internal cache that can be emptied. Clear must take
// whatever lock the owner of the cache takes.
type Cache interface {
	Clear()
}

// Hooks reaches into platform internals on behalf of the catalog. Every
// method may fail with ErrHookUnavailable (or any other error) when the
// internal it needs does not exist on the running platform.
type Hooks interface {
	// PrimeMediaSessionHelper creates the media session helper singleton
	// with the application scope so no short-lived unit is captured.
	PrimeMediaSessionHelper(app lifecycle.Bridge) error

	// PrimeUserManager creates the user manager singleton with the
	// application scope.
	PrimeUserManager(app lifecycle.Bridge) error

	// TextLineCache returns the static text line pool
	TextLineCache() (Cache, error)

	// AccessibilityNodeSource returns the obtain function of the
	// accessibility node pool
	AccessibilityNodeSource() (func() any, error)
}

// UnavailableHooks provides nothing. Only the patches that need no hook
// do anything with it.
type UnavailableHooks struct{}

func (UnavailableHooks) PrimeMediaSessionHelper(lifecycle.Bridge) error { return ErrHookUnavailable }
func (UnavailableHooks) PrimeUserManager(lifecycle.Bridge) error        { return ErrHookUnavailable }
func (UnavailableHooks) TextLineCache() (Cache, error)                  { return nil, ErrHookUnavailable }
func (UnavailableHooks) AccessibilityNodeSource() (func() any, error)   { return nil, ErrHookUnavailable }

var _ Hooks = UnavailableHooks{}
