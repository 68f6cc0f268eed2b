//go:build !linux

package scheduler

// BackgroundNiceness matches the platform's background thread priority
const BackgroundNiceness = 10

// lowerThreadPriority is a no-op where per-thread niceness is unavailable
func lowerThreadPriority(niceness int) error {
	return nil
}
