//go:build linux

package scheduler

import (
	"golang.org/x/sys/unix"
)

// BackgroundNiceness matches the platform's background thread priority
const BackgroundNiceness = 10

// lowerThreadPriority sets the niceness of the calling OS thread. The caller
// must have locked its goroutine to the thread.
func lowerThreadPriority(niceness int) error {
	if niceness == 0 {
		return nil
	}
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), niceness)
}
