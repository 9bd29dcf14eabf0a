//go:build unix

package lockfile

import (
	"errors"

	"golang.org/x/sys/unix"
)

type processState int

const (
	processAlive processState = iota
	processDead
	probeInconclusive
)

// probeProcess checks liveness of pid with a zero-signal kill. EPERM means
// a process exists but belongs to another user (or a namespace boundary
// hides it), which we cannot distinguish from a recycled PID; that counts
// as inconclusive.
func probeProcess(pid int) processState {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return processAlive
	case errors.Is(err, unix.ESRCH):
		return processDead
	default:
		return probeInconclusive
	}
}
