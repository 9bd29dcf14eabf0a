//go:build !unix

package lockfile

type processState int

const (
	processAlive processState = iota
	processDead
	probeInconclusive
)

// probeProcess cannot verify liveness without unix signals; the TTL-only
// fallback applies.
func probeProcess(pid int) processState {
	return probeInconclusive
}
