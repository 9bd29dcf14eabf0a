// Package lockfile implements advisory file locks for cross-process mutual
// exclusion over shared project state. A lock is a JSON sidecar written with
// create-only semantics next to the file it protects; staleness recovery
// handles crashed owners so a dead process can never wedge the project.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/debug"
)

// ErrLockTimeout is returned when a lock cannot be acquired within the
// configured timeout. The wrapping error names the contested lock path.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Suffix is appended to a protected path to form its lock sidecar.
const Suffix = ".lock"

// Default tuning. Callers in hot paths override via Options.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
	DefaultStaleTTL      = 30 * time.Second
)

// Record is the JSON payload written into a lock sidecar.
type Record struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"file_path"`
	SessionID string    `json:"session_id,omitempty"`
	Hostname  string    `json:"hostname"`
	LockID    string    `json:"lock_id"`
}

// Options tunes a single acquisition attempt.
type Options struct {
	// Timeout bounds the whole acquisition, measured from the first attempt.
	Timeout time.Duration
	// RetryInterval is the fixed wait between attempts while the lock is
	// actively held. Intentionally constant, not exponential: predictable
	// latency matters more than politeness on a local filesystem.
	RetryInterval time.Duration
	// StaleTTL is the age past which a held lock becomes a staleness
	// candidate.
	StaleTTL time.Duration
	// SessionID is recorded in the sidecar for diagnostics.
	SessionID string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.StaleTTL <= 0 {
		o.StaleTTL = DefaultStaleTTL
	}
	return o
}

// Lock is a held advisory lock. Release it on every exit path.
type Lock struct {
	sidecar string
	lockID  string
}

// Path returns the sidecar path backing this lock.
func (l *Lock) Path() string { return l.sidecar }

// Acquire takes an exclusive advisory lock on path, blocking up to
// opts.Timeout. The returned Lock must be released by the caller.
func Acquire(path string, opts Options) (*Lock, error) {
	opts = opts.withDefaults()
	sidecar := path + Suffix
	deadline := time.Now().Add(opts.Timeout)
	wait := backoff.NewConstantBackOff(opts.RetryInterval)

	for {
		lockID, err := tryCreate(sidecar, path, opts.SessionID)
		if err == nil {
			return &Lock{sidecar: sidecar, lockID: lockID}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("writing lock %s: %w", sidecar, err)
		}

		broke := false
		if stale := classifyHolder(sidecar, opts.StaleTTL); stale {
			// Another breaker may win the race to remove; either way the
			// next create attempt settles it, so retry immediately.
			if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
				debug.Logf("lockfile: breaking stale lock %s: %v\n", sidecar, err)
			} else {
				debug.Logf("lockfile: broke stale lock %s\n", sidecar)
				broke = true
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s waiting for %s",
				ErrLockTimeout, opts.Timeout, sidecar)
		}
		if !broke {
			time.Sleep(wait.NextBackOff())
		}
	}
}

// tryCreate attempts the create-only write of a fresh lock record and
// returns the lock ID on success.
func tryCreate(sidecar, target, sessionID string) (string, error) {
	f, err := os.OpenFile(sidecar, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}

	hostname, _ := os.Hostname()
	rec := Record{
		PID:       os.Getpid(),
		Timestamp: time.Now(),
		FilePath:  target,
		SessionID: sessionID,
		Hostname:  hostname,
		LockID:    uuid.NewString(),
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(&rec); err != nil {
		f.Close()
		os.Remove(sidecar)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(sidecar)
		return "", err
	}
	return rec.LockID, nil
}

// classifyHolder decides whether the current holder of sidecar is stale.
//
// Age is taken from the sidecar's mtime. Under the TTL the lock is active,
// full stop. Past the TTL:
//   - corrupt or unreadable record: stale
//   - written from another host: stale (liveness unverifiable; TTL governs)
//   - same host, owner confirmed dead: stale
//   - same host, owner confirmed alive: NOT stale, even from a different
//     session; an active process is never broken
//   - probe inconclusive: stale, per TTL-only fallback
func classifyHolder(sidecar string, staleTTL time.Duration) bool {
	fi, err := os.Stat(sidecar)
	if err != nil {
		// Gone already; the caller's next create attempt resolves it.
		return false
	}
	if time.Since(fi.ModTime()) <= staleTTL {
		return false
	}

	data, err := os.ReadFile(sidecar)
	if err != nil {
		return true
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.PID <= 0 {
		debug.Logf("lockfile: unparseable lock record %s, treating as stale\n", sidecar)
		return true
	}

	hostname, err := os.Hostname()
	if err != nil || rec.Hostname != hostname {
		// Cross-host liveness cannot be verified; TTL alone governs.
		return true
	}

	switch probeProcess(rec.PID) {
	case processAlive:
		return false
	case processDead:
		return true
	default: // probeInconclusive
		return true
	}
}

// Release drops the lock. The sidecar is deleted only if it still carries
// this acquisition's lock ID: if the lock was broken as stale and
// re-acquired elsewhere, the newer owner's sidecar is left alone.
func (l *Lock) Release() error {
	data, err := os.ReadFile(l.sidecar)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading lock %s on release: %w", l.sidecar, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.LockID != l.lockID {
		// Not ours anymore.
		return nil
	}
	if err := os.Remove(l.sidecar); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock %s: %w", l.sidecar, err)
	}
	return nil
}
