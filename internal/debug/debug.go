// Package debug provides env-gated diagnostic logging and the project
// event log. Debug output goes to stderr and is enabled with STEWARD_DEBUG=1
// or the --verbose flag; event lines are appended to .steward/events.log.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("STEWARD_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMu       sync.Mutex
)

// Enabled reports whether debug output is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output.
func SetVerbose(v bool) {
	verboseMode = v
}

// SetQuiet suppresses non-essential output.
func SetQuiet(q bool) {
	quietMode = q
}

// IsQuiet reports whether quiet mode is enabled.
func IsQuiet() bool {
	return quietMode
}

// Logf writes a debug line to stderr when debug output is active.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Warnf always writes a warning line to stderr. Used for degraded-but-safe
// paths: a transient ledger failure, a dropped cache rewrite.
func Warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "warning: "+format, args...)
}

// PrintNormal prints informational output unless quiet mode is enabled.
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// LogEvent appends an event to <root>/.steward/events.log.
// Format: TIMESTAMP|EVENT_CODE|FEATURE|SESSION_ID|DETAILS
// Failures are silent: event logging must never break an operation.
func LogEvent(root, eventCode, feature, sessionID, details string) {
	logMu.Lock()
	defer logMu.Unlock()

	dir := filepath.Join(root, ".steward")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "%s|%s|%s|%s|%s\n",
		time.Now().UTC().Format(time.RFC3339), eventCode, feature, sessionID, details)
}
