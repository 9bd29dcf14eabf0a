// Package config loads and caches per-project steward configuration.
//
// Config lives in .steward/config.yaml. It is read once per process and
// cached; writes go through Save, which persists atomically and refreshes
// the cache in the same step. There is no ambient global: callers hold the
// *Config they were given.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stewardhq/steward/internal/lockfile"
)

// Backend selects where canonical state lives.
type Backend string

const (
	// BackendLocal keeps canonical state in project-local JSON files.
	BackendLocal Backend = "local"
	// BackendLedger mirrors canonical state into the external ledger;
	// local files become a best-effort cache.
	BackendLedger Backend = "ledger"
)

// Dir is the per-project steward directory name.
const Dir = ".steward"

// ConfigFileName is the config file within Dir.
const ConfigFileName = "config.yaml"

// ErrInvalidBackend reports an unrecognized backend value. This is an
// irrecoverable misconfiguration and fails loud.
var ErrInvalidBackend = errors.New("invalid backend")

// LockSettings tunes advisory lock acquisition.
type LockSettings struct {
	Timeout       time.Duration
	RetryInterval time.Duration
	StaleTTL      time.Duration
}

// Options converts lock settings into lockfile acquisition options.
func (l LockSettings) Options(sessionID string) lockfile.Options {
	return lockfile.Options{
		Timeout:       l.Timeout,
		RetryInterval: l.RetryInterval,
		StaleTTL:      l.StaleTTL,
		SessionID:     sessionID,
	}
}

// Config is the resolved per-project configuration.
type Config struct {
	Backend       Backend
	LedgerBin     string
	LedgerTimeout time.Duration
	Lock          LockSettings

	root string
}

// fileConfig is the on-disk YAML shape. Durations are strings
// ("10s", "250ms") parsed on load.
type fileConfig struct {
	Backend       string `yaml:"backend,omitempty"`
	LedgerBin     string `yaml:"ledger_bin,omitempty"`
	LedgerTimeout string `yaml:"ledger_timeout,omitempty"`
	Lock          struct {
		Timeout       string `yaml:"timeout,omitempty"`
		RetryInterval string `yaml:"retry_interval,omitempty"`
		StaleTTL      string `yaml:"stale_ttl,omitempty"`
	} `yaml:"lock,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default(root string) *Config {
	return &Config{
		Backend:       BackendLocal,
		LedgerBin:     "bd",
		LedgerTimeout: 30 * time.Second,
		Lock: LockSettings{
			Timeout:       lockfile.DefaultTimeout,
			RetryInterval: lockfile.DefaultRetryInterval,
			StaleTTL:      lockfile.DefaultStaleTTL,
		},
		root: root,
	}
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*Config{}
)

// Load reads the project config for root, caching the result for the rest
// of the process run. A missing config file yields defaults; a malformed
// one is an error.
func Load(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if c, ok := cache[abs]; ok {
		return c, nil
	}

	c, err := read(abs)
	if err != nil {
		return nil, err
	}
	cache[abs] = c
	return c, nil
}

// Invalidate drops the cached config for root. The next Load re-reads disk.
func Invalidate(root string) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	cacheMu.Lock()
	defer cacheMu.Unlock()
	delete(cache, abs)
}

func read(root string) (*Config, error) {
	c := Default(root)

	data, err := os.ReadFile(filepath.Join(root, Dir, ConfigFileName))
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ConfigFileName, err)
	}

	if fc.Backend != "" {
		b := Backend(fc.Backend)
		if b != BackendLocal && b != BackendLedger {
			return nil, fmt.Errorf("%w: %q (want %q or %q)",
				ErrInvalidBackend, fc.Backend, BackendLocal, BackendLedger)
		}
		c.Backend = b
	}
	if fc.LedgerBin != "" {
		c.LedgerBin = fc.LedgerBin
	}
	if err := setDuration(&c.LedgerTimeout, fc.LedgerTimeout, "ledger_timeout"); err != nil {
		return nil, err
	}
	if err := setDuration(&c.Lock.Timeout, fc.Lock.Timeout, "lock.timeout"); err != nil {
		return nil, err
	}
	if err := setDuration(&c.Lock.RetryInterval, fc.Lock.RetryInterval, "lock.retry_interval"); err != nil {
		return nil, err
	}
	if err := setDuration(&c.Lock.StaleTTL, fc.Lock.StaleTTL, "lock.stale_ttl"); err != nil {
		return nil, err
	}
	return c, nil
}

func setDuration(dst *time.Duration, raw, key string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Save persists c and refreshes the cache so later Loads in this process
// observe the write.
func Save(c *Config) error {
	fc := fileConfig{
		Backend:       string(c.Backend),
		LedgerBin:     c.LedgerBin,
		LedgerTimeout: c.LedgerTimeout.String(),
	}
	fc.Lock.Timeout = c.Lock.Timeout.String()
	fc.Lock.RetryInterval = c.Lock.RetryInterval.String()
	fc.Lock.StaleTTL = c.Lock.StaleTTL.String()

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	dir := filepath.Join(c.root, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, ConfigFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, ConfigFileName)); err != nil {
		os.Remove(tmp)
		return err
	}

	if abs, err := filepath.Abs(c.root); err == nil {
		cacheMu.Lock()
		cache[abs] = c
		cacheMu.Unlock()
	}
	return nil
}

// Root returns the project root this config was loaded for.
func (c *Config) Root() string { return c.root }

// StewardDir returns <root>/.steward.
func (c *Config) StewardDir() string { return filepath.Join(c.root, Dir) }

// FeaturesDir returns the directory holding all feature directories.
func (c *Config) FeaturesDir() string { return filepath.Join(c.StewardDir(), "features") }

// FeatureDir returns the directory for one feature.
func (c *Config) FeatureDir(name string) string { return filepath.Join(c.FeaturesDir(), name) }

// FeatureStatePath returns the feature's JSON state file.
func (c *Config) FeatureStatePath(name string) string {
	return filepath.Join(c.FeatureDir(name), "feature.json")
}

// PlanPath returns the feature's plan text file.
func (c *Config) PlanPath(name string) string {
	return filepath.Join(c.FeatureDir(name), "plan.md")
}

// ApprovalPath returns the feature's plan-approval artifact.
func (c *Config) ApprovalPath(name string) string {
	return filepath.Join(c.FeatureDir(name), "approval.json")
}

// ApprovedPlanPath returns the approved-plan snapshot artifact.
func (c *Config) ApprovedPlanPath(name string) string {
	return filepath.Join(c.FeatureDir(name), "approved-plan.json")
}

// CommentsPath returns the plan-comments artifact.
func (c *Config) CommentsPath(name string) string {
	return filepath.Join(c.FeatureDir(name), "comments.json")
}

// TasksDir returns the feature's tasks directory.
func (c *Config) TasksDir(name string) string {
	return filepath.Join(c.FeatureDir(name), "tasks")
}

// TaskDir returns one task's directory.
func (c *Config) TaskDir(feature, folder string) string {
	return filepath.Join(c.TasksDir(feature), folder)
}

// TaskStatePath returns one task's JSON state file.
func (c *Config) TaskStatePath(feature, folder string) string {
	return filepath.Join(c.TasksDir(feature), folder, "task.json")
}

// TaskReportPath returns one task's report artifact.
func (c *Config) TaskReportPath(feature, folder string) string {
	return filepath.Join(c.TasksDir(feature), folder, "report.json")
}

// TaskPromptPath returns one task's generated worker prompt.
func (c *Config) TaskPromptPath(feature, folder string) string {
	return filepath.Join(c.TasksDir(feature), folder, "prompt.json")
}
