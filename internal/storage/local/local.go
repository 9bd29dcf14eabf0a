// Package local implements the storage ports over project-local JSON
// files. Canonical state is the artifact envelope on disk; every mutation
// funnels through the lock-protected helpers in fsatomic, so any number of
// worker processes can share one checkout safely.
package local

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/fsatomic"
	"github.com/stewardhq/steward/internal/lockfile"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/types"
)

// New builds the local backend.
func New(cfg *config.Config, sessionID string) *storage.Store {
	s := &store{cfg: cfg, sessionID: sessionID}
	return &storage.Store{
		Features: &featureStore{s},
		Plans:    &planStore{s},
		Tasks:    &taskStore{s},
	}
}

type store struct {
	cfg       *config.Config
	sessionID string
}

func (s *store) lockOpts() lockfile.Options {
	return s.cfg.Lock.Options(s.sessionID)
}

// lockFeature serializes all whole-feature mutations (plan text, approval,
// status) on the feature state file. Per-task updates use their own task
// file lock instead, so workers on different tasks never contend here.
func (s *store) lockFeature(name string) (*lockfile.Lock, error) {
	return lockfile.Acquire(s.cfg.FeatureStatePath(name), s.lockOpts())
}

func (s *store) featureExists(name string) bool {
	_, err := os.Stat(s.cfg.FeatureStatePath(name))
	return err == nil
}

// readFeature loads a feature state from disk without locking.
func (s *store) readFeature(name string) (*artifact.FeatureState, error) {
	data, err := os.ReadFile(s.cfg.FeatureStatePath(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("feature %q: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	state := artifact.DecodeFeatureState(data)
	if state == nil {
		debug.Warnf("local: undecodable feature state for %q\n", name)
		return nil, fmt.Errorf("feature %q: %w", name, storage.ErrNotFound)
	}
	return state, nil
}

func validFeatureName(name string) error {
	if name == "" {
		return storage.Validationf("feature name must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return storage.Validationf("feature name %q must not contain path separators", name)
	}
	return nil
}

type featureStore struct {
	*store
}

func (f *featureStore) Create(ctx context.Context, name string, workflow types.WorkflowPath, ticket, sessionID string) (*types.Feature, error) {
	if err := validFeatureName(name); err != nil {
		return nil, err
	}
	if f.featureExists(name) {
		return nil, fmt.Errorf("feature %q: %w", name, storage.ErrExists)
	}
	if workflow == "" {
		workflow = types.WorkflowStandard
	}

	if err := os.MkdirAll(f.cfg.TasksDir(name), 0o755); err != nil {
		return nil, err
	}

	feature := types.Feature{
		Name: name,
		// Surrogate until (unless) the feature is mirrored into a ledger.
		ExternalID: "local-" + uuid.NewString()[:8],
		Status:     types.FeaturePlanning,
		CreatedAt:  time.Now().UTC(),
		Workflow:   workflow,
		Ticket:     ticket,
		SessionID:  sessionID,
	}
	state := artifact.EncodeFeatureState(feature)
	// Exclusive create: with two concurrent creates of the same name the
	// loser gets ErrExists instead of silently clobbering the winner.
	if err := fsatomic.WriteJSONExclusive(f.cfg.FeatureStatePath(name), state); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("feature %q: %w", name, storage.ErrExists)
		}
		return nil, err
	}
	debug.LogEvent(f.cfg.Root(), "FEATURE_CREATE", name, sessionID, string(workflow))
	return &feature, nil
}

func (f *featureStore) Get(ctx context.Context, name string) (*types.Feature, error) {
	state, err := f.readFeature(name)
	if err != nil {
		return nil, err
	}
	return &state.Feature, nil
}

func (f *featureStore) List(ctx context.Context) ([]*types.Feature, error) {
	entries, err := os.ReadDir(f.cfg.FeaturesDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var features []*types.Feature
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		state, err := f.readFeature(e.Name())
		if err != nil {
			debug.Warnf("local: skipping feature %q: %v\n", e.Name(), err)
			continue
		}
		features = append(features, &state.Feature)
	}
	sort.Slice(features, func(i, j int) bool { return features[i].Name < features[j].Name })
	return features, nil
}

func (f *featureStore) SetStatus(ctx context.Context, name string, status types.FeatureStatus) (*types.Feature, error) {
	if !status.IsValid() {
		return nil, storage.Validationf("invalid feature status %q", status)
	}
	if status == types.FeatureApproved {
		// Approved is only reachable through PlanStore.Approve, which
		// records the content hash the status depends on.
		return nil, storage.Validationf("feature status %q requires plan approval", status)
	}
	state, err := f.mutateFeature(name, func(fs *artifact.FeatureState) error {
		fs.Feature.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	debug.LogEvent(f.cfg.Root(), "FEATURE_STATUS", name, f.sessionID, string(status))
	return &state.Feature, nil
}

func (f *featureStore) Complete(ctx context.Context, name string) (*types.Feature, error) {
	now := time.Now().UTC()
	state, err := f.mutateFeature(name, func(fs *artifact.FeatureState) error {
		fs.Feature.Status = types.FeatureCompleted
		fs.Feature.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	debug.LogEvent(f.cfg.Root(), "FEATURE_COMPLETE", name, f.sessionID, "")
	return &state.Feature, nil
}

// mutateFeature applies fn to the feature state under its lock.
func (s *store) mutateFeature(name string, fn func(*artifact.FeatureState) error) (*artifact.FeatureState, error) {
	if !s.featureExists(name) {
		return nil, fmt.Errorf("feature %q: %w", name, storage.ErrNotFound)
	}
	next, err := fsatomic.UpdateLocked(s.cfg.FeatureStatePath(name), s.lockOpts(),
		artifact.FeatureState{}, func(cur artifact.FeatureState) (artifact.FeatureState, error) {
			if cur.Name == "" {
				return cur, fmt.Errorf("feature %q: %w", name, storage.ErrNotFound)
			}
			if err := fn(&cur); err != nil {
				return cur, err
			}
			cur.SchemaVersion = artifact.SchemaVersion
			return cur, nil
		})
	if err != nil {
		return nil, err
	}
	return &next, nil
}
