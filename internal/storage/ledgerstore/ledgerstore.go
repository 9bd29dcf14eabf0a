// Package ledgerstore implements the storage ports against the external
// ledger, with the project-local JSON files demoted to a best-effort cache.
// The ledger is canonical: reads go there first, and local state is
// rewritten after every successful call so an offline fallback stays warm.
//
// Failure handling follows the gateway contract. Initialization-class
// errors (missing binary, uninitialized ledger) propagate to the caller
// untouched. Transient errors are logged and degrade to "no data" on reads;
// on writes the local cache is still updated so nothing the caller handed
// us is lost.
package ledgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/fsatomic"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/storage/local"
	"github.com/stewardhq/steward/internal/types"
)

// New builds the ledger-mirrored backend. The local cache uses the same
// file layout as the local backend, so switching backends later keeps all
// existing state readable.
func New(cfg *config.Config, sessionID string, gw ledger.Gateway) *storage.Store {
	s := &store{
		cfg:       cfg,
		sessionID: sessionID,
		gw:        gw,
		cache:     local.New(cfg, sessionID),
	}
	return &storage.Store{
		Features: &featureStore{s},
		Plans:    &planStore{s},
		Tasks:    &taskStore{s},
	}
}

type store struct {
	cfg       *config.Config
	sessionID string
	gw        ledger.Gateway
	cache     *storage.Store
}

// checkWrite classifies a gateway write failure. Init-class errors come
// back to the caller; transient ones are logged and swallowed, leaving the
// cache update as the record of intent.
func (s *store) checkWrite(err error) error {
	if err == nil {
		return nil
	}
	if ledger.IsInit(err) {
		return err
	}
	debug.Warnf("ledger: %v (cache updated, mirror pending)\n", err)
	return nil
}

// checkRead classifies a gateway read failure. Init-class errors propagate;
// transient ones degrade to "no data".
func (s *store) checkRead(err error) (degraded bool, out error) {
	if err == nil {
		return false, nil
	}
	if ledger.IsInit(err) {
		return false, err
	}
	debug.Warnf("ledger: %v (degrading to no data)\n", err)
	return true, nil
}

// hasMirroredID reports whether the cached feature already carries a real
// ledger epic ID rather than the local surrogate.
func hasMirroredID(f *types.Feature) bool {
	return f != nil && f.ExternalID != "" && !strings.HasPrefix(f.ExternalID, "local-")
}

// epicID resolves the ledger epic for a feature: the cached external ID
// when it is a real one, otherwise a lookup by name whose result is
// written back to the cache. A feature with no cache file at all may still
// exist ledger-side (a fresh checkout against a warm ledger), so a cache
// miss falls through to the name lookup and seeds the cache on success.
func (s *store) epicID(ctx context.Context, feature string) (string, error) {
	cached, err := s.cache.Features.Get(ctx, feature)
	switch {
	case err == nil:
		if hasMirroredID(cached) {
			return cached.ExternalID, nil
		}
	case errors.Is(err, storage.ErrNotFound):
		cached = nil
	default:
		return "", err
	}

	epic, err := s.gw.GetEpicByName(ctx, feature)
	if degraded, cerr := s.checkRead(err); cerr != nil {
		return "", cerr
	} else if degraded || epic == nil {
		if cached == nil {
			return "", fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
		}
		return "", fmt.Errorf("feature %q has no ledger epic: %w", feature, storage.ErrNotFound)
	}

	if cached == nil {
		state, serr := s.gw.GetFeatureState(ctx, epic.ID)
		if _, cerr := s.checkRead(serr); cerr != nil {
			return "", cerr
		}
		f := types.Feature{Name: feature, Status: types.FeaturePlanning, CreatedAt: time.Now().UTC()}
		if state != nil {
			f = state.Feature
		}
		f.ExternalID = epic.ID
		s.seedFeatureCache(feature, f)
		return epic.ID, nil
	}

	cached.ExternalID = epic.ID
	s.writeFeatureCache(feature, *cached)
	return epic.ID, nil
}

// seedFeatureCache materializes the local directory layout for a feature
// known only to the ledger, then writes its cached state.
func (s *store) seedFeatureCache(feature string, f types.Feature) {
	if err := os.MkdirAll(s.cfg.TasksDir(feature), 0o755); err != nil {
		debug.Warnf("ledgerstore: cache dir for %q failed: %v\n", feature, err)
		return
	}
	s.writeFeatureCache(feature, f)
}

// writeFeatureCache rewrites the cached feature state, best effort.
func (s *store) writeFeatureCache(feature string, f types.Feature) {
	state := artifact.EncodeFeatureState(f)
	if err := fsatomic.WriteJSONAtomic(s.cfg.FeatureStatePath(feature), state); err != nil {
		debug.Warnf("ledgerstore: cache write for %q failed: %v\n", feature, err)
	}
}

type featureStore struct {
	*store
}

func (f *featureStore) Create(ctx context.Context, name string, workflow types.WorkflowPath, ticket, sessionID string) (*types.Feature, error) {
	// Surface an existing epic before creating anything locally.
	epic, err := f.gw.GetEpicByName(ctx, name)
	if _, cerr := f.checkRead(err); cerr != nil {
		return nil, cerr
	}
	if epic != nil {
		return nil, fmt.Errorf("feature %q: ledger epic %s: %w", name, epic.ID, storage.ErrExists)
	}

	feature, err := f.cache.Features.Create(ctx, name, workflow, ticket, sessionID)
	if err != nil {
		return nil, err
	}

	epic, err = f.gw.CreateEpic(ctx, name, ticket)
	if err := f.checkWrite(err); err != nil {
		return nil, err
	}
	if epic != nil {
		feature.ExternalID = epic.ID
		f.writeFeatureCache(name, *feature)
		if err := f.checkWrite(f.gw.SetFeatureState(ctx, epic.ID, artifact.EncodeFeatureState(*feature))); err != nil {
			return nil, err
		}
	}
	debug.LogEvent(f.cfg.Root(), "FEATURE_CREATE", name, sessionID, string(workflow))
	return feature, nil
}

func (f *featureStore) Get(ctx context.Context, name string) (*types.Feature, error) {
	epicID, err := f.epicID(ctx, name)
	if err != nil {
		return nil, err
	}
	state, err := f.gw.GetFeatureState(ctx, epicID)
	if degraded, cerr := f.checkRead(err); cerr != nil {
		return nil, cerr
	} else if degraded {
		return nil, fmt.Errorf("feature %q: %w", name, storage.ErrNotFound)
	}
	if state == nil {
		// Epic exists but was never mirrored. Seed the artifact from the
		// cache so later readers see it ledger-side.
		cached, err := f.cache.Features.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		cached.ExternalID = epicID
		if err := f.checkWrite(f.gw.SetFeatureState(ctx, epicID, artifact.EncodeFeatureState(*cached))); err != nil {
			return nil, err
		}
		return cached, nil
	}
	f.writeFeatureCache(name, state.Feature)
	return &state.Feature, nil
}

// List enumerates cached features, refreshing each from the ledger when
// possible. Features that only exist ledger-side appear once something
// touches them through this process.
func (f *featureStore) List(ctx context.Context) ([]*types.Feature, error) {
	cached, err := f.cache.Features.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Feature, 0, len(cached))
	for _, c := range cached {
		fresh, err := f.Get(ctx, c.Name)
		if err != nil {
			if ledger.IsInit(err) {
				return nil, err
			}
			out = append(out, c)
			continue
		}
		out = append(out, fresh)
	}
	return out, nil
}

func (f *featureStore) SetStatus(ctx context.Context, name string, status types.FeatureStatus) (*types.Feature, error) {
	feature, err := f.cache.Features.SetStatus(ctx, name, status)
	if err != nil {
		return nil, err
	}
	if err := f.mirrorFeature(ctx, name, *feature); err != nil {
		return nil, err
	}
	return feature, nil
}

func (f *featureStore) Complete(ctx context.Context, name string) (*types.Feature, error) {
	feature, err := f.cache.Features.Complete(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := f.mirrorFeature(ctx, name, *feature); err != nil {
		return nil, err
	}
	if hasMirroredID(feature) {
		if err := f.checkWrite(f.gw.CloseBead(ctx, feature.ExternalID, "feature completed")); err != nil {
			return nil, err
		}
	}
	return feature, nil
}

// mirrorFeature pushes the feature state artifact after a cache mutation.
func (s *store) mirrorFeature(ctx context.Context, name string, feature types.Feature) error {
	epicID, err := s.epicID(ctx, name)
	if err != nil {
		if ledger.IsInit(err) {
			return err
		}
		debug.Warnf("ledgerstore: no epic for %q, mirror pending\n", name)
		return nil
	}
	feature.ExternalID = epicID
	return s.checkWrite(s.gw.SetFeatureState(ctx, epicID, artifact.EncodeFeatureState(feature)))
}
