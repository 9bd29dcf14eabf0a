package local

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/fsatomic"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/types"
)

type planStore struct {
	*store
}

func (p *planStore) Read(ctx context.Context, feature string) (string, error) {
	if !p.featureExists(feature) {
		return "", fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	data, err := os.ReadFile(p.cfg.PlanPath(feature))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write replaces the plan text. When the content actually changes, any
// existing approval is revoked and review comments are cleared inside the
// same feature-lock region: there is no window where the feature claims
// approval of text that no longer exists.
func (p *planStore) Write(ctx context.Context, feature, content string) error {
	if !p.featureExists(feature) {
		return fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	lock, err := p.lockFeature(feature)
	if err != nil {
		return err
	}
	defer lock.Release()

	old, err := os.ReadFile(p.cfg.PlanPath(feature))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if string(old) == content {
		return nil
	}

	if err := fsatomic.WriteAtomic(p.cfg.PlanPath(feature), []byte(content)); err != nil {
		return err
	}
	if err := p.revokeLocked(feature); err != nil {
		return err
	}
	if err := p.clearCommentsLocked(feature); err != nil {
		return err
	}
	debug.LogEvent(p.cfg.Root(), "PLAN_WRITE", feature, p.sessionID, "")
	return nil
}

// Approve records approval of exactly the given content: plan text,
// content-hash approval record, and full snapshot are written together
// under the feature lock, then the feature status flips to approved.
func (p *planStore) Approve(ctx context.Context, feature, content, sessionID string) (*artifact.PlanApproval, error) {
	if !p.featureExists(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	lock, err := p.lockFeature(feature)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	old, err := os.ReadFile(p.cfg.PlanPath(feature))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := fsatomic.WriteAtomic(p.cfg.PlanPath(feature), []byte(content)); err != nil {
		return nil, err
	}
	if string(old) != content {
		// Approving a revision the reviewers have not seen clears their
		// comments along with it.
		if err := p.clearCommentsLocked(feature); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	approval := artifact.EncodePlanApproval(storage.PlanHash(content), now, sessionID)
	if err := fsatomic.WriteJSONAtomic(p.cfg.ApprovalPath(feature), approval); err != nil {
		return nil, err
	}
	snapshot := artifact.EncodeApprovedPlan(content, now)
	if err := fsatomic.WriteJSONAtomic(p.cfg.ApprovedPlanPath(feature), snapshot); err != nil {
		return nil, err
	}

	if err := p.setFeatureApproval(feature, &now, sessionID); err != nil {
		return nil, err
	}
	debug.LogEvent(p.cfg.Root(), "PLAN_APPROVE", feature, sessionID, approval.Hash[:12])
	return &approval, nil
}

// Revoke clears the approval record and resets the feature to planning.
// Revoking an unapproved feature is a no-op.
func (p *planStore) Revoke(ctx context.Context, feature string) error {
	if !p.featureExists(feature) {
		return fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	lock, err := p.lockFeature(feature)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := p.revokeLocked(feature); err != nil {
		return err
	}
	debug.LogEvent(p.cfg.Root(), "PLAN_REVOKE", feature, p.sessionID, "")
	return nil
}

// revokeLocked removes approval artifacts and resets status. Caller holds
// the feature lock; the feature state file is rewritten directly.
func (p *planStore) revokeLocked(feature string) error {
	hadApproval := false
	if _, err := os.Stat(p.cfg.ApprovalPath(feature)); err == nil {
		hadApproval = true
	}
	for _, path := range []string{p.cfg.ApprovalPath(feature), p.cfg.ApprovedPlanPath(feature)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	data, err := os.ReadFile(p.cfg.FeatureStatePath(feature))
	if err != nil {
		return err
	}
	state := artifact.DecodeFeatureState(data)
	if state == nil {
		return fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	if hadApproval || state.Feature.Status == types.FeatureApproved {
		state.Feature.Status = types.FeaturePlanning
		state.Feature.ApprovedAt = nil
		return fsatomic.WriteJSONAtomic(p.cfg.FeatureStatePath(feature), state)
	}
	return nil
}

// setFeatureApproval flips feature state to approved. Caller holds the
// feature lock.
func (p *planStore) setFeatureApproval(feature string, at *time.Time, sessionID string) error {
	data, err := os.ReadFile(p.cfg.FeatureStatePath(feature))
	if err != nil {
		return err
	}
	state := artifact.DecodeFeatureState(data)
	if state == nil {
		return fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	state.Feature.Status = types.FeatureApproved
	state.Feature.ApprovedAt = at
	if sessionID != "" {
		state.Feature.SessionID = sessionID
	}
	return fsatomic.WriteJSONAtomic(p.cfg.FeatureStatePath(feature), state)
}

// IsApproved recomputes the hash of the current plan text and compares it
// to the stored approval. Any edit since approval makes this false without
// an explicit revoke.
func (p *planStore) IsApproved(ctx context.Context, feature string) (bool, error) {
	approval, err := p.Approval(ctx, feature)
	if err != nil {
		return false, err
	}
	content, err := p.Read(ctx, feature)
	if err != nil {
		return false, err
	}
	return storage.ApprovalMatches(approval, content), nil
}

func (p *planStore) Approval(ctx context.Context, feature string) (*artifact.PlanApproval, error) {
	if !p.featureExists(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	data, err := os.ReadFile(p.cfg.ApprovalPath(feature))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return artifact.DecodePlanApproval(data), nil
}

func (p *planStore) Comments(ctx context.Context, feature string) ([]types.PlanComment, error) {
	if !p.featureExists(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	data, err := os.ReadFile(p.cfg.CommentsPath(feature))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	decoded := artifact.DecodePlanComments(data)
	if decoded == nil {
		debug.Warnf("local: undecodable comments for %q\n", feature)
		return nil, nil
	}
	return decoded.Comments, nil
}

func (p *planStore) AddComment(ctx context.Context, feature string, line int, body, author string) (*types.PlanComment, error) {
	if !p.featureExists(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	if line < 1 {
		return nil, storage.Validationf("comment line %d: lines are 1-based", line)
	}
	comment := types.PlanComment{
		ID:        "c-" + uuid.NewString()[:8],
		Line:      line,
		Body:      body,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
	_, err := fsatomic.UpdateLocked(p.cfg.CommentsPath(feature), p.lockOpts(),
		artifact.EncodePlanComments(nil), func(cur artifact.PlanComments) (artifact.PlanComments, error) {
			cur.SchemaVersion = artifact.SchemaVersion
			cur.Comments = append(cur.Comments, comment)
			return cur, nil
		})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func (p *planStore) ClearComments(ctx context.Context, feature string) error {
	if !p.featureExists(feature) {
		return fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	return p.clearCommentsLocked(feature)
}

// clearCommentsLocked rewrites the comments artifact as empty. It takes the
// comments lock (not the feature lock), so it is safe whether or not the
// caller holds the feature lock; the ordering feature-then-comments is the
// only one used anywhere.
func (p *planStore) clearCommentsLocked(feature string) error {
	_, err := fsatomic.UpdateLocked(p.cfg.CommentsPath(feature), p.lockOpts(),
		artifact.EncodePlanComments(nil), func(artifact.PlanComments) (artifact.PlanComments, error) {
			return artifact.EncodePlanComments(nil), nil
		})
	return err
}
