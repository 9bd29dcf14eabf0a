package ledgerstore

import (
	"context"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/fsatomic"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/types"
)

// planStore keeps the plan draft itself in the working tree (editing a
// plan is a local activity) while approval records, approved-plan
// snapshots, and review comments are mirrored through the ledger.
type planStore struct {
	*store
}

func (p *planStore) Read(ctx context.Context, feature string) (string, error) {
	return p.cache.Plans.Read(ctx, feature)
}

func (p *planStore) Write(ctx context.Context, feature, content string) error {
	old, err := p.cache.Plans.Read(ctx, feature)
	if err != nil {
		return err
	}
	if old == content {
		return nil
	}
	// The cache write revokes locally; mirror the revocation so no other
	// process sees a stale ledger approval of text that changed.
	if err := p.cache.Plans.Write(ctx, feature, content); err != nil {
		return err
	}
	return p.mirrorRevocation(ctx, feature)
}

func (p *planStore) Approve(ctx context.Context, feature, content, sessionID string) (*artifact.PlanApproval, error) {
	approval, err := p.cache.Plans.Approve(ctx, feature, content, sessionID)
	if err != nil {
		return nil, err
	}

	epicID, err := p.epicID(ctx, feature)
	if err != nil {
		if ledger.IsInit(err) {
			return nil, err
		}
		debug.Warnf("ledgerstore: approval for %q not mirrored: %v\n", feature, err)
		return approval, nil
	}
	if err := p.checkWrite(p.gw.SetPlanApproval(ctx, epicID, approval)); err != nil {
		return nil, err
	}
	snapshot := artifact.EncodeApprovedPlan(content, approval.ApprovedAt)
	if err := p.checkWrite(p.gw.SetApprovedPlan(ctx, epicID, &snapshot)); err != nil {
		return nil, err
	}
	cached, err := p.cache.Features.Get(ctx, feature)
	if err != nil {
		return nil, err
	}
	if err := p.mirrorFeature(ctx, feature, *cached); err != nil {
		return nil, err
	}
	return approval, nil
}

func (p *planStore) Revoke(ctx context.Context, feature string) error {
	if err := p.cache.Plans.Revoke(ctx, feature); err != nil {
		return err
	}
	return p.mirrorRevocation(ctx, feature)
}

// mirrorRevocation clears approval-related artifacts ledger-side and
// refreshes the mirrored feature state.
func (p *planStore) mirrorRevocation(ctx context.Context, feature string) error {
	epicID, err := p.epicID(ctx, feature)
	if err != nil {
		if ledger.IsInit(err) {
			return err
		}
		debug.Warnf("ledgerstore: revocation for %q not mirrored: %v\n", feature, err)
		return nil
	}
	if err := p.checkWrite(p.gw.SetPlanApproval(ctx, epicID, nil)); err != nil {
		return err
	}
	if err := p.checkWrite(p.gw.SetApprovedPlan(ctx, epicID, nil)); err != nil {
		return err
	}
	if err := p.checkWrite(p.gw.SetPlanComments(ctx, epicID, artifact.EncodePlanComments(nil))); err != nil {
		return err
	}
	cached, err := p.cache.Features.Get(ctx, feature)
	if err != nil {
		return err
	}
	return p.mirrorFeature(ctx, feature, *cached)
}

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

// Approval reads the canonical approval record from the ledger. A record
// that exists only in the local cache (written before this feature was
// mirrored) is pushed up on first read.
func (p *planStore) Approval(ctx context.Context, feature string) (*artifact.PlanApproval, error) {
	epicID, err := p.epicID(ctx, feature)
	if err != nil {
		return nil, err
	}
	approval, err := p.gw.GetPlanApproval(ctx, epicID)
	if degraded, cerr := p.checkRead(err); cerr != nil {
		return nil, cerr
	} else if degraded {
		return nil, nil
	}
	if approval == nil {
		local, err := p.cache.Plans.Approval(ctx, feature)
		if err != nil || local == nil {
			return nil, err
		}
		if err := p.checkWrite(p.gw.SetPlanApproval(ctx, epicID, local)); err != nil {
			return nil, err
		}
		return local, nil
	}
	if err := fsatomic.WriteJSONAtomic(p.cfg.ApprovalPath(feature), approval); err != nil {
		debug.Warnf("ledgerstore: approval cache write for %q failed: %v\n", feature, err)
	}
	return approval, nil
}

func (p *planStore) Comments(ctx context.Context, feature string) ([]types.PlanComment, error) {
	epicID, err := p.epicID(ctx, feature)
	if err != nil {
		return nil, err
	}
	set, err := p.gw.GetPlanComments(ctx, epicID)
	if degraded, cerr := p.checkRead(err); cerr != nil {
		return nil, cerr
	} else if degraded {
		return nil, nil
	}
	if set == nil {
		local, err := p.cache.Plans.Comments(ctx, feature)
		if err != nil || len(local) == 0 {
			return nil, err
		}
		if err := p.checkWrite(p.gw.SetPlanComments(ctx, epicID, artifact.EncodePlanComments(local))); err != nil {
			return nil, err
		}
		return local, nil
	}
	if err := fsatomic.WriteJSONAtomic(p.cfg.CommentsPath(feature), set); err != nil {
		debug.Warnf("ledgerstore: comments cache write for %q failed: %v\n", feature, err)
	}
	return set.Comments, nil
}

func (p *planStore) AddComment(ctx context.Context, feature string, line int, body, author string) (*types.PlanComment, error) {
	comment, err := p.cache.Plans.AddComment(ctx, feature, line, body, author)
	if err != nil {
		return nil, err
	}
	all, err := p.cache.Plans.Comments(ctx, feature)
	if err != nil {
		return nil, err
	}
	if err := p.mirrorComments(ctx, feature, all); err != nil {
		return nil, err
	}
	return comment, nil
}

func (p *planStore) ClearComments(ctx context.Context, feature string) error {
	if err := p.cache.Plans.ClearComments(ctx, feature); err != nil {
		return err
	}
	return p.mirrorComments(ctx, feature, nil)
}

func (p *planStore) mirrorComments(ctx context.Context, feature string, comments []types.PlanComment) error {
	epicID, err := p.epicID(ctx, feature)
	if err != nil {
		if ledger.IsInit(err) {
			return err
		}
		debug.Warnf("ledgerstore: comments for %q not mirrored: %v\n", feature, err)
		return nil
	}
	return p.checkWrite(p.gw.SetPlanComments(ctx, epicID, artifact.EncodePlanComments(comments)))
}
