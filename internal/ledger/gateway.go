// Package ledger defines the boundary to the external ledger: a
// command-line tool that owns canonical feature/task metadata and returns
// JSON. Stores depend on the Gateway interface only; the CLI transport is
// one implementation.
//
// Error contract: every call returns a tagged outcome via its error.
// Initialization-class failures (missing binary, uninitialized ledger
// repository, broken configuration) wrap ErrUnavailable and must be
// propagated by callers. Everything else is transient: log it, degrade to
// "no data", move on. A timed-out call is transient with an unknown
// outcome — the external process may still have completed.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/types"
)

// ErrUnavailable marks initialization-class failures: the ledger backend
// cannot be used at all. Never swallow this.
var ErrUnavailable = errors.New("ledger backend unavailable")

// ErrNotFound reports that a requested entity does not exist in the ledger.
var ErrNotFound = errors.New("not found in ledger")

// CallError carries the outcome classification for one gateway call.
type CallError struct {
	Op        string
	Err       error
	Init      bool // initialization-class, not transient
	TimedOut  bool // outcome unknown: the external process may have finished
}

func (e *CallError) Error() string {
	kind := "transient"
	if e.Init {
		kind = "init"
	}
	return fmt.Sprintf("ledger %s (%s): %v", e.Op, kind, e.Err)
}

func (e *CallError) Unwrap() error {
	if e.Init {
		return ErrUnavailable
	}
	return e.Err
}

// IsInit reports whether err is an initialization-class ledger failure.
func IsInit(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Epic is the ledger's epic-equivalent entry mirroring one feature.
type Epic struct {
	ID     string `json:"id"`
	Name   string `json:"title"`
	Status string `json:"status"`
}

// Gateway is the full capability set stores need from the ledger.
// GetEpicByName returns (nil, nil) when no epic matches.
type Gateway interface {
	GetEpicByName(ctx context.Context, name string) (*Epic, error)
	CreateEpic(ctx context.Context, name, summary string) (*Epic, error)
	CreateTask(ctx context.Context, epicID string, task types.Task) (string, error)

	GetFeatureState(ctx context.Context, epicID string) (*artifact.FeatureState, error)
	SetFeatureState(ctx context.Context, epicID string, state artifact.FeatureState) error
	GetTaskState(ctx context.Context, epicID, folder string) (*artifact.TaskState, error)
	SetTaskState(ctx context.Context, epicID string, state artifact.TaskState) error
	GetPlanApproval(ctx context.Context, epicID string) (*artifact.PlanApproval, error)
	SetPlanApproval(ctx context.Context, epicID string, approval *artifact.PlanApproval) error
	GetApprovedPlan(ctx context.Context, epicID string) (*artifact.ApprovedPlan, error)
	SetApprovedPlan(ctx context.Context, epicID string, plan *artifact.ApprovedPlan) error
	GetPlanComments(ctx context.Context, epicID string) (*artifact.PlanComments, error)
	SetPlanComments(ctx context.Context, epicID string, comments artifact.PlanComments) error

	UpsertArtifact(ctx context.Context, epicID, name string, payload []byte) error
	ReadArtifact(ctx context.Context, epicID, name string) ([]byte, error)

	ListTasksForEpic(ctx context.Context, epicID string) ([]*artifact.TaskState, error)
	CloseBead(ctx context.Context, beadID, reason string) error
	FlushArtifacts(ctx context.Context) error
	ImportArtifacts(ctx context.Context) error
}
