// Package storage defines the backend-agnostic ports for feature, plan,
// and task persistence, plus the factory that selects a backend once per
// process. Callers hold a FeatureStore/PlanStore/TaskStore and never learn
// which concrete backend is behind it.
package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when creating an entity that already exists.
var ErrExists = errors.New("already exists")

// ErrNotApproved is returned by operations that require an approved plan.
var ErrNotApproved = errors.New("plan is not approved")

// ValidationError reports invalid input detected at the storage boundary:
// duplicate task order prefixes, malformed approval hashes, bad folder
// identifiers. It propagates to the caller, never degraded.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TaskSpec describes one task derived from an approved plan.
type TaskSpec struct {
	Title     string
	Summary   string
	DependsOn []string
}

// FeatureStore persists features.
type FeatureStore interface {
	Create(ctx context.Context, name string, workflow types.WorkflowPath, ticket, sessionID string) (*types.Feature, error)
	Get(ctx context.Context, name string) (*types.Feature, error)
	List(ctx context.Context) ([]*types.Feature, error)
	SetStatus(ctx context.Context, name string, status types.FeatureStatus) (*types.Feature, error)
	Complete(ctx context.Context, name string) (*types.Feature, error)
}

// PlanStore persists plan text, approval records, and review comments.
// Write revokes any existing approval and clears comments when the content
// actually changes, within the same lock-protected operation.
type PlanStore interface {
	Read(ctx context.Context, feature string) (string, error)
	Write(ctx context.Context, feature, content string) error
	Approve(ctx context.Context, feature, content, sessionID string) (*artifact.PlanApproval, error)
	Revoke(ctx context.Context, feature string) error
	IsApproved(ctx context.Context, feature string) (bool, error)
	Approval(ctx context.Context, feature string) (*artifact.PlanApproval, error)
	Comments(ctx context.Context, feature string) ([]types.PlanComment, error)
	AddComment(ctx context.Context, feature string, line int, body, author string) (*types.PlanComment, error)
	ClearComments(ctx context.Context, feature string) error
}

// TaskStore persists tasks and task reports.
type TaskStore interface {
	Create(ctx context.Context, feature string, task types.Task) (*types.Task, error)
	Get(ctx context.Context, feature, folder string) (*types.Task, error)
	List(ctx context.Context, feature string) ([]*types.Task, error)
	SyncFromPlan(ctx context.Context, feature string, specs []TaskSpec) ([]*types.Task, error)
	UpdateStatus(ctx context.Context, feature, folder string, status types.TaskStatus, summary string) (*types.Task, error)
	PatchState(ctx context.Context, feature, folder string, patch map[string]any) error
	SaveReport(ctx context.Context, feature, folder, content string, status types.TaskStatus) error
	LoadReport(ctx context.Context, feature, folder string) (*artifact.TaskReport, error)
}

// Store bundles the three ports for one backend.
type Store struct {
	Features FeatureStore
	Plans    PlanStore
	Tasks    TaskStore
}

// IsInit reports whether err marks the backend as unusable
// (initialization-class). Such errors must reach the caller.
func IsInit(err error) bool {
	return ledger.IsInit(err)
}

var hashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// PlanHash returns the SHA-256 hex digest of plan content. This is the
// optimistic-concurrency token for approval integrity.
func PlanHash(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

// ValidHashFormat reports whether h looks like a SHA-256 hex digest.
func ValidHashFormat(h string) bool {
	return hashRe.MatchString(h)
}

// ApprovalMatches reports whether a is a well-formed approval of exactly
// the given plan content. A nil record, a missing hash, or a malformed
// hash is never a match: an approval that cannot be verified does not
// count, in either backend.
func ApprovalMatches(a *artifact.PlanApproval, content string) bool {
	if a == nil || !ValidHashFormat(a.Hash) {
		return false
	}
	return a.Hash == PlanHash(content)
}
