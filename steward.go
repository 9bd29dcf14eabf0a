// Package steward provides a minimal public API for embedding the steward
// coordination layer in Go programs.
//
// Most integrations should shell out to the steward CLI. This package
// exports only the essential types and the backend factory for programs
// that want to drive the storage layer directly.
package steward

import (
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/storage/factory"
	"github.com/stewardhq/steward/internal/types"
)

// Core types for working with features and tasks.
type (
	Feature       = types.Feature
	Task          = types.Task
	PlanComment   = types.PlanComment
	FeatureStatus = types.FeatureStatus
	TaskStatus    = types.TaskStatus
	TaskSpec      = storage.TaskSpec
)

// Feature status constants.
const (
	FeaturePlanning  = types.FeaturePlanning
	FeatureApproved  = types.FeatureApproved
	FeatureExecuting = types.FeatureExecuting
	FeatureCompleted = types.FeatureCompleted
)

// Task status constants.
const (
	TaskPending    = types.TaskPending
	TaskInProgress = types.TaskInProgress
	TaskDone       = types.TaskDone
	TaskBlocked    = types.TaskBlocked
	TaskFailed     = types.TaskFailed
)

// Store bundles the feature, plan, and task ports for one backend.
type Store = storage.Store

// Sentinel errors surfaced by the storage layer.
var (
	ErrNotFound    = storage.ErrNotFound
	ErrExists      = storage.ErrExists
	ErrNotApproved = storage.ErrNotApproved
)

// Open loads the project configuration under root and builds the
// configured backend. sessionID identifies this process in lock records
// and audit events.
func Open(root, sessionID string) (*Store, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return factory.Open(cfg, sessionID)
}
