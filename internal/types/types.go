// Package types defines core data structures for the steward coordination layer.
package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FeatureStatus is the lifecycle state of a feature.
type FeatureStatus string

const (
	FeaturePlanning  FeatureStatus = "planning"
	FeatureApproved  FeatureStatus = "approved"
	FeatureExecuting FeatureStatus = "executing"
	FeatureCompleted FeatureStatus = "completed"
)

// IsValid reports whether s is a recognized feature status.
func (s FeatureStatus) IsValid() bool {
	switch s {
	case FeaturePlanning, FeatureApproved, FeatureExecuting, FeatureCompleted:
		return true
	}
	return false
}

// WorkflowPath selects how much process a feature goes through.
type WorkflowPath string

const (
	WorkflowStandard    WorkflowPath = "standard"
	WorkflowLightweight WorkflowPath = "lightweight"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskPartial    TaskStatus = "partial"
)

// IsValid reports whether s is a recognized task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskDone, TaskBlocked,
		TaskFailed, TaskCancelled, TaskPartial:
		return true
	}
	return false
}

// IsTerminal reports whether s is a final outcome for a task run.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskDone, TaskFailed, TaskCancelled, TaskPartial:
		return true
	}
	return false
}

// SatisfiesDependency reports whether a task in this state unblocks its
// dependents. Only done counts: failed/cancelled/partial tasks do not.
func (s TaskStatus) SatisfiesDependency() bool {
	return s == TaskDone
}

// TaskOrigin records how a task came to exist.
type TaskOrigin string

const (
	OriginFromPlan TaskOrigin = "from-plan"
	OriginManual   TaskOrigin = "manual"
)

// Feature is the top-level unit of planned work.
type Feature struct {
	Name        string        `json:"name"`
	ExternalID  string        `json:"external_id,omitempty"`
	Status      FeatureStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Workflow    WorkflowPath  `json:"workflow_path,omitempty"`
	Ticket      string        `json:"ticket,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`

	// Review checklist bookkeeping carried between planning sessions.
	ChecklistDone  []string `json:"checklist_done,omitempty"`
	ChecklistOwner string   `json:"checklist_owner,omitempty"`
}

// WorkerSession tracks a background worker's claim on a task.
type WorkerSession struct {
	SessionID   string     `json:"session_id"`
	Attempt     int        `json:"attempt"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// Task is a unit of execution belonging to exactly one feature.
type Task struct {
	Folder         string         `json:"folder"`
	Feature        string         `json:"feature"`
	ExternalID     string         `json:"external_id,omitempty"`
	Status         TaskStatus     `json:"status"`
	Origin         TaskOrigin     `json:"origin"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	BaseCommit     string         `json:"base_commit,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Worker         *WorkerSession `json:"worker_session,omitempty"`
}

// PlanComment is a line-anchored review comment on a feature's plan.
// Comments are cleared whenever the plan text is rewritten.
type PlanComment struct {
	ID        string    `json:"id"`
	Line      int       `json:"line"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

var folderRe = regexp.MustCompile(`^(\d+)-([a-z0-9][a-z0-9-]*)$`)

// ParseFolder splits a task folder identifier into its numeric order prefix
// and slug. Folders look like "01-add-login" or "12-wire-metrics".
func ParseFolder(folder string) (order int, slug string, err error) {
	m := folderRe.FindStringSubmatch(folder)
	if m == nil {
		return 0, "", fmt.Errorf("invalid task folder %q: want <order>-<slug>", folder)
	}
	order, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, "", fmt.Errorf("invalid task folder %q: %w", folder, err)
	}
	return order, m[2], nil
}

// FolderOrder returns the numeric order prefix, or -1 if the folder
// does not parse.
func FolderOrder(folder string) int {
	order, _, err := ParseFolder(folder)
	if err != nil {
		return -1
	}
	return order
}

// MakeFolder builds a folder identifier from an order and a title.
// The title is slugified: lowercased, non-alphanumerics collapsed to dashes.
func MakeFolder(order int, title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		s = "task"
	}
	return fmt.Sprintf("%02d-%s", order, s)
}
