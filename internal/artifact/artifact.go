// Package artifact defines the versioned envelope around every persisted
// payload and the decoders that migrate legacy shapes forward.
//
// Decoders never fail: they return the decoded artifact or nil, and callers
// treat nil as "no artifact yet". A payload is either the current schema
// version, a recognized legacy candidate (migrated in place), or garbage
// (dropped).
package artifact

import (
	"encoding/json"
	"time"

	"github.com/stewardhq/steward/internal/types"
)

// SchemaVersion is the current envelope version for all artifact payloads.
const SchemaVersion = 1

// FeatureState is the persisted snapshot of a feature.
type FeatureState struct {
	SchemaVersion int `json:"schema_version"`
	types.Feature
}

// TaskState is the persisted snapshot of a task.
type TaskState struct {
	SchemaVersion int `json:"schema_version"`
	types.Task
}

// PlanApproval records that a specific plan revision was approved.
// Hash is the SHA-256 hex digest of the plan text at approval time.
type PlanApproval struct {
	SchemaVersion int       `json:"schema_version"`
	Hash          string    `json:"hash"`
	ApprovedAt    time.Time `json:"approved_at"`
	SessionID     string    `json:"session_id,omitempty"`
}

// ApprovedPlan is a full snapshot of the plan text as approved.
type ApprovedPlan struct {
	SchemaVersion int       `json:"schema_version"`
	Content       string    `json:"content"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// PlanComments is the set of review comments on the current plan revision.
type PlanComments struct {
	SchemaVersion int                 `json:"schema_version"`
	Comments      []types.PlanComment `json:"comments"`
}

// WorkerPrompt is the generated instruction text handed to a worker process.
type WorkerPrompt struct {
	SchemaVersion int       `json:"schema_version"`
	Content       string    `json:"content"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// TaskReport is a worker's free-form report on a finished task attempt.
type TaskReport struct {
	SchemaVersion int              `json:"schema_version"`
	Content       string           `json:"content"`
	GeneratedAt   time.Time        `json:"generated_at"`
	Status        types.TaskStatus `json:"status,omitempty"`
}

// versionProbe distinguishes current envelopes from legacy candidates.
// A nil SchemaVersion after unmarshal means the field was absent.
type versionProbe struct {
	SchemaVersion *int `json:"schema_version"`
}

// probe classifies raw as current, legacy (parseable JSON object/value with
// no schema_version), or junk.
type shape int

const (
	shapeJunk shape = iota
	shapeCurrent
	shapeLegacy
)

func classify(raw []byte) shape {
	if len(raw) == 0 {
		return shapeJunk
	}
	var p versionProbe
	if err := json.Unmarshal(raw, &p); err != nil {
		// Not a JSON object; could still be a legacy bare value.
		var v any
		if json.Unmarshal(raw, &v) == nil {
			return shapeLegacy
		}
		return shapeJunk
	}
	if p.SchemaVersion == nil {
		return shapeLegacy
	}
	if *p.SchemaVersion == SchemaVersion {
		return shapeCurrent
	}
	return shapeJunk
}

// EncodeFeatureState stamps the current schema version.
func EncodeFeatureState(f types.Feature) FeatureState {
	return FeatureState{SchemaVersion: SchemaVersion, Feature: f}
}

// DecodeFeatureState decodes raw into a feature state, or nil.
func DecodeFeatureState(raw []byte) *FeatureState {
	switch classify(raw) {
	case shapeCurrent:
		var s FeatureState
		if json.Unmarshal(raw, &s) != nil || s.Name == "" {
			return nil
		}
		if !s.Feature.Status.IsValid() {
			return nil
		}
		return &s
	case shapeLegacy:
		// Legacy features are the bare Feature shape, pre-envelope.
		var f types.Feature
		if json.Unmarshal(raw, &f) != nil || f.Name == "" {
			return nil
		}
		if f.Status == "" {
			f.Status = types.FeaturePlanning
		}
		if !f.Status.IsValid() {
			return nil
		}
		s := EncodeFeatureState(f)
		return &s
	default:
		return nil
	}
}

// EncodeTaskState stamps the current schema version.
func EncodeTaskState(t types.Task) TaskState {
	return TaskState{SchemaVersion: SchemaVersion, Task: t}
}

// DecodeTaskState decodes raw into a task state, or nil.
func DecodeTaskState(raw []byte) *TaskState {
	switch classify(raw) {
	case shapeCurrent:
		var s TaskState
		if json.Unmarshal(raw, &s) != nil || s.Folder == "" {
			return nil
		}
		if !s.Task.Status.IsValid() {
			return nil
		}
		return &s
	case shapeLegacy:
		var t types.Task
		if json.Unmarshal(raw, &t) != nil || t.Folder == "" {
			return nil
		}
		if t.Status == "" {
			t.Status = types.TaskPending
		}
		if !t.Status.IsValid() {
			return nil
		}
		if t.Origin == "" {
			t.Origin = types.OriginManual
		}
		s := EncodeTaskState(t)
		return &s
	default:
		return nil
	}
}

// EncodePlanApproval stamps the current schema version.
func EncodePlanApproval(hash string, approvedAt time.Time, sessionID string) PlanApproval {
	return PlanApproval{
		SchemaVersion: SchemaVersion,
		Hash:          hash,
		ApprovedAt:    approvedAt,
		SessionID:     sessionID,
	}
}

// DecodePlanApproval decodes raw into an approval record, or nil.
// A legacy approval without a hash decodes with an empty hash; approval
// checking treats that as not approved.
func DecodePlanApproval(raw []byte) *PlanApproval {
	switch classify(raw) {
	case shapeCurrent:
		var a PlanApproval
		if json.Unmarshal(raw, &a) != nil || a.ApprovedAt.IsZero() {
			return nil
		}
		return &a
	case shapeLegacy:
		var legacy struct {
			Hash       string     `json:"hash"`
			ApprovedAt *time.Time `json:"approved_at"`
			Approved   *time.Time `json:"approved"` // oldest shape used this key
			SessionID  string     `json:"session_id"`
		}
		if json.Unmarshal(raw, &legacy) != nil {
			return nil
		}
		at := legacy.ApprovedAt
		if at == nil {
			at = legacy.Approved
		}
		if at == nil {
			return nil
		}
		a := EncodePlanApproval(legacy.Hash, *at, legacy.SessionID)
		return &a
	default:
		return nil
	}
}

// decodeText handles the shared shape of text-carrying artifacts, including
// the oldest legacy form: a bare JSON string with no envelope at all.
func decodeText(raw []byte) (content string, generatedAt time.Time, ok bool) {
	switch classify(raw) {
	case shapeCurrent:
		var s struct {
			Content     string    `json:"content"`
			GeneratedAt time.Time `json:"generated_at"`
		}
		if json.Unmarshal(raw, &s) != nil {
			return "", time.Time{}, false
		}
		return s.Content, s.GeneratedAt, true
	case shapeLegacy:
		var bare string
		if json.Unmarshal(raw, &bare) == nil {
			return bare, time.Now(), true
		}
		var s struct {
			Content *string `json:"content"`
		}
		if json.Unmarshal(raw, &s) != nil || s.Content == nil {
			return "", time.Time{}, false
		}
		return *s.Content, time.Now(), true
	default:
		return "", time.Time{}, false
	}
}

// EncodeApprovedPlan stamps the current schema version.
func EncodeApprovedPlan(content string, generatedAt time.Time) ApprovedPlan {
	return ApprovedPlan{SchemaVersion: SchemaVersion, Content: content, GeneratedAt: generatedAt}
}

// DecodeApprovedPlan decodes raw into an approved-plan snapshot, or nil.
func DecodeApprovedPlan(raw []byte) *ApprovedPlan {
	content, at, ok := decodeText(raw)
	if !ok {
		return nil
	}
	p := EncodeApprovedPlan(content, at)
	return &p
}

// EncodeWorkerPrompt stamps the current schema version.
func EncodeWorkerPrompt(content string, generatedAt time.Time) WorkerPrompt {
	return WorkerPrompt{SchemaVersion: SchemaVersion, Content: content, GeneratedAt: generatedAt}
}

// DecodeWorkerPrompt decodes raw into a worker prompt, or nil.
func DecodeWorkerPrompt(raw []byte) *WorkerPrompt {
	content, at, ok := decodeText(raw)
	if !ok {
		return nil
	}
	p := EncodeWorkerPrompt(content, at)
	return &p
}

// EncodeTaskReport stamps the current schema version.
func EncodeTaskReport(content string, status types.TaskStatus, generatedAt time.Time) TaskReport {
	return TaskReport{
		SchemaVersion: SchemaVersion,
		Content:       content,
		GeneratedAt:   generatedAt,
		Status:        status,
	}
}

// DecodeTaskReport decodes raw into a task report, or nil.
func DecodeTaskReport(raw []byte) *TaskReport {
	switch classify(raw) {
	case shapeCurrent:
		var r TaskReport
		if json.Unmarshal(raw, &r) != nil {
			return nil
		}
		return &r
	case shapeLegacy:
		content, at, ok := decodeText(raw)
		if !ok {
			return nil
		}
		r := EncodeTaskReport(content, "", at)
		return &r
	default:
		return nil
	}
}

// EncodePlanComments stamps the current schema version.
func EncodePlanComments(comments []types.PlanComment) PlanComments {
	return PlanComments{SchemaVersion: SchemaVersion, Comments: comments}
}

// DecodePlanComments decodes raw into a comment set, or nil.
// The legacy shape was a bare JSON array of comments.
func DecodePlanComments(raw []byte) *PlanComments {
	switch classify(raw) {
	case shapeCurrent:
		var c PlanComments
		if json.Unmarshal(raw, &c) != nil {
			return nil
		}
		return &c
	case shapeLegacy:
		var bare []types.PlanComment
		if json.Unmarshal(raw, &bare) == nil {
			c := EncodePlanComments(bare)
			return &c
		}
		var wrapped struct {
			Comments []types.PlanComment `json:"comments"`
		}
		if json.Unmarshal(raw, &wrapped) != nil || wrapped.Comments == nil {
			return nil
		}
		c := EncodePlanComments(wrapped.Comments)
		return &c
	default:
		return nil
	}
}
