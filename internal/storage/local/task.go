package local

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/fsatomic"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/types"
)

type taskStore struct {
	*store
}

func (t *taskStore) Create(ctx context.Context, feature string, task types.Task) (*types.Task, error) {
	if !t.featureExists(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	order, _, err := types.ParseFolder(task.Folder)
	if err != nil {
		return nil, storage.Validationf("%v", err)
	}

	// Task creation serializes on the feature lock so two concurrent
	// creates cannot both claim the same order prefix.
	lock, err := t.lockFeature(feature)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	existing, err := t.listLocked(feature)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.Folder == task.Folder {
			if task.IdempotencyKey != "" && e.IdempotencyKey == task.IdempotencyKey {
				// Retry of a create that already landed.
				return e, nil
			}
			return nil, fmt.Errorf("task %q: %w", task.Folder, storage.ErrExists)
		}
		if types.FolderOrder(e.Folder) == order {
			return nil, storage.Validationf(
				"duplicate task order prefix %02d: %s conflicts with %s",
				order, task.Folder, e.Folder)
		}
	}

	task.Feature = feature
	if task.Status == "" {
		task.Status = types.TaskPending
	}
	if !task.Status.IsValid() {
		return nil, storage.Validationf("invalid task status %q", task.Status)
	}
	if task.Origin == "" {
		task.Origin = types.OriginManual
	}

	if err := os.MkdirAll(t.cfg.TaskDir(feature, task.Folder), 0o755); err != nil {
		return nil, err
	}
	state := artifact.EncodeTaskState(task)
	if err := fsatomic.WriteJSONAtomic(t.cfg.TaskStatePath(feature, task.Folder), state); err != nil {
		return nil, err
	}
	debug.LogEvent(t.cfg.Root(), "TASK_CREATE", feature, t.sessionID, task.Folder)
	return &task, nil
}

func (t *taskStore) Get(ctx context.Context, feature, folder string) (*types.Task, error) {
	if !t.featureExists(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	data, err := os.ReadFile(t.cfg.TaskStatePath(feature, folder))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("task %q: %w", folder, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	state := artifact.DecodeTaskState(data)
	if state == nil {
		debug.Warnf("local: undecodable task state %s/%s\n", feature, folder)
		return nil, fmt.Errorf("task %q: %w", folder, storage.ErrNotFound)
	}
	return &state.Task, nil
}

func (t *taskStore) List(ctx context.Context, feature string) ([]*types.Task, error) {
	if !t.featureExists(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}
	return t.listLocked(feature)
}

// listLocked scans the tasks directory. Callers that need a consistent
// snapshot across a mutation hold the feature lock; plain reads call it
// directly.
func (t *taskStore) listLocked(feature string) ([]*types.Task, error) {
	entries, err := os.ReadDir(t.cfg.TasksDir(feature))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tasks []*types.Task
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(t.cfg.TaskStatePath(feature, e.Name()))
		if err != nil {
			continue
		}
		state := artifact.DecodeTaskState(data)
		if state == nil {
			debug.Warnf("local: skipping undecodable task %s/%s\n", feature, e.Name())
			continue
		}
		tasks = append(tasks, &state.Task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		oi, oj := types.FolderOrder(tasks[i].Folder), types.FolderOrder(tasks[j].Folder)
		if oi != oj {
			return oi < oj
		}
		return tasks[i].Folder < tasks[j].Folder
	})
	return tasks, nil
}

// SyncFromPlan materializes plan-derived tasks. It refuses to run against
// an unapproved plan and never touches tasks that already exist: re-running
// after a partial failure only fills in what is missing.
func (t *taskStore) SyncFromPlan(ctx context.Context, feature string, specs []storage.TaskSpec) ([]*types.Task, error) {
	if !t.featureExists(feature) {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotFound)
	}

	lock, err := t.lockFeature(feature)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	approved, err := t.approvedLocked(feature)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, fmt.Errorf("feature %q: %w", feature, storage.ErrNotApproved)
	}

	existing, err := t.listLocked(feature)
	if err != nil {
		return nil, err
	}
	nextOrder := 1
	bySlug := make(map[string]*types.Task, len(existing))
	for _, e := range existing {
		if o := types.FolderOrder(e.Folder); o >= nextOrder {
			nextOrder = o + 1
		}
		if _, slug, err := types.ParseFolder(e.Folder); err == nil {
			bySlug[slug] = e
		}
	}

	var created []*types.Task
	for _, spec := range specs {
		_, slug, err := types.ParseFolder(types.MakeFolder(1, spec.Title))
		if err != nil {
			return created, storage.Validationf("task title %q produces no usable folder", spec.Title)
		}
		if _, ok := bySlug[slug]; ok {
			// Already materialized by an earlier sync; the order it got
			// then is kept.
			continue
		}
		folder := types.MakeFolder(nextOrder, spec.Title)
		task := types.Task{
			Folder:    folder,
			Feature:   feature,
			Status:    types.TaskPending,
			Origin:    types.OriginFromPlan,
			DependsOn: spec.DependsOn,
			Summary:   spec.Summary,
		}
		if err := os.MkdirAll(t.cfg.TaskDir(feature, folder), 0o755); err != nil {
			return created, err
		}
		state := artifact.EncodeTaskState(task)
		if err := fsatomic.WriteJSONAtomic(t.cfg.TaskStatePath(feature, folder), state); err != nil {
			return created, err
		}
		created = append(created, &task)
		bySlug[slug] = &task
		nextOrder++
	}
	debug.LogEvent(t.cfg.Root(), "TASK_SYNC", feature, t.sessionID,
		fmt.Sprintf("%d created", len(created)))
	return created, nil
}

// approvedLocked checks approval without going through the plan store,
// since the caller already holds the feature lock.
func (t *taskStore) approvedLocked(feature string) (bool, error) {
	raw, err := os.ReadFile(t.cfg.ApprovalPath(feature))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	plan, err := os.ReadFile(t.cfg.PlanPath(feature))
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return storage.ApprovalMatches(artifact.DecodePlanApproval(raw), string(plan)), nil
}

func (t *taskStore) UpdateStatus(ctx context.Context, feature, folder string, status types.TaskStatus, summary string) (*types.Task, error) {
	if !status.IsValid() {
		return nil, storage.Validationf("invalid task status %q", status)
	}
	if _, err := t.Get(ctx, feature, folder); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next, err := fsatomic.UpdateLocked(t.cfg.TaskStatePath(feature, folder), t.lockOpts(),
		artifact.TaskState{}, func(cur artifact.TaskState) (artifact.TaskState, error) {
			if cur.Folder == "" {
				return cur, fmt.Errorf("task %q: %w", folder, storage.ErrNotFound)
			}
			cur.Status = status
			if summary != "" {
				cur.Summary = summary
			}
			switch status {
			case types.TaskInProgress:
				if cur.StartedAt == nil {
					cur.StartedAt = &now
				}
			case types.TaskDone, types.TaskFailed, types.TaskCancelled, types.TaskPartial:
				cur.CompletedAt = &now
			}
			cur.SchemaVersion = artifact.SchemaVersion
			return cur, nil
		})
	if err != nil {
		return nil, err
	}
	debug.LogEvent(t.cfg.Root(), "TASK_STATUS", feature, t.sessionID,
		fmt.Sprintf("%s %s", folder, status))
	return &next.Task, nil
}

// PatchState deep-merges a partial update into the task state file. Keys
// absent from the patch survive; an explicit null is stored as null, it
// does not delete the key.
func (t *taskStore) PatchState(ctx context.Context, feature, folder string, patch map[string]any) error {
	if _, err := t.Get(ctx, feature, folder); err != nil {
		return err
	}
	_, err := fsatomic.PatchLocked(t.cfg.TaskStatePath(feature, folder), t.lockOpts(), patch)
	return err
}

func (t *taskStore) SaveReport(ctx context.Context, feature, folder, content string, status types.TaskStatus) error {
	if _, err := t.Get(ctx, feature, folder); err != nil {
		return err
	}
	report := artifact.EncodeTaskReport(content, status, time.Now().UTC())
	if err := fsatomic.WriteJSONAtomic(t.cfg.TaskReportPath(feature, folder), report); err != nil {
		return err
	}
	debug.LogEvent(t.cfg.Root(), "TASK_REPORT", feature, t.sessionID, folder)
	return nil
}

func (t *taskStore) LoadReport(ctx context.Context, feature, folder string) (*artifact.TaskReport, error) {
	if _, err := t.Get(ctx, feature, folder); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(t.cfg.TaskReportPath(feature, folder))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return artifact.DecodeTaskReport(data), nil
}
