package ledgerstore

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/fsatomic"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/types"
)

const reportPrefix = "task-report/"

type taskStore struct {
	*store
}

func (t *taskStore) Create(ctx context.Context, feature string, task types.Task) (*types.Task, error) {
	created, err := t.cache.Tasks.Create(ctx, feature, task)
	if err != nil {
		return nil, err
	}
	if err := t.mirrorTask(ctx, feature, created, true); err != nil {
		return nil, err
	}
	return created, nil
}

func (t *taskStore) Get(ctx context.Context, feature, folder string) (*types.Task, error) {
	epicID, err := t.epicID(ctx, feature)
	if err != nil {
		return nil, err
	}
	state, err := t.gw.GetTaskState(ctx, epicID, folder)
	if degraded, cerr := t.checkRead(err); cerr != nil {
		return nil, cerr
	} else if degraded {
		return nil, fmt.Errorf("task %q: %w", folder, storage.ErrNotFound)
	}
	if state == nil {
		// Pre-mirror task: push the cached state up on first read.
		local, err := t.cache.Tasks.Get(ctx, feature, folder)
		if err != nil {
			return nil, err
		}
		if err := t.checkWrite(t.gw.SetTaskState(ctx, epicID, artifact.EncodeTaskState(*local))); err != nil {
			return nil, err
		}
		return local, nil
	}
	t.writeTaskCache(feature, state.Task)
	return &state.Task, nil
}

func (t *taskStore) List(ctx context.Context, feature string) ([]*types.Task, error) {
	epicID, err := t.epicID(ctx, feature)
	if err != nil {
		return nil, err
	}
	states, err := t.gw.ListTasksForEpic(ctx, epicID)
	if degraded, cerr := t.checkRead(err); cerr != nil {
		return nil, cerr
	} else if degraded {
		return nil, nil
	}

	seen := make(map[string]bool, len(states))
	var tasks []*types.Task
	for _, s := range states {
		seen[s.Folder] = true
		t.writeTaskCache(feature, s.Task)
		task := s.Task
		tasks = append(tasks, &task)
	}

	// Cached tasks the ledger has never seen are migrated in passing.
	cached, err := t.cache.Tasks.List(ctx, feature)
	if err != nil {
		return nil, err
	}
	for _, c := range cached {
		if seen[c.Folder] {
			continue
		}
		if err := t.checkWrite(t.gw.SetTaskState(ctx, epicID, artifact.EncodeTaskState(*c))); err != nil {
			return nil, err
		}
		tasks = append(tasks, c)
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

func (t *taskStore) SyncFromPlan(ctx context.Context, feature string, specs []storage.TaskSpec) ([]*types.Task, error) {
	created, err := t.cache.Tasks.SyncFromPlan(ctx, feature, specs)
	if err != nil {
		return nil, err
	}
	for _, task := range created {
		if err := t.mirrorTask(ctx, feature, task, true); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (t *taskStore) UpdateStatus(ctx context.Context, feature, folder string, status types.TaskStatus, summary string) (*types.Task, error) {
	task, err := t.cache.Tasks.UpdateStatus(ctx, feature, folder, status, summary)
	if err != nil {
		return nil, err
	}
	if err := t.mirrorTask(ctx, feature, task, false); err != nil {
		return nil, err
	}
	if status == types.TaskDone && task.ExternalID != "" {
		if err := t.checkWrite(t.gw.CloseBead(ctx, task.ExternalID, "task done")); err != nil {
			return nil, err
		}
	}
	return task, nil
}

func (t *taskStore) PatchState(ctx context.Context, feature, folder string, patch map[string]any) error {
	if err := t.cache.Tasks.PatchState(ctx, feature, folder, patch); err != nil {
		return err
	}
	merged, err := t.cache.Tasks.Get(ctx, feature, folder)
	if err != nil {
		return err
	}
	return t.mirrorTask(ctx, feature, merged, false)
}

func (t *taskStore) SaveReport(ctx context.Context, feature, folder, content string, status types.TaskStatus) error {
	if err := t.cache.Tasks.SaveReport(ctx, feature, folder, content, status); err != nil {
		return err
	}
	epicID, err := t.epicID(ctx, feature)
	if err != nil {
		if ledger.IsInit(err) {
			return err
		}
		debug.Warnf("ledgerstore: report for %s/%s not mirrored: %v\n", feature, folder, err)
		return nil
	}
	raw, err := os.ReadFile(t.cfg.TaskReportPath(feature, folder))
	if err != nil {
		return err
	}
	return t.checkWrite(t.gw.UpsertArtifact(ctx, epicID, reportPrefix+folder, raw))
}

func (t *taskStore) LoadReport(ctx context.Context, feature, folder string) (*artifact.TaskReport, error) {
	epicID, err := t.epicID(ctx, feature)
	if err != nil {
		return nil, err
	}
	raw, err := t.gw.ReadArtifact(ctx, epicID, reportPrefix+folder)
	if degraded, cerr := t.checkRead(err); cerr != nil {
		return nil, cerr
	} else if degraded {
		return nil, nil
	}
	if raw == nil {
		return t.cache.Tasks.LoadReport(ctx, feature, folder)
	}
	report := artifact.DecodeTaskReport(raw)
	if report == nil {
		debug.Warnf("ledgerstore: undecodable report artifact %s/%s\n", feature, folder)
		return nil, nil
	}
	if err := fsatomic.WriteJSONAtomic(t.cfg.TaskReportPath(feature, folder), report); err != nil {
		debug.Warnf("ledgerstore: report cache write for %s/%s failed: %v\n", feature, folder, err)
	}
	return report, nil
}

// mirrorTask pushes the task state artifact. When register is set and the
// task has no bead yet, a ledger task bead is created under the epic and
// its ID recorded in both stores.
func (t *taskStore) mirrorTask(ctx context.Context, feature string, task *types.Task, register bool) error {
	epicID, err := t.epicID(ctx, feature)
	if err != nil {
		if ledger.IsInit(err) {
			return err
		}
		debug.Warnf("ledgerstore: task %s/%s not mirrored: %v\n", feature, task.Folder, err)
		return nil
	}

	if register && task.ExternalID == "" {
		beadID, err := t.gw.CreateTask(ctx, epicID, *task)
		if err := t.checkWrite(err); err != nil {
			return err
		}
		if beadID != "" {
			task.ExternalID = beadID
			t.writeTaskCache(feature, *task)
		}
	}
	return t.checkWrite(t.gw.SetTaskState(ctx, epicID, artifact.EncodeTaskState(*task)))
}

// writeTaskCache rewrites the cached task state, best effort.
func (t *taskStore) writeTaskCache(feature string, task types.Task) {
	if err := os.MkdirAll(t.cfg.TaskDir(feature, task.Folder), 0o755); err != nil {
		debug.Warnf("ledgerstore: task cache dir for %s/%s failed: %v\n", feature, task.Folder, err)
		return
	}
	state := artifact.EncodeTaskState(task)
	if err := fsatomic.WriteJSONAtomic(t.cfg.TaskStatePath(feature, task.Folder), state); err != nil {
		debug.Warnf("ledgerstore: task cache write for %s/%s failed: %v\n", feature, task.Folder, err)
	}
}
