package local

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/fsatomic"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/types"
)

func newTestStore(t *testing.T) (*storage.Store, *config.Config) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	return New(cfg, "sess-test"), cfg
}

func mustCreateFeature(t *testing.T, s *storage.Store, name string) {
	t.Helper()
	_, err := s.Features.Create(context.Background(), name, types.WorkflowStandard, "", "sess-test")
	require.NoError(t, err)
}

func TestFeatureCreateGetList(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	f, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "TICK-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, types.FeaturePlanning, f.Status)
	assert.NotEmpty(t, f.ExternalID)
	assert.Equal(t, "TICK-1", f.Ticket)

	_, err = s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.ErrorIs(t, err, storage.ErrExists)

	_, err = s.Features.Create(ctx, "a/b", types.WorkflowStandard, "", "")
	assert.True(t, storage.IsValidation(err))

	mustCreateFeature(t, s, "billing")
	list, err := s.Features.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "billing", list[0].Name)
	assert.Equal(t, "login", list[1].Name)

	_, err = s.Features.Get(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFeatureCreateConcurrentSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	const racers = 8

	var wg sync.WaitGroup
	features := make(chan *types.Feature, racers)
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
			if err != nil {
				errs <- err
				return
			}
			features <- f
		}()
	}
	wg.Wait()
	close(features)
	close(errs)

	require.Len(t, features, 1)
	winner := <-features
	for err := range errs {
		require.ErrorIs(t, err, storage.ErrExists)
	}

	// The surviving state is the winner's, not a later overwrite.
	got, err := s.Features.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, winner.ExternalID, got.ExternalID)
}

func TestFeatureSetStatusRejectsApproved(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	_, err := s.Features.SetStatus(ctx, "login", types.FeatureApproved)
	assert.True(t, storage.IsValidation(err))

	f, err := s.Features.SetStatus(ctx, "login", types.FeatureExecuting)
	require.NoError(t, err)
	assert.Equal(t, types.FeatureExecuting, f.Status)
}

func TestFeatureComplete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	f, err := s.Features.Complete(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, types.FeatureCompleted, f.Status)
	require.NotNil(t, f.CompletedAt)
}

func TestPlanApproveAndRevoke(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	approval, err := s.Plans.Approve(ctx, "login", "plan v1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, storage.PlanHash("plan v1"), approval.Hash)

	ok, err := s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.True(t, ok)

	f, err := s.Features.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, types.FeatureApproved, f.Status)
	require.NotNil(t, f.ApprovedAt)

	require.NoError(t, s.Plans.Revoke(ctx, "login"))
	ok, err = s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.False(t, ok)

	f, err = s.Features.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, types.FeaturePlanning, f.Status)
	assert.Nil(t, f.ApprovedAt)

	// Revoking again is a no-op.
	require.NoError(t, s.Plans.Revoke(ctx, "login"))
}

func TestPlanWriteInvalidatesApproval(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	_, err := s.Plans.Approve(ctx, "login", "plan v1", "sess-1")
	require.NoError(t, err)
	_, err = s.Plans.AddComment(ctx, "login", 3, "tighten this", "reviewer")
	require.NoError(t, err)

	require.NoError(t, s.Plans.Write(ctx, "login", "plan v2"))

	ok, err := s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.False(t, ok)

	approval, err := s.Plans.Approval(ctx, "login")
	require.NoError(t, err)
	assert.Nil(t, approval)

	comments, err := s.Plans.Comments(ctx, "login")
	require.NoError(t, err)
	assert.Empty(t, comments)

	f, err := s.Features.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, types.FeaturePlanning, f.Status)

	// Re-approving the new revision restores approval.
	_, err = s.Plans.Approve(ctx, "login", "plan v2", "sess-1")
	require.NoError(t, err)
	ok, err = s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPlanWriteUnchangedKeepsApproval(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	_, err := s.Plans.Approve(ctx, "login", "plan v1", "sess-1")
	require.NoError(t, err)

	require.NoError(t, s.Plans.Write(ctx, "login", "plan v1"))

	ok, err := s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApprovalWithoutHashDoesNotCount(t *testing.T) {
	s, cfg := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")
	require.NoError(t, s.Plans.Write(ctx, "login", "plan v1"))

	// Simulate a legacy approval record written before hashes existed.
	require.NoError(t, fsatomic.WriteAtomic(cfg.ApprovalPath("login"),
		[]byte(`{"approved_at":"2024-01-02T03:04:05Z"}`)))

	approval, err := s.Plans.Approval(ctx, "login")
	require.NoError(t, err)
	require.NotNil(t, approval)
	assert.Empty(t, approval.Hash)

	ok, err := s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlanComments(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	_, err := s.Plans.AddComment(ctx, "login", 0, "bad line", "reviewer")
	assert.True(t, storage.IsValidation(err))

	c1, err := s.Plans.AddComment(ctx, "login", 2, "first", "alice")
	require.NoError(t, err)
	c2, err := s.Plans.AddComment(ctx, "login", 7, "second", "bob")
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)

	comments, err := s.Plans.Comments(ctx, "login")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Body)
	assert.Equal(t, 7, comments[1].Line)

	require.NoError(t, s.Plans.ClearComments(ctx, "login"))
	comments, err = s.Plans.Comments(ctx, "login")
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestTaskCreate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	task, err := s.Tasks.Create(ctx, "login", types.Task{Folder: "01-add-schema"})
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Equal(t, types.OriginManual, task.Origin)
	assert.Equal(t, "login", task.Feature)

	_, err = s.Tasks.Create(ctx, "login", types.Task{Folder: "not a folder"})
	assert.True(t, storage.IsValidation(err))

	_, err = s.Tasks.Create(ctx, "login", types.Task{Folder: "01-add-schema"})
	require.ErrorIs(t, err, storage.ErrExists)

	_, err = s.Tasks.Create(ctx, "login", types.Task{Folder: "01-other-name"})
	require.Error(t, err)
	assert.True(t, storage.IsValidation(err))
	assert.Contains(t, err.Error(), "01-other-name")
	assert.Contains(t, err.Error(), "01-add-schema")
}

func TestTaskCreateIdempotencyKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	spec := types.Task{Folder: "01-add-schema", IdempotencyKey: "retry-1"}
	first, err := s.Tasks.Create(ctx, "login", spec)
	require.NoError(t, err)

	again, err := s.Tasks.Create(ctx, "login", spec)
	require.NoError(t, err)
	assert.Equal(t, first.Folder, again.Folder)
}

func TestTaskListSortedByOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")

	for _, folder := range []string{"10-last", "02-second", "01-first"} {
		_, err := s.Tasks.Create(ctx, "login", types.Task{Folder: folder})
		require.NoError(t, err)
	}
	tasks, err := s.Tasks.List(ctx, "login")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "01-first", tasks[0].Folder)
	assert.Equal(t, "02-second", tasks[1].Folder)
	assert.Equal(t, "10-last", tasks[2].Folder)
}

func TestSyncFromPlanRequiresApproval(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")
	require.NoError(t, s.Plans.Write(ctx, "login", "plan v1"))

	_, err := s.Tasks.SyncFromPlan(ctx, "login", []storage.TaskSpec{{Title: "Add schema"}})
	require.ErrorIs(t, err, storage.ErrNotApproved)
}

func TestSyncFromPlan(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")
	_, err := s.Plans.Approve(ctx, "login", "plan v1", "sess-1")
	require.NoError(t, err)

	specs := []storage.TaskSpec{
		{Title: "Add schema", Summary: "DB migration"},
		{Title: "Wire handler", DependsOn: []string{"01-add-schema"}},
	}
	created, err := s.Tasks.SyncFromPlan(ctx, "login", specs)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "01-add-schema", created[0].Folder)
	assert.Equal(t, "02-wire-handler", created[1].Folder)
	assert.Equal(t, types.OriginFromPlan, created[0].Origin)
	assert.Equal(t, []string{"01-add-schema"}, created[1].DependsOn)

	// Re-running only fills in what is missing.
	specs = append(specs, storage.TaskSpec{Title: "Document API"})
	created, err = s.Tasks.SyncFromPlan(ctx, "login", specs)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "03-document-api", created[0].Folder)

	tasks, err := s.Tasks.List(ctx, "login")
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestUpdateStatusStampsTimes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")
	_, err := s.Tasks.Create(ctx, "login", types.Task{Folder: "01-add-schema"})
	require.NoError(t, err)

	task, err := s.Tasks.UpdateStatus(ctx, "login", "01-add-schema", types.TaskInProgress, "")
	require.NoError(t, err)
	require.NotNil(t, task.StartedAt)
	started := *task.StartedAt

	task, err = s.Tasks.UpdateStatus(ctx, "login", "01-add-schema", types.TaskDone, "all green")
	require.NoError(t, err)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, started, *task.StartedAt)
	assert.Equal(t, "all green", task.Summary)

	_, err = s.Tasks.UpdateStatus(ctx, "login", "01-add-schema", "bogus", "")
	assert.True(t, storage.IsValidation(err))

	_, err = s.Tasks.UpdateStatus(ctx, "login", "99-missing", types.TaskDone, "")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPatchStatePreservesAbsentKeys(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")
	_, err := s.Tasks.Create(ctx, "login", types.Task{
		Folder: "01-add-schema", Summary: "original", BaseCommit: "abc123",
	})
	require.NoError(t, err)

	err = s.Tasks.PatchState(ctx, "login", "01-add-schema", map[string]any{
		"summary": "patched",
	})
	require.NoError(t, err)

	task, err := s.Tasks.Get(ctx, "login", "01-add-schema")
	require.NoError(t, err)
	assert.Equal(t, "patched", task.Summary)
	assert.Equal(t, "abc123", task.BaseCommit)
}

func TestTaskReports(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")
	_, err := s.Tasks.Create(ctx, "login", types.Task{Folder: "01-add-schema"})
	require.NoError(t, err)

	report, err := s.Tasks.LoadReport(ctx, "login", "01-add-schema")
	require.NoError(t, err)
	assert.Nil(t, report)

	require.NoError(t, s.Tasks.SaveReport(ctx, "login", "01-add-schema",
		"migrated 3 tables", types.TaskDone))

	report, err = s.Tasks.LoadReport(ctx, "login", "01-add-schema")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "migrated 3 tables", report.Content)
	assert.Equal(t, types.TaskDone, report.Status)
}

func TestListSkipsCorruptTask(t *testing.T) {
	s, cfg := newTestStore(t)
	ctx := context.Background()
	mustCreateFeature(t, s, "login")
	_, err := s.Tasks.Create(ctx, "login", types.Task{Folder: "01-good"})
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(cfg.TaskDir("login", "02-bad"), 0o755))
	require.NoError(t, os.WriteFile(cfg.TaskStatePath("login", "02-bad"), []byte("{not json"), 0o644))

	tasks, err := s.Tasks.List(ctx, "login")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "01-good", tasks[0].Folder)
}
