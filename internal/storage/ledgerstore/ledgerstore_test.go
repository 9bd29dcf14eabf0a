package ledgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/internal/artifact"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/storage/local"
	"github.com/stewardhq/steward/internal/types"
)

// fakeGateway is an in-memory Gateway. Error injection is per-op: set
// failOps["epic-list"] to make GetEpicByName fail, and so on.
type fakeGateway struct {
	epics     map[string]*ledger.Epic // by name
	artifacts map[string][]byte       // epicID + "/" + name
	closed    []string
	nextID    int
	failOps   map[string]error
	calls     []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		epics:     map[string]*ledger.Epic{},
		artifacts: map[string][]byte{},
		failOps:   map[string]error{},
	}
}

func transientErr(op string) error {
	return &ledger.CallError{Op: op, Err: errors.New("boom")}
}

func initErr(op string) error {
	return &ledger.CallError{Op: op, Init: true, Err: errors.New("no database")}
}

func (g *fakeGateway) fail(op string) error {
	g.calls = append(g.calls, op)
	return g.failOps[op]
}

func (g *fakeGateway) key(epicID, name string) string { return epicID + "/" + name }

func (g *fakeGateway) GetEpicByName(ctx context.Context, name string) (*ledger.Epic, error) {
	if err := g.fail("epic-list"); err != nil {
		return nil, err
	}
	return g.epics[name], nil
}

func (g *fakeGateway) CreateEpic(ctx context.Context, name, summary string) (*ledger.Epic, error) {
	if err := g.fail("epic-create"); err != nil {
		return nil, err
	}
	g.nextID++
	e := &ledger.Epic{ID: fmt.Sprintf("bd-%d", g.nextID), Name: name}
	g.epics[name] = e
	return e, nil
}

func (g *fakeGateway) CreateTask(ctx context.Context, epicID string, task types.Task) (string, error) {
	if err := g.fail("task-create"); err != nil {
		return "", err
	}
	g.nextID++
	return fmt.Sprintf("bd-%d", g.nextID), nil
}

func (g *fakeGateway) UpsertArtifact(ctx context.Context, epicID, name string, payload []byte) error {
	if err := g.fail("artifact-put"); err != nil {
		return err
	}
	g.artifacts[g.key(epicID, name)] = payload
	return nil
}

func (g *fakeGateway) ReadArtifact(ctx context.Context, epicID, name string) ([]byte, error) {
	if err := g.fail("artifact-get"); err != nil {
		return nil, err
	}
	return g.artifacts[g.key(epicID, name)], nil
}

func (g *fakeGateway) GetFeatureState(ctx context.Context, epicID string) (*artifact.FeatureState, error) {
	raw, err := g.ReadArtifact(ctx, epicID, "feature-state")
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodeFeatureState(raw), nil
}

func (g *fakeGateway) SetFeatureState(ctx context.Context, epicID string, state artifact.FeatureState) error {
	raw, _ := json.Marshal(state)
	return g.UpsertArtifact(ctx, epicID, "feature-state", raw)
}

func (g *fakeGateway) GetTaskState(ctx context.Context, epicID, folder string) (*artifact.TaskState, error) {
	raw, err := g.ReadArtifact(ctx, epicID, "task-state/"+folder)
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodeTaskState(raw), nil
}

func (g *fakeGateway) SetTaskState(ctx context.Context, epicID string, state artifact.TaskState) error {
	raw, _ := json.Marshal(state)
	return g.UpsertArtifact(ctx, epicID, "task-state/"+state.Folder, raw)
}

func (g *fakeGateway) GetPlanApproval(ctx context.Context, epicID string) (*artifact.PlanApproval, error) {
	raw, err := g.ReadArtifact(ctx, epicID, "plan-approval")
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodePlanApproval(raw), nil
}

func (g *fakeGateway) SetPlanApproval(ctx context.Context, epicID string, approval *artifact.PlanApproval) error {
	if approval == nil {
		if err := g.fail("artifact-put"); err != nil {
			return err
		}
		delete(g.artifacts, g.key(epicID, "plan-approval"))
		return nil
	}
	raw, _ := json.Marshal(approval)
	return g.UpsertArtifact(ctx, epicID, "plan-approval", raw)
}

func (g *fakeGateway) GetApprovedPlan(ctx context.Context, epicID string) (*artifact.ApprovedPlan, error) {
	raw, err := g.ReadArtifact(ctx, epicID, "approved-plan")
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodeApprovedPlan(raw), nil
}

func (g *fakeGateway) SetApprovedPlan(ctx context.Context, epicID string, plan *artifact.ApprovedPlan) error {
	if plan == nil {
		if err := g.fail("artifact-put"); err != nil {
			return err
		}
		delete(g.artifacts, g.key(epicID, "approved-plan"))
		return nil
	}
	raw, _ := json.Marshal(plan)
	return g.UpsertArtifact(ctx, epicID, "approved-plan", raw)
}

func (g *fakeGateway) GetPlanComments(ctx context.Context, epicID string) (*artifact.PlanComments, error) {
	raw, err := g.ReadArtifact(ctx, epicID, "plan-comments")
	if err != nil || raw == nil {
		return nil, err
	}
	return artifact.DecodePlanComments(raw), nil
}

func (g *fakeGateway) SetPlanComments(ctx context.Context, epicID string, comments artifact.PlanComments) error {
	raw, _ := json.Marshal(comments)
	return g.UpsertArtifact(ctx, epicID, "plan-comments", raw)
}

func (g *fakeGateway) ListTasksForEpic(ctx context.Context, epicID string) ([]*artifact.TaskState, error) {
	if err := g.fail("artifact-list"); err != nil {
		return nil, err
	}
	var out []*artifact.TaskState
	prefix := g.key(epicID, "task-state/")
	for k, raw := range g.artifacts {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			if t := artifact.DecodeTaskState(raw); t != nil {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (g *fakeGateway) CloseBead(ctx context.Context, beadID, reason string) error {
	if err := g.fail("close"); err != nil {
		return err
	}
	g.closed = append(g.closed, beadID)
	return nil
}

func (g *fakeGateway) FlushArtifacts(ctx context.Context) error  { return g.fail("artifact-flush") }
func (g *fakeGateway) ImportArtifacts(ctx context.Context) error { return g.fail("artifact-import") }

var _ ledger.Gateway = (*fakeGateway)(nil)

func newTestStore(t *testing.T) (*storage.Store, *fakeGateway, *config.Config) {
	t.Helper()
	cfg := config.Default(t.TempDir())
	gw := newFakeGateway()
	return New(cfg, "sess-test", gw), gw, cfg
}

func TestCreateMirrorsEpic(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()

	f, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "bd-1", f.ExternalID)
	require.Contains(t, gw.epics, "login")

	state, err := gw.GetFeatureState(ctx, "bd-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "login", state.Name)

	_, err = s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.ErrorIs(t, err, storage.ErrExists)
}

func TestInitErrorPropagates(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	gw.failOps["epic-list"] = initErr("epic-list")

	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.True(t, storage.IsInit(err))
}

func TestTransientCreateDegradesToLocal(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	gw.failOps["epic-create"] = transientErr("epic-create")

	f, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)
	// No epic was minted, so the surrogate ID stays.
	assert.Contains(t, f.ExternalID, "local-")
}

func TestGetRefreshesCacheFromLedger(t *testing.T) {
	s, gw, cfg := newTestStore(t)
	ctx := context.Background()

	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)

	// Another process moved the feature forward ledger-side.
	state, err := gw.GetFeatureState(ctx, "bd-1")
	require.NoError(t, err)
	state.Feature.Status = types.FeatureExecuting
	require.NoError(t, gw.SetFeatureState(ctx, "bd-1", *state))

	f, err := s.Features.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, types.FeatureExecuting, f.Status)

	// The local cache was rewritten to match.
	cached, err := local.New(cfg, "other").Features.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, types.FeatureExecuting, cached.Status)
}

func TestGetResolvesLedgerOnlyFeature(t *testing.T) {
	first, gw, _ := newTestStore(t)
	ctx := context.Background()
	_, err := first.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)
	_, err = first.Tasks.Create(ctx, "login", types.Task{Folder: "01-add-schema"})
	require.NoError(t, err)

	// A second checkout shares the ledger but has no cached files.
	freshCfg := config.Default(t.TempDir())
	fresh := New(freshCfg, "sess-fresh", gw)

	f, err := fresh.Features.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, "bd-1", f.ExternalID)
	assert.Equal(t, "login", f.Name)

	tasks, err := fresh.Tasks.List(ctx, "login")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "01-add-schema", tasks[0].Folder)

	// The fresh checkout's cache was seeded by the lookup.
	cached, err := local.New(freshCfg, "sess-fresh").Features.Get(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, "bd-1", cached.ExternalID)
}

func TestGetUnknownFeatureStaysNotFound(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Features.Get(context.Background(), "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApproveMirrorsArtifacts(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)

	_, err = s.Plans.Approve(ctx, "login", "plan v1", "sess-1")
	require.NoError(t, err)

	approval, err := gw.GetPlanApproval(ctx, "bd-1")
	require.NoError(t, err)
	require.NotNil(t, approval)
	assert.Equal(t, storage.PlanHash("plan v1"), approval.Hash)

	snapshot, err := gw.GetApprovedPlan(ctx, "bd-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, "plan v1", snapshot.Content)

	ok, err := s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriteMirrorsRevocation(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)
	_, err = s.Plans.Approve(ctx, "login", "plan v1", "sess-1")
	require.NoError(t, err)

	require.NoError(t, s.Plans.Write(ctx, "login", "plan v2"))

	approval, err := gw.GetPlanApproval(ctx, "bd-1")
	require.NoError(t, err)
	assert.Nil(t, approval)

	ok, err := s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransientApprovalReadDegrades(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)
	_, err = s.Plans.Approve(ctx, "login", "plan v1", "sess-1")
	require.NoError(t, err)

	gw.failOps["artifact-get"] = transientErr("artifact-get")

	ok, err := s.Plans.IsApproved(ctx, "login")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApprovalMigratesFromCache(t *testing.T) {
	s, gw, cfg := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)

	// A pre-mirror process approved locally while the ledger was down.
	localStore := local.New(cfg, "old-sess")
	_, err = localStore.Plans.Approve(ctx, "login", "plan v1", "old-sess")
	require.NoError(t, err)

	approval, err := s.Plans.Approval(ctx, "login")
	require.NoError(t, err)
	require.NotNil(t, approval)

	mirrored, err := gw.GetPlanApproval(ctx, "bd-1")
	require.NoError(t, err)
	require.NotNil(t, mirrored)
	assert.Equal(t, approval.Hash, mirrored.Hash)
}

func TestTaskCreateRegistersBead(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)

	task, err := s.Tasks.Create(ctx, "login", types.Task{Folder: "01-add-schema"})
	require.NoError(t, err)
	assert.Equal(t, "bd-2", task.ExternalID)

	state, err := gw.GetTaskState(ctx, "bd-1", "01-add-schema")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "bd-2", state.ExternalID)
}

func TestUpdateStatusDoneClosesBead(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)
	_, err = s.Tasks.Create(ctx, "login", types.Task{Folder: "01-add-schema"})
	require.NoError(t, err)

	_, err = s.Tasks.UpdateStatus(ctx, "login", "01-add-schema", types.TaskDone, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"bd-2"}, gw.closed)
}

func TestListMergesAndMigrates(t *testing.T) {
	s, gw, cfg := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)
	_, err = s.Tasks.Create(ctx, "login", types.Task{Folder: "02-mirrored"})
	require.NoError(t, err)

	// A pre-mirror task exists only in the cache.
	localStore := local.New(cfg, "old-sess")
	_, err = localStore.Tasks.Create(ctx, "login", types.Task{Folder: "01-legacy"})
	require.NoError(t, err)

	tasks, err := s.Tasks.List(ctx, "login")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "01-legacy", tasks[0].Folder)
	assert.Equal(t, "02-mirrored", tasks[1].Folder)

	migrated, err := gw.GetTaskState(ctx, "bd-1", "01-legacy")
	require.NoError(t, err)
	require.NotNil(t, migrated)
}

func TestReportsRoundTripThroughLedger(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)
	_, err = s.Tasks.Create(ctx, "login", types.Task{Folder: "01-add-schema"})
	require.NoError(t, err)

	require.NoError(t, s.Tasks.SaveReport(ctx, "login", "01-add-schema", "did it", types.TaskDone))

	raw, err := gw.ReadArtifact(ctx, "bd-1", "task-report/01-add-schema")
	require.NoError(t, err)
	require.NotNil(t, raw)

	report, err := s.Tasks.LoadReport(ctx, "login", "01-add-schema")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "did it", report.Content)
	assert.Equal(t, types.TaskDone, report.Status)
}

func TestCompleteClosesEpic(t *testing.T) {
	s, gw, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Features.Create(ctx, "login", types.WorkflowStandard, "", "")
	require.NoError(t, err)

	_, err = s.Features.Complete(ctx, "login")
	require.NoError(t, err)
	assert.Contains(t, gw.closed, "bd-1")
}
