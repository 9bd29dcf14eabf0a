// Package dispatch runs a feature's ready tasks through a caller-supplied
// runner with bounded concurrency. Dependency resolution decides what is
// ready; the dispatcher claims each task, runs it, and records the outcome.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stewardhq/steward/internal/debug"
	"github.com/stewardhq/steward/internal/deps"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/types"
)

// Runner executes one claimed task and reports the resulting status with a
// short summary. A returned error marks the task failed. The status must be
// terminal (done, failed, cancelled, partial); anything else is recorded as
// failed, since a task left pending would be claimed again on the next wave.
type Runner func(ctx context.Context, task types.Task) (types.TaskStatus, string, error)

// Result is the recorded outcome of one task attempt.
type Result struct {
	Folder string
	Status types.TaskStatus
	Err    error
}

// Dispatcher fans ready tasks out to a runner.
type Dispatcher struct {
	store  *storage.Store
	runner Runner
	limit  int
}

// New builds a dispatcher. limit caps concurrent runners; values below 1
// mean one at a time.
func New(store *storage.Store, runner Runner, limit int) *Dispatcher {
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{store: store, runner: runner, limit: limit}
}

func refs(tasks []*types.Task) []deps.TaskRef {
	out := make([]deps.TaskRef, len(tasks))
	for i, t := range tasks {
		out[i] = deps.TaskRef{Folder: t.Folder, Status: t.Status, DependsOn: t.DependsOn}
	}
	return out
}

// Resolve computes the ready/blocked partition for a task list.
func Resolve(tasks []*types.Task) deps.Resolution {
	return deps.Resolve(refs(tasks))
}

// Validate reports folder naming problems across a feature's tasks, one
// error per unparseable folder or duplicated order prefix.
func Validate(tasks []*types.Task) []error {
	return deps.ValidateFolders(refs(tasks))
}

// RunWave executes every currently-runnable task of the feature once and
// returns the outcomes. Tasks unblocked by this wave are picked up by the
// next call; RunToCompletion loops for that.
func (d *Dispatcher) RunWave(ctx context.Context, feature string) ([]Result, error) {
	tasks, err := d.store.Tasks.List(ctx, feature)
	if err != nil {
		return nil, err
	}
	byFolder := make(map[string]types.Task, len(tasks))
	for _, t := range tasks {
		byFolder[t.Folder] = *t
	}

	res := Resolve(tasks)
	if len(res.Runnable) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.limit)
	for _, folder := range res.Runnable {
		task := byFolder[folder]
		g.Go(func() error {
			r := d.runOne(gctx, feature, task)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			if storage.IsInit(r.Err) {
				// Backend is gone; stop the wave.
				return r.Err
			}
			return nil
		})
	}
	err = g.Wait()
	return results, err
}

// runOne claims, runs, and records a single task. Runner failures are
// captured in the result, not returned: one bad task never aborts the wave.
func (d *Dispatcher) runOne(ctx context.Context, feature string, task types.Task) Result {
	if _, err := d.store.Tasks.UpdateStatus(ctx, feature, task.Folder, types.TaskInProgress, ""); err != nil {
		return Result{Folder: task.Folder, Status: task.Status, Err: err}
	}

	status, summary, runErr := d.runner(ctx, task)
	if runErr != nil {
		debug.Warnf("dispatch: task %s/%s failed: %v\n", feature, task.Folder, runErr)
		status = types.TaskFailed
		if summary == "" {
			summary = runErr.Error()
		}
	}
	if !status.IsTerminal() {
		debug.Warnf("dispatch: task %s/%s reported non-terminal status %q\n", feature, task.Folder, status)
		status = types.TaskFailed
	}

	if _, err := d.store.Tasks.UpdateStatus(ctx, feature, task.Folder, status, summary); err != nil {
		return Result{Folder: task.Folder, Status: status, Err: err}
	}
	return Result{Folder: task.Folder, Status: status, Err: runErr}
}

// RunToCompletion runs waves until no task is runnable. Tasks whose
// dependencies ended in anything but done stay blocked and are reported in
// the final resolution.
func (d *Dispatcher) RunToCompletion(ctx context.Context, feature string) ([]Result, deps.Resolution, error) {
	var all []Result
	for {
		if err := ctx.Err(); err != nil {
			return all, deps.Resolution{}, err
		}
		wave, err := d.RunWave(ctx, feature)
		all = append(all, wave...)
		if err != nil {
			return all, deps.Resolution{}, err
		}
		if len(wave) == 0 {
			break
		}
	}
	tasks, err := d.store.Tasks.List(ctx, feature)
	if err != nil {
		return all, deps.Resolution{}, err
	}
	return all, Resolve(tasks), nil
}
