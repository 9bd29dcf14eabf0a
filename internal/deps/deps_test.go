package deps

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stewardhq/steward/internal/types"
)

func TestResolveExplicitDependencyMet(t *testing.T) {
	tasks := []TaskRef{
		{Folder: "01-a", Status: types.TaskDone},
		{Folder: "02-b", Status: types.TaskPending, DependsOn: []string{"01-a"}},
	}
	res := Resolve(tasks)
	if !reflect.DeepEqual(res.Runnable, []string{"02-b"}) {
		t.Errorf("runnable = %v, want [02-b]", res.Runnable)
	}
	if len(res.Blocked) != 0 {
		t.Errorf("blocked = %v, want empty", res.Blocked)
	}
}

func TestResolveImplicitSequential(t *testing.T) {
	tasks := []TaskRef{
		{Folder: "01-a", Status: types.TaskPending},
		{Folder: "02-b", Status: types.TaskPending},
	}
	res := Resolve(tasks)
	if !reflect.DeepEqual(res.Runnable, []string{"01-a"}) {
		t.Errorf("runnable = %v, want [01-a]", res.Runnable)
	}
	want := map[string][]string{"02-b": {"01-a"}}
	if !reflect.DeepEqual(res.Blocked, want) {
		t.Errorf("blocked = %v, want %v", res.Blocked, want)
	}
}

func TestResolveImplicitSkipsGaps(t *testing.T) {
	// 05-c has no explicit deps; its implicit predecessor is the nearest
	// lower prefix, not literally order-1.
	tasks := []TaskRef{
		{Folder: "01-a", Status: types.TaskDone},
		{Folder: "03-b", Status: types.TaskDone},
		{Folder: "05-c", Status: types.TaskPending},
	}
	res := Resolve(tasks)
	if !reflect.DeepEqual(res.Runnable, []string{"05-c"}) {
		t.Errorf("runnable = %v, want [05-c]", res.Runnable)
	}
}

func TestResolveNonTerminalStatusesDoNotSatisfy(t *testing.T) {
	for _, status := range []types.TaskStatus{
		types.TaskInProgress, types.TaskFailed, types.TaskCancelled, types.TaskPartial, types.TaskBlocked,
	} {
		tasks := []TaskRef{
			{Folder: "01-a", Status: status},
			{Folder: "02-b", Status: types.TaskPending},
		}
		res := Resolve(tasks)
		if len(res.Runnable) != 0 {
			t.Errorf("status %s: runnable = %v, want none", status, res.Runnable)
		}
		if !reflect.DeepEqual(res.Blocked["02-b"], []string{"01-a"}) {
			t.Errorf("status %s: blocked = %v", status, res.Blocked)
		}
	}
}

func TestResolveMissingDependencyIsUnmet(t *testing.T) {
	tasks := []TaskRef{
		{Folder: "02-b", Status: types.TaskPending, DependsOn: []string{"01-ghost"}},
	}
	res := Resolve(tasks)
	if !reflect.DeepEqual(res.Blocked["02-b"], []string{"01-ghost"}) {
		t.Errorf("blocked = %v, want unmet ghost dep", res.Blocked)
	}
}

func TestResolveDuplicatePrefixFirstRegisteredWins(t *testing.T) {
	tasks := []TaskRef{
		{Folder: "01-a", Status: types.TaskDone},
		{Folder: "02-first", Status: types.TaskDone},
		{Folder: "02-second", Status: types.TaskPending},
		{Folder: "03-c", Status: types.TaskPending},
	}
	res := Resolve(tasks)
	// 03-c's implicit dep must resolve to 02-first, which is done.
	for _, f := range res.Runnable {
		if f == "03-c" {
			return
		}
	}
	t.Errorf("03-c not runnable: runnable=%v blocked=%v", res.Runnable, res.Blocked)
}

func TestResolveIdempotent(t *testing.T) {
	tasks := []TaskRef{
		{Folder: "01-a", Status: types.TaskDone},
		{Folder: "02-b", Status: types.TaskPending},
		{Folder: "03-c", Status: types.TaskPending, DependsOn: []string{"02-b"}},
	}
	first := Resolve(tasks)
	second := Resolve(tasks)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolution not idempotent:\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

func TestValidateFoldersDuplicatePrefix(t *testing.T) {
	tasks := []TaskRef{
		{Folder: "01-a"},
		{Folder: "02-left"},
		{Folder: "02-right"},
	}
	errs := ValidateFolders(tasks)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want exactly 1: %v", len(errs), errs)
	}
	msg := errs[0].Error()
	if !strings.Contains(msg, "02-left") || !strings.Contains(msg, "02-right") {
		t.Errorf("error %q must name both folders", msg)
	}
}

func TestValidateFoldersMalformed(t *testing.T) {
	errs := ValidateFolders([]TaskRef{{Folder: "nope"}})
	if len(errs) != 1 {
		t.Fatalf("got %v, want one parse error", errs)
	}
}
