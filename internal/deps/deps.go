// Package deps computes which tasks are currently runnable. It is a pure
// function over task snapshots: no locking, no I/O, safe for any number of
// concurrent readers.
package deps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stewardhq/steward/internal/types"
)

// TaskRef is the minimal view of a task the engine needs.
type TaskRef struct {
	Folder    string
	Status    types.TaskStatus
	DependsOn []string
}

// Resolution partitions pending tasks into runnable and blocked.
// Blocked maps a task folder to the dependency folders still unmet.
type Resolution struct {
	Runnable []string
	Blocked  map[string][]string
}

// EffectiveDeps returns the dependencies that actually gate a task: its
// explicit DependsOn list when present, otherwise the implicit-sequential
// fallback — the first-registered task with the nearest lower numeric
// order prefix.
func EffectiveDeps(ref TaskRef, all []TaskRef) []string {
	if len(ref.DependsOn) > 0 {
		return ref.DependsOn
	}
	order := types.FolderOrder(ref.Folder)
	if order < 0 {
		return nil
	}

	// Only the first-registered folder for each prefix participates in
	// implicit ordering; later duplicates are ignored as targets.
	firstByOrder := firstRegistered(all)

	best := -1
	var bestFolder string
	for o, folder := range firstByOrder {
		if o < order && o > best && folder != ref.Folder {
			best = o
			bestFolder = folder
		}
	}
	if best < 0 {
		return nil
	}
	return []string{bestFolder}
}

// firstRegistered maps each numeric prefix to the first folder seen with it.
func firstRegistered(all []TaskRef) map[int]string {
	first := make(map[int]string, len(all))
	for _, t := range all {
		o := types.FolderOrder(t.Folder)
		if o < 0 {
			continue
		}
		if _, seen := first[o]; !seen {
			first[o] = t.Folder
		}
	}
	return first
}

// Resolve computes the runnable/blocked partition over tasks. Only pending
// tasks are candidates; a dependency is met only when the referenced task
// exists and is done. Resolving twice over the same input yields identical
// results.
func Resolve(tasks []TaskRef) Resolution {
	byFolder := make(map[string]TaskRef, len(tasks))
	for _, t := range tasks {
		if _, dup := byFolder[t.Folder]; !dup {
			byFolder[t.Folder] = t
		}
	}

	res := Resolution{Blocked: map[string][]string{}}
	for _, t := range tasks {
		if t.Status != types.TaskPending {
			continue
		}
		var unmet []string
		for _, dep := range EffectiveDeps(t, tasks) {
			d, ok := byFolder[dep]
			if !ok || !d.Status.SatisfiesDependency() {
				unmet = append(unmet, dep)
			}
		}
		if len(unmet) == 0 {
			res.Runnable = append(res.Runnable, t.Folder)
		} else {
			res.Blocked[t.Folder] = unmet
		}
	}

	sort.Slice(res.Runnable, func(i, j int) bool {
		oi, oj := types.FolderOrder(res.Runnable[i]), types.FolderOrder(res.Runnable[j])
		if oi != oj {
			return oi < oj
		}
		return res.Runnable[i] < res.Runnable[j]
	})
	return res
}

// ValidateFolders checks task folder identifiers for a feature: every folder
// must parse, and numeric order prefixes must be unique. Each duplicated
// prefix yields exactly one error naming all folders that share it.
func ValidateFolders(tasks []TaskRef) []error {
	var errs []error
	byOrder := make(map[int][]string)
	var orders []int

	for _, t := range tasks {
		order, _, err := types.ParseFolder(t.Folder)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(byOrder[order]) == 0 {
			orders = append(orders, order)
		}
		byOrder[order] = append(byOrder[order], t.Folder)
	}

	sort.Ints(orders)
	for _, order := range orders {
		folders := byOrder[order]
		if len(folders) > 1 {
			errs = append(errs, fmt.Errorf(
				"duplicate task order prefix %02d: %s", order, strings.Join(folders, ", ")))
		}
	}
	return errs
}
