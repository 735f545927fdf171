// Package scheduling batches tasks into dependency-ordered waves for the
// Implementation and Testing stages.
package scheduling

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrInvalidDependency = errors.New("invalid dependency")
)

// Task is one schedulable unit: a stable id and the ids of tasks that must
// complete before it may run.
type Task struct {
	ID        string
	DependsOn []string
}

// Batch is a set of task ids with no ordering requirement between them.
type Batch []string

// Resolve partitions tasks into batches such that every task appears in
// exactly one batch, batch i depends only on batches < i, and tasks within a
// batch are sorted by id for determinism. It fails with ErrInvalidDependency
// if a dependency id is not present among tasks, and ErrCyclicDependency if
// a fixpoint is reached with tasks still unresolved.
func Resolve(tasks []Task) ([]Batch, error) {
	known := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		known[t.ID] = struct{}{}
	}

	remaining := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := known[dep]; !ok {
				return nil, fmt.Errorf("%w: task %q depends on unknown task %q", ErrInvalidDependency, t.ID, dep)
			}
		}
		remaining[t.ID] = append([]string(nil), t.DependsOn...)
	}

	done := make(map[string]struct{}, len(tasks))
	var batches []Batch

	for len(done) < len(tasks) {
		var ready []string
		for id, deps := range remaining {
			if _, already := done[id]; already {
				continue
			}
			if allSatisfied(deps, done) {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("%w: no task without unresolved prerequisites remains", ErrCyclicDependency)
		}
		sort.Strings(ready)
		for _, id := range ready {
			done[id] = struct{}{}
		}
		batches = append(batches, Batch(ready))
	}

	return batches, nil
}

func allSatisfied(deps []string, done map[string]struct{}) bool {
	for _, dep := range deps {
		if _, ok := done[dep]; !ok {
			return false
		}
	}
	return true
}
