package statemachine

import (
	"context"

	"github.com/aristath/taskregistry/internal/task"
)

// GetBlockingTasks returns the existing dependencies of id that are not DONE.
// Returns *task.NotFoundError if id does not exist.
func (m *Machine) GetBlockingTasks(ctx context.Context, id string) ([]*task.Task, error) {
	view, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := view.Get(id)
	if !ok {
		return nil, &task.NotFoundError{Kind: "task", ID: id}
	}

	var out []*task.Task
	for _, blocker := range view.Blockers(t) {
		if dep, exists := view.Get(blocker.ID); exists {
			out = append(out, dep)
		}
	}
	return out, nil
}

// Blockers is GetBlockingTasks including dependency ids that do not resolve
// to any task.
func (m *Machine) Blockers(ctx context.Context, id string) ([]task.Blocker, error) {
	view, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := view.Get(id)
	if !ok {
		return nil, &task.NotFoundError{Kind: "task", ID: id}
	}
	return view.Blockers(t), nil
}

// GetBlockedTasks returns every task listing id as a dependency, whatever its state.
// Returns *task.NotFoundError if id does not exist.
func (m *Machine) GetBlockedTasks(ctx context.Context, id string) ([]*task.Task, error) {
	view, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := view.Get(id); !ok {
		return nil, &task.NotFoundError{Kind: "task", ID: id}
	}
	return view.Dependents(id), nil
}
