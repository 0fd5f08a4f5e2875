package registry

import (
	"time"

	"github.com/aristath/taskregistry/internal/task"
)

// View is a read-only picture of the whole registry at one instant.
// Every accessor returns copies, so callers may not reach the backing document.
type View struct {
	tasks map[string]*task.Task
	now   time.Time
}

// Now is the timestamp the current unit of work stamps on its writes.
// For a Snapshot it is the time the snapshot was taken.
func (v *View) Now() time.Time {
	return v.now
}

// Len returns the number of tasks.
func (v *View) Len() int {
	return len(v.tasks)
}

// Get returns a copy of the task with the given id.
func (v *View) Get(id string) (*task.Task, bool) {
	t, ok := v.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of every task ordered by creation time, then id.
func (v *View) Tasks() []*task.Task {
	return v.Filter(task.Filter{})
}

// Filter returns copies of the matching tasks ordered by creation time, then id.
func (v *View) Filter(f task.Filter) []*task.Task {
	out := make([]*task.Task, 0, len(v.tasks))
	for _, t := range sortedTasks(v.tasks) {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Blockers lists the dependencies of t that are not DONE, in dependency order.
// Ids that do not resolve to a task are reported as missing.
func (v *View) Blockers(t *task.Task) []task.Blocker {
	var blockers []task.Blocker
	for _, depID := range t.Dependencies {
		dep, exists := v.tasks[depID]
		if !exists {
			blockers = append(blockers, task.Blocker{ID: depID, Missing: true})
			continue
		}
		if dep.State != task.StateDone {
			blockers = append(blockers, task.Blocker{ID: dep.ID, Title: dep.Title, State: dep.State})
		}
	}
	return blockers
}

// Dependents returns copies of the tasks that list id as a dependency.
func (v *View) Dependents(id string) []*task.Task {
	var out []*task.Task
	for _, t := range sortedTasks(v.tasks) {
		if t.DependsOn(id) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Available returns BACKLOG tasks whose dependencies all exist and are DONE.
func (v *View) Available() []*task.Task {
	var out []*task.Task
	for _, t := range sortedTasks(v.tasks) {
		if t.State == task.StateBacklog && len(v.Blockers(t)) == 0 {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Statistics counts tasks per state.
func (v *View) Statistics() Statistics {
	stats := Statistics{
		Total:   len(v.tasks),
		ByState: make(map[task.State]int, len(task.States)),
	}
	for _, state := range task.States {
		stats.ByState[state] = 0
	}
	for _, t := range v.tasks {
		stats.ByState[t.State]++
	}
	return stats
}

// Statistics summarizes the registry.
type Statistics struct {
	Total   int
	ByState map[task.State]int
}

// Count returns the number of tasks in state.
func (s Statistics) Count(state task.State) int {
	return s.ByState[state]
}

// Progress returns the fraction of tasks that are DONE, 0 for an empty registry.
func (s Statistics) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ByState[task.StateDone]) / float64(s.Total)
}
