package registry

import (
	"fmt"
	"sort"

	"github.com/aristath/taskregistry/internal/task"
	"github.com/gammazero/toposort"
)

// topoOrder sorts the known tasks so every task comes after its known
// dependencies. Dependencies on ids outside tasks are ignored.
// Returns an error if the known part of the graph contains a cycle.
func topoOrder(tasks map[string]*task.Task) ([]string, error) {
	var edges []toposort.Edge
	for _, t := range sortedTasks(tasks) {
		known := 0
		for _, depID := range t.Dependencies {
			if _, exists := tasks[depID]; !exists {
				continue
			}
			// Edge (depID, taskID) means depID must come before taskID
			edges = append(edges, toposort.Edge{depID, t.ID})
			known++
		}
		if known == 0 {
			// Root task: edge from nil keeps it in the result
			edges = append(edges, toposort.Edge{nil, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// checkAcyclic verifies that placing candidate into tasks keeps the known
// dependency graph acyclic. tasks itself is not modified.
func checkAcyclic(tasks map[string]*task.Task, candidate *task.Task) error {
	merged := make(map[string]*task.Task, len(tasks)+1)
	for id, t := range tasks {
		merged[id] = t
	}
	merged[candidate.ID] = candidate

	if _, err := topoOrder(merged); err != nil {
		cycle := findCycle(merged, candidate.ID)
		return &task.ValidationError{
			Field:   "dependencies",
			Message: fmt.Sprintf("dependency cycle through %q: %v", candidate.ID, cycle),
		}
	}
	return nil
}

// findCycle walks dependencies from start and returns the first path that
// leads back to it, for error messages.
func findCycle(tasks map[string]*task.Task, start string) []string {
	visited := make(map[string]bool)
	var path []string

	var walk func(id string) bool
	walk = func(id string) bool {
		path = append(path, id)
		t, exists := tasks[id]
		if exists {
			for _, depID := range t.Dependencies {
				if depID == start {
					path = append(path, depID)
					return true
				}
				if visited[depID] {
					continue
				}
				visited[depID] = true
				if walk(depID) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if walk(start) {
		return path
	}
	return nil
}

// refreshBlocks recomputes every task's Blocks by inverting dependencies.
func refreshBlocks(tasks map[string]*task.Task) {
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, depID := range t.Dependencies {
			dependents[depID] = append(dependents[depID], t.ID)
		}
	}
	for id, t := range tasks {
		blocks := dependents[id]
		sort.Strings(blocks)
		if blocks == nil {
			blocks = []string{}
		}
		t.Blocks = blocks
	}
}

// sortedTasks returns tasks ordered by creation time, then id.
func sortedTasks(tasks map[string]*task.Task) []*task.Task {
	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t)
	}
	sortByCreation(out)
	return out
}

func sortByCreation(tasks []*task.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
