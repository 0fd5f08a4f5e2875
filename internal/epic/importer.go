package epic

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/taskregistry/internal/task"
	"github.com/gammazero/toposort"
)

// Creator is the registry contract the importer needs.
type Creator interface {
	CreateTask(ctx context.Context, spec task.Spec) (*task.Task, error)
}

// Result reports what an import did.
type Result struct {
	Created []string // Ids created, in creation order
	Skipped []string // Ids that already existed
}

// Order returns the epic's specs sorted so dependencies inside the epic come
// first. Dependencies on ids outside the epic do not constrain the order.
func (e *Epic) Order() ([]task.Spec, error) {
	byID := make(map[string]task.Spec, len(e.Specs))
	for _, spec := range e.Specs {
		byID[spec.ID] = spec
	}

	var edges []toposort.Edge
	for _, spec := range e.Specs {
		internal := 0
		for _, depID := range spec.Dependencies {
			if _, ok := byID[depID]; ok {
				edges = append(edges, toposort.Edge{depID, spec.ID})
				internal++
			}
		}
		if internal == 0 {
			edges = append(edges, toposort.Edge{nil, spec.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("epic contains a dependency cycle: %w", err)
	}

	ordered := make([]task.Spec, 0, len(e.Specs))
	for _, id := range sorted {
		if id != nil {
			ordered = append(ordered, byID[id.(string)])
		}
	}
	return ordered, nil
}

// Import creates every task of the epic in dependency order. Tasks whose id
// already exists are skipped; any other error stops the import and is
// returned with the partial result.
func Import(ctx context.Context, creator Creator, e *Epic) (*Result, error) {
	ordered, err := e.Order()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, spec := range ordered {
		_, err := creator.CreateTask(ctx, spec)
		switch {
		case err == nil:
			result.Created = append(result.Created, spec.ID)
		case errors.Is(err, task.ErrDuplicateTask):
			result.Skipped = append(result.Skipped, spec.ID)
		default:
			return result, fmt.Errorf("failed to create %s: %w", spec.ID, err)
		}
	}
	return result, nil
}
