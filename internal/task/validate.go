package task

import (
	"strings"
)

// ValidateID checks that id is non-empty and safe to use as a directory name
// under the workspace root.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidf("id", "must not be empty")
	}
	if id != strings.TrimSpace(id) {
		return invalidf("id", "%q has surrounding whitespace", id)
	}
	if strings.ContainsAny(id, `/\`) {
		return invalidf("id", "%q is not usable as a workspace name", id)
	}
	// Dot names under the workspace root belong to the factory (lock files,
	// staging directories).
	if strings.HasPrefix(id, ".") {
		return invalidf("id", "%q must not start with a dot", id)
	}
	return nil
}

// Validate checks the invariants a single task can verify on its own.
// Cross-task invariants (duplicates, cycles) are checked by the registry.
func (t *Task) Validate() error {
	if err := ValidateID(t.ID); err != nil {
		return err
	}
	if strings.TrimSpace(t.Title) == "" {
		return invalidf("title", "must not be empty")
	}
	if !t.State.Valid() {
		return invalidf("state", "unknown state %d", int(t.State))
	}
	if !t.Priority.Valid() {
		return invalidf("priority", "unknown priority %d", int(t.Priority))
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return invalidf("dependencies", "task %q depends on itself", t.ID)
		}
	}
	if t.CreatedAt.IsZero() {
		return invalidf("created_at", "must be set")
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return invalidf("updated_at", "precedes created_at")
	}
	if t.Assignee != nil && strings.TrimSpace(*t.Assignee) == "" {
		return invalidf("assignee", "must not be blank when set")
	}
	return nil
}
