package task

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateTask   = errors.New("duplicate task")
	ErrNotFound        = errors.New("not found")
	ErrStateTransition = errors.New("state transition not allowed")
	ErrValidation      = errors.New("validation failed")
)

// DuplicateTaskError is returned when creating a task whose id already exists.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q already exists", e.ID)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrDuplicateTask }

// NotFoundError is returned when operating on an unknown task or a missing workspace.
type NotFoundError struct {
	Kind string // "task" or "workspace"
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "task"
	}
	return fmt.Sprintf("%s %q not found", kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Blocker identifies a dependency that is not DONE yet.
type Blocker struct {
	ID    string
	Title string // Empty when the dependency does not exist in the registry
	State State
	// Missing is true when the dependency id does not resolve to a task.
	Missing bool
}

func (b Blocker) String() string {
	if b.Missing {
		return fmt.Sprintf("%s (missing)", b.ID)
	}
	return fmt.Sprintf("%s %q (%s)", b.ID, b.Title, b.State)
}

// StateTransitionError reports an illegal or dependency-blocked transition.
type StateTransitionError struct {
	TaskID   string
	From     State
	To       State
	Blockers []Blocker
	Reason   string
}

func (e *StateTransitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "task %q: cannot transition %s -> %s", e.TaskID, e.From, e.To)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Blockers) > 0 {
		parts := make([]string, len(e.Blockers))
		for i, blocker := range e.Blockers {
			parts[i] = blocker.String()
		}
		b.WriteString(": blocked by ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}

func (e *StateTransitionError) Unwrap() error { return ErrStateTransition }

// BlockerIDs returns the ids of the blocking tasks.
func (e *StateTransitionError) BlockerIDs() []string {
	ids := make([]string, len(e.Blockers))
	for i, blocker := range e.Blockers {
		ids[i] = blocker.ID
	}
	return ids
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
