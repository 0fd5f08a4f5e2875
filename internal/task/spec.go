package task

import (
	"strings"
	"time"
)

// Spec holds the caller-supplied fields for a new task.
type Spec struct {
	ID           string
	Title        string
	Description  string
	Objective    string
	Phase        string
	Priority     *Priority // Defaults to medium
	Dependencies []string
	Tags         []string
}

// New builds a BACKLOG task from the spec, stamped with now.
func (s Spec) New(now time.Time) (*Task, error) {
	priority := PriorityMedium
	if s.Priority != nil {
		priority = *s.Priority
	}
	t := &Task{
		ID:           strings.TrimSpace(s.ID),
		Title:        s.Title,
		Description:  s.Description,
		Objective:    s.Objective,
		Phase:        s.Phase,
		State:        StateBacklog,
		Priority:     priority,
		Dependencies: append([]string(nil), s.Dependencies...),
		Tags:         dedupe(s.Tags),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Patch lists field updates for UpdateTask. Nil fields are left unchanged.
type Patch struct {
	Title        *string
	Description  *string
	Objective    *string
	Phase        *string
	Priority     *Priority
	Dependencies *[]string
	// AddTags appends tags that are not present yet. Tags are never removed.
	AddTags []string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Objective == nil &&
		p.Phase == nil && p.Priority == nil && p.Dependencies == nil && len(p.AddTags) == 0
}

// Apply merges the patch into t.
func (p Patch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Objective != nil {
		t.Objective = *p.Objective
	}
	if p.Phase != nil {
		t.Phase = *p.Phase
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Dependencies != nil {
		t.Dependencies = dedupe(*p.Dependencies)
	}
	for _, tag := range p.AddTags {
		tag = strings.TrimSpace(tag)
		if tag != "" && !t.HasTag(tag) {
			t.Tags = append(t.Tags, tag)
		}
	}
}

// Filter constrains ListTasks. Zero-valued fields do not constrain.
type Filter struct {
	State     *State
	Objective string
	Phase     string
}

// Matches reports whether t satisfies every set constraint.
func (f Filter) Matches(t *Task) bool {
	if f.State != nil && t.State != *f.State {
		return false
	}
	if f.Objective != "" && t.Objective != f.Objective {
		return false
	}
	if f.Phase != "" && t.Phase != f.Phase {
		return false
	}
	return true
}
