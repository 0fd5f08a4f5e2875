package task

import (
	"fmt"
	"strings"
	"time"
)

// State represents the lifecycle state of a task.
type State int

const (
	StateBacklog  State = iota // Waiting to be claimed
	StateAssigned              // Claimed by a worker, not started yet
	StateActive                // Being worked on
	StateDone                  // Finished successfully (terminal)
	StateFailed                // Finished with an error, may be requeued
)

// States lists every state in lifecycle order.
var States = []State{StateBacklog, StateAssigned, StateActive, StateDone, StateFailed}

var stateNames = map[State]string{
	StateBacklog:  "BACKLOG",
	StateAssigned: "ASSIGNED",
	StateActive:   "ACTIVE",
	StateDone:     "DONE",
	StateFailed:   "FAILED",
}

// String returns the uppercase name used in the persisted document.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseState parses a state name, case-insensitively.
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for state, stateName := range stateNames {
		if stateName == upper {
			return state, nil
		}
	}
	return 0, &ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %q", name)}
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Priority orders work on the caller side. It never affects transition legality.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String returns the lowercase name used in the persisted document.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Valid reports whether p is one of the declared priorities.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority parses a priority name, case-insensitively.
func ParsePriority(name string) (Priority, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for priority, priorityName := range priorityNames {
		if priorityName == lower {
			return priority, nil
		}
	}
	return 0, &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", name)}
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Task represents one unit of orchestrated work.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Objective    string     `json:"objective"` // Grouping key, filter only
	Phase        string     `json:"phase"`     // Informational label
	State        State      `json:"state"`
	Priority     Priority   `json:"priority"`
	Dependencies []string   `json:"dependencies"` // Task IDs that must be DONE before assignment
	Blocks       []string   `json:"blocks"`       // Derived on read, never authoritative
	Tags         []string   `json:"tags"`
	Assignee     *string    `json:"assignee"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	AssignedAt   *time.Time `json:"assigned_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// AssigneeName returns the assignee or an empty string.
func (t *Task) AssigneeName() string {
	if t == nil || t.Assignee == nil {
		return ""
	}
	return *t.Assignee
}

// HasTag reports whether the task carries the given tag.
func (t *Task) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// DependsOn reports whether id appears in the task's dependencies.
func (t *Task) DependsOn(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	cp := *t
	cp.Dependencies = cloneStrings(t.Dependencies)
	cp.Blocks = cloneStrings(t.Blocks)
	cp.Tags = cloneStrings(t.Tags)
	if t.Assignee != nil {
		assignee := *t.Assignee
		cp.Assignee = &assignee
	}
	cp.AssignedAt = cloneTime(t.AssignedAt)
	cp.StartedAt = cloneTime(t.StartedAt)
	cp.CompletedAt = cloneTime(t.CompletedAt)
	return &cp
}

// Normalize replaces nil slices with empty ones so the document never
// carries nulls for list fields, and collapses duplicate dependencies.
func (t *Task) Normalize() {
	t.Dependencies = dedupe(t.Dependencies)
	if t.Blocks == nil {
		t.Blocks = []string{}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
