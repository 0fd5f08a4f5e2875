package task

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStateTextEncoding(t *testing.T) {
	for _, state := range States {
		text, err := state.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) failed: %v", state, err)
		}
		if string(text) != strings.ToUpper(string(text)) {
			t.Errorf("state %v encoded as %q, want uppercase", state, text)
		}
		var decoded State
		if err := decoded.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) failed: %v", text, err)
		}
		if decoded != state {
			t.Errorf("decoded %v, want %v", decoded, state)
		}
	}

	var s State
	err := s.UnmarshalText([]byte("PAUSED"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for unknown state, got %v", err)
	}
}

func TestPriorityParsing(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "low", want: PriorityLow},
		{in: "HIGH", want: PriorityHigh},
		{in: " critical ", want: PriorityCritical},
		{in: "urgent", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePriority(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePriority(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTaskJSONShape(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	high := PriorityHigh
	tk, err := Spec{ID: "TASK-1", Title: "Build", Priority: &high}.New(now)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	data, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if raw["state"] != "BACKLOG" {
		t.Errorf("state = %v, want BACKLOG", raw["state"])
	}
	if raw["priority"] != "high" {
		t.Errorf("priority = %v, want high", raw["priority"])
	}
	if raw["assignee"] != nil {
		t.Errorf("assignee = %v, want null", raw["assignee"])
	}
	for _, key := range []string{"assigned_at", "started_at", "completed_at"} {
		if v, ok := raw[key]; !ok || v != nil {
			t.Errorf("%s = %v (present=%v), want null", key, v, ok)
		}
	}
	for _, key := range []string{"dependencies", "blocks", "tags"} {
		if _, ok := raw[key].([]any); !ok {
			t.Errorf("%s = %v, want array", key, raw[key])
		}
	}
}

func TestValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name  string
		spec  Spec
		field string
	}{
		{name: "empty id", spec: Spec{Title: "x"}, field: "id"},
		{name: "path id", spec: Spec{ID: "a/b", Title: "x"}, field: "id"},
		{name: "dot id", spec: Spec{ID: "..", Title: "x"}, field: "id"},
		{name: "lock dir id", spec: Spec{ID: ".locks", Title: "x"}, field: "id"},
		{name: "staging id", spec: Spec{ID: ".provision-T-1", Title: "x"}, field: "id"},
		{name: "empty title", spec: Spec{ID: "T-1"}, field: "title"},
		{name: "self dependency", spec: Spec{ID: "T-1", Title: "x", Dependencies: []string{"T-1"}}, field: "dependencies"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.New(now)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestNewDedupesDependencies(t *testing.T) {
	tk, err := Spec{ID: "T-3", Title: "x", Dependencies: []string{"T-1", "T-2", "T-1", " "}}.New(time.Now())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if strings.Join(tk.Dependencies, ",") != "T-1,T-2" {
		t.Errorf("dependencies = %v, want [T-1 T-2]", tk.Dependencies)
	}
	if tk.State != StateBacklog || tk.Priority != PriorityMedium {
		t.Errorf("unexpected defaults: state=%v priority=%v", tk.State, tk.Priority)
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	assignee := "worker-1"
	original := &Task{
		ID:           "T-1",
		Title:        "x",
		Dependencies: []string{"A"},
		Tags:         []string{"t"},
		Assignee:     &assignee,
		AssignedAt:   &now,
	}

	cp := original.Clone()
	cp.Dependencies[0] = "B"
	cp.Tags[0] = "changed"
	*cp.Assignee = "worker-2"
	later := now.Add(time.Hour)
	*cp.AssignedAt = later

	if original.Dependencies[0] != "A" || original.Tags[0] != "t" {
		t.Error("clone shares slices with the original")
	}
	if *original.Assignee != "worker-1" {
		t.Error("clone shares assignee pointer with the original")
	}
	if !original.AssignedAt.Equal(now) {
		t.Error("clone shares timestamp pointer with the original")
	}
}

func TestPatchApplyOnlyAddsTags(t *testing.T) {
	tk := &Task{ID: "T-1", Title: "x", Tags: []string{"a"}}
	title := "renamed"
	Patch{Title: &title, AddTags: []string{"a", "b", ""}}.Apply(tk)

	if tk.Title != "renamed" {
		t.Errorf("title = %q, want renamed", tk.Title)
	}
	if strings.Join(tk.Tags, ",") != "a,b" {
		t.Errorf("tags = %v, want [a b]", tk.Tags)
	}
}

func TestStateTransitionErrorMessage(t *testing.T) {
	err := &StateTransitionError{
		TaskID: "TASK-2",
		From:   StateBacklog,
		To:     StateAssigned,
		Blockers: []Blocker{
			{ID: "TASK-1", Title: "Foundation", State: StateActive},
			{ID: "TASK-9", Missing: true},
		},
	}

	msg := err.Error()
	for _, want := range []string{"TASK-2", "BACKLOG -> ASSIGNED", "TASK-1", "Foundation", "TASK-9 (missing)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q does not mention %q", msg, want)
		}
	}
	if !errors.Is(err, ErrStateTransition) {
		t.Error("expected errors.Is(err, ErrStateTransition)")
	}
	if ids := err.BlockerIDs(); len(ids) != 2 || ids[0] != "TASK-1" {
		t.Errorf("BlockerIDs = %v", ids)
	}
}

func TestFilterMatches(t *testing.T) {
	done := StateDone
	tk := &Task{State: StateDone, Objective: "auth", Phase: "foundation"}

	if !(Filter{}).Matches(tk) {
		t.Error("empty filter should match")
	}
	if !(Filter{State: &done, Objective: "auth"}).Matches(tk) {
		t.Error("state+objective filter should match")
	}
	if (Filter{Objective: "auth", Phase: "polish"}).Matches(tk) {
		t.Error("filters must be ANDed")
	}
}
