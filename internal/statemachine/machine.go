// Package statemachine owns task state changes. Every transition is decided
// and applied inside one registry unit of work, and records exactly one
// timeline entry in the task's workspace.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/taskregistry/internal/events"
	"github.com/aristath/taskregistry/internal/locks"
	"github.com/aristath/taskregistry/internal/registry"
	"github.com/aristath/taskregistry/internal/task"
	"github.com/aristath/taskregistry/internal/workspace"
)

// ErrTimelineCommit is returned alongside the saved task when the transition
// was persisted but its timeline entry could not be published.
var ErrTimelineCommit = errors.New("timeline entry not committed")

// Machine validates and performs task transitions.
type Machine struct {
	store      *registry.Store
	workspaces *workspace.Factory
	locks      *locks.KeyedMutex
	bus        events.Publisher
}

// New creates a Machine over store and workspaces.
func New(store *registry.Store, workspaces *workspace.Factory, opts ...Option) *Machine {
	m := &Machine{
		store:      store,
		workspaces: workspaces,
		locks:      locks.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transition moves task id to target.
//
// Legality, required arguments and dependency gating are checked inside the
// registry's exclusive unit of work, so of two concurrent claims on the same
// task only one can succeed. On any error the task and its workspace are left
// as they were.
func (m *Machine) Transition(ctx context.Context, id string, target task.State, opts ...TransitionOption) (*task.Task, error) {
	if !target.Valid() {
		return nil, &task.ValidationError{Field: "state", Message: fmt.Sprintf("unknown target state %d", int(target))}
	}

	var args transitionArgs
	for _, opt := range opts {
		opt(&args)
	}

	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	var (
		from        task.State
		staged      *workspace.PendingEntry
		provisioned bool
	)
	updated, err := m.store.Mutate(ctx, id, func(t *task.Task, view *registry.View) error {
		from = t.State
		if err := apply(t, view, target, args); err != nil {
			return err
		}

		_, created, err := m.workspaces.Ensure(ctx, id, t.Title)
		if err != nil {
			return fmt.Errorf("failed to provision workspace: %w", err)
		}
		provisioned = created

		staged, err = m.workspaces.StageTimelineEntry(ctx, id, TimelineEvent(target), entryData(from, target, args))
		if err != nil {
			return fmt.Errorf("failed to stage timeline entry: %w", err)
		}
		return nil
	})
	if err != nil {
		m.rollback(ctx, id, staged, provisioned)
		return nil, err
	}

	if err := staged.Commit(); err != nil {
		return updated, fmt.Errorf("%w for %s: %v", ErrTimelineCommit, id, err)
	}

	if m.bus != nil {
		m.bus.Publish(events.TaskTransitionedEvent{
			Task:      updated.Clone(),
			From:      from,
			To:        target,
			Timestamp: updated.UpdatedAt,
		})
	}
	return updated, nil
}

// rollback undoes the workspace side effects of a transition whose unit of
// work did not commit. It runs even if ctx is already cancelled.
func (m *Machine) rollback(ctx context.Context, id string, staged *workspace.PendingEntry, provisioned bool) {
	if staged != nil {
		staged.Abort()
	}
	if provisioned {
		m.workspaces.Discard(context.WithoutCancel(ctx), id)
	}
}

// apply checks target against t's current state and applies the field changes.
func apply(t *task.Task, view *registry.View, target task.State, args transitionArgs) error {
	from := t.State
	if !Allowed(from, target) {
		reason := "illegal transition"
		if Terminal(from) {
			reason = fmt.Sprintf("%s is terminal", from)
		}
		return &task.StateTransitionError{TaskID: t.ID, From: from, To: target, Reason: reason}
	}

	now := view.Now()
	switch target {
	case task.StateAssigned:
		assignee := strings.TrimSpace(args.assignee)
		if assignee == "" {
			return &task.ValidationError{Field: "assignee", Message: "required for ASSIGNED"}
		}
		if blockers := view.Blockers(t); len(blockers) > 0 {
			return &task.StateTransitionError{
				TaskID:   t.ID,
				From:     from,
				To:       target,
				Reason:   "unfinished dependencies",
				Blockers: blockers,
			}
		}
		t.Assignee = &assignee
		if t.AssignedAt == nil {
			t.AssignedAt = &now
		}

	case task.StateActive:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}

	case task.StateDone:
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}

	case task.StateFailed:
		reason := strings.TrimSpace(args.failureReason)
		if reason == "" {
			return &task.ValidationError{Field: "failure_reason", Message: "required for FAILED"}
		}
		// Failure tags accumulate, one per failure.
		t.Tags = append(t.Tags, "failed: "+reason)

	case task.StateBacklog:
		t.Assignee = nil
	}

	t.State = target
	return nil
}

func entryData(from, to task.State, args transitionArgs) map[string]any {
	data := map[string]any{
		"from": from.String(),
		"to":   to.String(),
	}
	if args.assignee != "" && to == task.StateAssigned {
		data["assignee"] = strings.TrimSpace(args.assignee)
	}
	if args.failureReason != "" && to == task.StateFailed {
		data["reason"] = strings.TrimSpace(args.failureReason)
	}
	if args.note != "" {
		data["note"] = args.note
	}
	return data
}
