package statemachine

import (
	"github.com/aristath/taskregistry/internal/events"
)

// Option configures a Machine.
type Option func(*Machine)

// WithEventBus publishes a TaskTransitionedEvent after every saved transition.
func WithEventBus(bus events.Publisher) Option {
	return func(m *Machine) {
		m.bus = bus
	}
}

// TransitionOption supplies the arguments some transitions require.
type TransitionOption func(*transitionArgs)

type transitionArgs struct {
	assignee      string
	failureReason string
	note          string
}

// WithAssignee names the claimant. Required for ASSIGNED.
func WithAssignee(assignee string) TransitionOption {
	return func(a *transitionArgs) {
		a.assignee = assignee
	}
}

// WithFailureReason explains a failure. Required for FAILED.
func WithFailureReason(reason string) TransitionOption {
	return func(a *transitionArgs) {
		a.failureReason = reason
	}
}

// WithNote attaches free text to the transition's timeline entry.
func WithNote(note string) TransitionOption {
	return func(a *transitionArgs) {
		a.note = note
	}
}
