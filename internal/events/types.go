package events

import (
	"time"

	"github.com/aristath/taskregistry/internal/task"
)

// Event is the base interface for all events.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicRegistry = "registry"
)

// Event type constants
const (
	EventTypeTaskCreated      = "task.created"
	EventTypeTaskUpdated      = "task.updated"
	EventTypeTaskDeleted      = "task.deleted"
	EventTypeTaskTransitioned = "task.transitioned"
	EventTypeRegistryProgress = "registry.progress"
)

// TaskCreatedEvent is published after a task is persisted for the first time.
type TaskCreatedEvent struct {
	Task      *task.Task
	Timestamp time.Time
}

func (e TaskCreatedEvent) Topic() string     { return TopicTask }
func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) TaskID() string    { return e.Task.ID }

// TaskUpdatedEvent is published after a field update that is not a transition.
type TaskUpdatedEvent struct {
	Task      *task.Task
	Timestamp time.Time
}

func (e TaskUpdatedEvent) Topic() string     { return TopicTask }
func (e TaskUpdatedEvent) EventType() string { return EventTypeTaskUpdated }
func (e TaskUpdatedEvent) TaskID() string    { return e.Task.ID }

// TaskDeletedEvent is published after a task is removed.
type TaskDeletedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskDeletedEvent) Topic() string     { return TopicTask }
func (e TaskDeletedEvent) EventType() string { return EventTypeTaskDeleted }
func (e TaskDeletedEvent) TaskID() string    { return e.ID }

// TaskTransitionedEvent is published after a state change is saved.
type TaskTransitionedEvent struct {
	Task      *task.Task
	From      task.State
	To        task.State
	Timestamp time.Time
}

func (e TaskTransitionedEvent) Topic() string     { return TopicTask }
func (e TaskTransitionedEvent) EventType() string { return EventTypeTaskTransitioned }
func (e TaskTransitionedEvent) TaskID() string    { return e.Task.ID }

// RegistryProgressEvent carries the state counts after a mutation.
type RegistryProgressEvent struct {
	Total     int
	ByState   map[task.State]int
	Timestamp time.Time
}

func (e RegistryProgressEvent) Topic() string     { return TopicRegistry }
func (e RegistryProgressEvent) EventType() string { return EventTypeRegistryProgress }
func (e RegistryProgressEvent) TaskID() string    { return "" }

// Done is a convenience accessor for the finished count.
func (e RegistryProgressEvent) Done() int {
	return e.ByState[task.StateDone]
}
