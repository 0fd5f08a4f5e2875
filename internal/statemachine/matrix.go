package statemachine

import (
	"github.com/aristath/taskregistry/internal/task"
)

// transitions is the legality matrix: source state -> allowed targets.
// DONE has no entry and is therefore terminal.
var transitions = map[task.State][]task.State{
	task.StateBacklog:  {task.StateAssigned, task.StateFailed},
	task.StateAssigned: {task.StateActive, task.StateFailed},
	task.StateActive:   {task.StateDone, task.StateFailed},
	task.StateFailed:   {task.StateBacklog},
}

// timelineEvents names the timeline entry recorded for each target state.
var timelineEvents = map[task.State]string{
	task.StateAssigned: "assigned",
	task.StateActive:   "started",
	task.StateDone:     "completed",
	task.StateFailed:   "failed",
	task.StateBacklog:  "requeued",
}

// Allowed reports whether from -> to is a legal transition.
func Allowed(from, to task.State) bool {
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Targets returns the states reachable from from in one transition.
func Targets(from task.State) []task.State {
	return append([]task.State(nil), transitions[from]...)
}

// Terminal reports whether no transition leaves state.
func Terminal(state task.State) bool {
	return len(transitions[state]) == 0
}

// TimelineEvent returns the timeline event type recorded when a task enters state.
func TimelineEvent(state task.State) string {
	return timelineEvents[state]
}
