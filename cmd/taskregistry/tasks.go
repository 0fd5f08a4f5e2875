package main

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aristath/taskregistry/internal/statemachine"
	"github.com/aristath/taskregistry/internal/task"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		spec     task.Spec
		priority string
	)
	cmd := &cobra.Command{
		Use:     "create <id>",
		GroupID: "tasks",
		Short:   "Create a task in BACKLOG",
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			spec.ID = args[0]
			if priority != "" {
				p, err := task.ParsePriority(priority)
				if err != nil {
					return err
				}
				spec.Priority = &p
			}
			description, err := stdinOr(cmd, spec.Description)
			if err != nil {
				return err
			}
			spec.Description = description

			created, err := a.store.CreateTask(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return a.printTask(cmd.OutOrStdout(), created)
		}),
	}

	f := cmd.Flags()
	f.StringVarP(&spec.Title, "title", "t", "", "task title (required)")
	f.StringVarP(&spec.Description, "description", "d", "", "description, - reads stdin")
	f.StringVar(&spec.Objective, "objective", "", "objective the task belongs to")
	f.StringVar(&spec.Phase, "phase", "", "phase label")
	f.StringVarP(&priority, "priority", "p", "", "low, medium, high or critical (default medium)")
	f.StringSliceVar(&spec.Dependencies, "depends", nil, "ids this task depends on")
	f.StringSliceVar(&spec.Tags, "tags", nil, "tags")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "get <id>",
		GroupID: "tasks",
		Short:   "Show a task",
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			t, ok, err := a.store.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return &task.NotFoundError{Kind: "task", ID: args[0]}
			}
			return a.printTask(cmd.OutOrStdout(), t)
		}),
	}
}

func newListCmd(a *app) *cobra.Command {
	var (
		filter task.Filter
		state  string
	)
	cmd := &cobra.Command{
		Use:     "list",
		GroupID: "tasks",
		Short:   "List tasks, oldest first",
		Args:    cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			if state != "" {
				s, err := task.ParseState(state)
				if err != nil {
					return err
				}
				filter.State = &s
			}
			tasks, err := a.store.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return a.printTasks(cmd.OutOrStdout(), tasks)
		}),
	}
	cmd.Flags().StringVar(&state, "state", "", "only tasks in this state")
	cmd.Flags().StringVar(&filter.Objective, "objective", "", "only tasks of this objective")
	cmd.Flags().StringVar(&filter.Phase, "phase", "", "only tasks in this phase")
	return cmd
}

func newAvailableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "available",
		GroupID: "tasks",
		Short:   "List BACKLOG tasks whose dependencies are all DONE",
		Args:    cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			tasks, err := a.store.GetAvailableTasks(cmd.Context())
			if err != nil {
				return err
			}
			return a.printTasks(cmd.OutOrStdout(), tasks)
		}),
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		title, description, objective, phase, priority string
		depends, addTags                               []string
	)
	cmd := &cobra.Command{
		Use:     "update <id>",
		GroupID: "tasks",
		Short:   "Update task fields (state changes go through transition)",
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			var patch task.Patch
			f := cmd.Flags()
			if f.Changed("title") {
				patch.Title = &title
			}
			if f.Changed("description") {
				d, err := stdinOr(cmd, description)
				if err != nil {
					return err
				}
				patch.Description = &d
			}
			if f.Changed("objective") {
				patch.Objective = &objective
			}
			if f.Changed("phase") {
				patch.Phase = &phase
			}
			if f.Changed("priority") {
				p, err := task.ParsePriority(priority)
				if err != nil {
					return err
				}
				patch.Priority = &p
			}
			if f.Changed("depends") {
				patch.Dependencies = &depends
			}
			patch.AddTags = addTags
			if patch.Empty() {
				return fmt.Errorf("nothing to update")
			}

			updated, err := a.store.UpdateTask(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return a.printTask(cmd.OutOrStdout(), updated)
		}),
	}

	f := cmd.Flags()
	f.StringVarP(&title, "title", "t", "", "new title")
	f.StringVarP(&description, "description", "d", "", "new description, - reads stdin")
	f.StringVar(&objective, "objective", "", "new objective")
	f.StringVar(&phase, "phase", "", "new phase")
	f.StringVarP(&priority, "priority", "p", "", "new priority")
	f.StringSliceVar(&depends, "depends", nil, "replace dependencies (empty clears)")
	f.StringSliceVar(&addTags, "add-tags", nil, "tags to add")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		GroupID: "tasks",
		Short:   "Delete a task (its workspace is kept)",
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			deleted, err := a.store.DeleteTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return &task.NotFoundError{Kind: "task", ID: args[0]}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		}),
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		GroupID: "tasks",
		Short:   "Count tasks per state",
		Args:    cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			stats, err := a.store.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.jsonOutput {
				byState := make(map[string]int, len(task.States))
				for _, state := range task.States {
					byState[state.String()] = stats.Count(state)
				}
				return printJSON(w, map[string]any{"total": stats.Total, "by_state": byState})
			}
			for _, state := range task.States {
				fmt.Fprintf(w, "%-9s %d\n", state, stats.Count(state))
			}
			fmt.Fprintf(w, "%-9s %d (%.0f%% done)\n", "TOTAL", stats.Total, stats.Progress()*100)
			return nil
		}),
	}
}

func newOrderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "order",
		GroupID: "tasks",
		Short:   "Print task ids in dependency order",
		Args:    cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ids, err := a.store.Order(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}),
	}
}

func newTransitionCmd(a *app) *cobra.Command {
	var (
		assignee string
		reason   string
		note     string
	)
	cmd := &cobra.Command{
		Use:     "transition <id> <state>",
		GroupID: "tasks",
		Short:   "Move a task to another state",
		Long: `Move a task to another state.

Legal transitions:
  BACKLOG  -> ASSIGNED (--assignee, dependencies DONE) | FAILED (--reason)
  ASSIGNED -> ACTIVE | FAILED (--reason)
  ACTIVE   -> DONE | FAILED (--reason)
  FAILED   -> BACKLOG
DONE is terminal.`,
		Args: cobra.ExactArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			target, err := task.ParseState(args[1])
			if err != nil {
				return err
			}
			var opts []statemachine.TransitionOption
			if assignee != "" {
				opts = append(opts, statemachine.WithAssignee(assignee))
			}
			if reason != "" {
				opts = append(opts, statemachine.WithFailureReason(reason))
			}
			if note != "" {
				opts = append(opts, statemachine.WithNote(note))
			}

			updated, err := settleTransition(a.machine.Transition(cmd.Context(), args[0], target, opts...))
			if err != nil {
				return err
			}
			return a.printTask(cmd.OutOrStdout(), updated)
		}),
	}
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "claimant, required for ASSIGNED")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "failure reason, required for FAILED")
	cmd.Flags().StringVarP(&note, "note", "n", "", "note recorded on the timeline entry")
	return cmd
}

func newBlockingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "blocking <id>",
		GroupID: "tasks",
		Short:   "List the unfinished dependencies of a task",
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			blockers, err := a.machine.Blockers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			sort.Slice(blockers, func(i, j int) bool { return blockers[i].ID < blockers[j].ID })
			if a.jsonOutput {
				out := make([]map[string]any, 0, len(blockers))
				for _, b := range blockers {
					var state any = b.State
					if b.Missing {
						state = nil
					}
					out = append(out, map[string]any{"id": b.ID, "title": b.Title, "state": state, "missing": b.Missing})
				}
				return printJSON(w, out)
			}
			if len(blockers) == 0 {
				fmt.Fprintln(w, "Not blocked.")
				return nil
			}
			for _, b := range blockers {
				fmt.Fprintln(w, b.String())
			}
			return nil
		}),
	}
}

func newBlockedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "blocked <id>",
		GroupID: "tasks",
		Short:   "List the tasks that depend on a task",
		Args:    cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			tasks, err := a.machine.GetBlockedTasks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printTasks(cmd.OutOrStdout(), tasks)
		}),
	}
}

// settleTransition accepts a transition whose state change was saved even
// though its timeline entry could not be committed; that case only warns.
func settleTransition(updated *task.Task, err error) (*task.Task, error) {
	if updated != nil && errors.Is(err, statemachine.ErrTimelineCommit) {
		log.Printf("WARNING: %v", err)
		return updated, nil
	}
	return updated, err
}
