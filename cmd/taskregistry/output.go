package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aristath/taskregistry/internal/task"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTasks renders tasks as a table, or as a JSON array with --json.
func (a *app) printTasks(w io.Writer, tasks []*task.Task) error {
	if a.jsonOutput {
		if tasks == nil {
			tasks = []*task.Task{}
		}
		return printJSON(w, tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPRIORITY\tOBJECTIVE\tASSIGNEE\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.State, t.Priority, dash(t.Objective), dash(t.AssigneeName()), t.Title)
	}
	return tw.Flush()
}

// printTask renders one task in detail, or as JSON with --json.
func (a *app) printTask(w io.Writer, t *task.Task) error {
	if a.jsonOutput {
		return printJSON(w, t)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		fmt.Fprintf(tw, "%s:\t%s\n", k, v)
	}
	row("ID", t.ID)
	row("Title", t.Title)
	row("State", t.State.String())
	row("Priority", t.Priority.String())
	row("Objective", dash(t.Objective))
	row("Phase", dash(t.Phase))
	row("Assignee", dash(t.AssigneeName()))
	row("Dependencies", dash(strings.Join(t.Dependencies, ", ")))
	row("Blocks", dash(strings.Join(t.Blocks, ", ")))
	row("Tags", dash(strings.Join(t.Tags, ", ")))
	row("Created", t.CreatedAt.Format(time.RFC3339))
	row("Updated", t.UpdatedAt.Format(time.RFC3339))
	row("Assigned", stamp(t.AssignedAt))
	row("Started", stamp(t.StartedAt))
	row("Completed", stamp(t.CompletedAt))
	if err := tw.Flush(); err != nil {
		return err
	}
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
