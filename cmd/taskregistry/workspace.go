package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskregistry/internal/workspace"
)

func newWorkspaceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		GroupID: "workspaces",
		Short:   "Inspect and edit per-task workspaces",
	}
	cmd.AddCommand(
		newWorkspaceCreateCmd(a),
		newWorkspacePathCmd(a),
		newWorkspaceTimelineCmd(a),
		newWorkspaceLogCmd(a),
		newWorkspaceDocCmd(a, "thought", "thoughts", (*workspace.Factory).AddThought, (*workspace.Factory).ReadThought, (*workspace.Factory).ListThoughts),
		newWorkspaceDocCmd(a, "context", "context documents", (*workspace.Factory).AddContext, (*workspace.Factory).ReadContext, (*workspace.Factory).ListContext),
		newWorkspaceResultCmd(a),
	)
	return cmd
}

func newWorkspaceCreateCmd(a *app) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create <task-id>",
		Short: "Create a task's workspace (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if title == "" {
				if t, ok, err := a.store.GetTask(cmd.Context(), id); err != nil {
					return err
				} else if ok {
					title = t.Title
				} else {
					title = id
				}
			}
			ws, err := a.workspaces.CreateWorkspace(cmd.Context(), id, title)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ws.Path)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "README title (default: the task's title)")
	return cmd
}

func newWorkspacePathCmd(a *app) *cobra.Command {
	var work bool
	cmd := &cobra.Command{
		Use:   "path <task-id>",
		Short: "Print a task's workspace path",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			path, err := a.workspaces.WorkspacePath(args[0])
			if work {
				path, err = a.workspaces.WorkDir(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&work, "work", false, "print the work/ directory instead")
	return cmd
}

func newWorkspaceTimelineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <task-id>",
		Short: "Replay a task's timeline",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			entries, err := a.workspaces.Timeline(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.jsonOutput {
				if entries == nil {
					entries = []workspace.TimelineEntry{}
				}
				return printJSON(w, entries)
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%s  %-10s %s\n", e.Timestamp.Format(time.RFC3339Nano), e.EventType, formatFields(e.Data))
			}
			return nil
		}),
	}
}

func newWorkspaceLogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log <task-id> <event-type> [key=value...]",
		Short: "Append a custom timeline entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			data, err := parseFields(args[2:])
			if err != nil {
				return err
			}
			entry, err := a.workspaces.AddTimelineEntry(cmd.Context(), args[0], args[1], data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry.File)
			return nil
		}),
	}
}

// newWorkspaceDocCmd builds the thought and context commands:
// no name lists, a name reads, a name plus content writes.
func newWorkspaceDocCmd(
	a *app,
	use, plural string,
	write func(*workspace.Factory, context.Context, string, string, string) error,
	read func(*workspace.Factory, string, string) (string, error),
	list func(*workspace.Factory, string) ([]string, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id> [name] [content|-]",
		Short: fmt.Sprintf("List, read or write %s", plural),
		Args:  cobra.RangeArgs(1, 3),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			switch len(args) {
			case 1:
				names, err := list(a.workspaces, args[0])
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(w, name)
				}
				return nil
			case 2:
				content, err := read(a.workspaces, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprint(w, content)
				return nil
			default:
				content, err := stdinOr(cmd, args[2])
				if err != nil {
					return err
				}
				return write(a.workspaces, cmd.Context(), args[0], args[1], content)
			}
		}),
	}
}

func newWorkspaceResultCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "result <task-id> [key=value...]",
		Short: "Show or merge fields into result.json",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			var (
				result map[string]any
				err    error
			)
			if len(args) == 1 {
				result, err = a.workspaces.Result(args[0])
			} else {
				var fields map[string]any
				if fields, err = parseFields(args[1:]); err != nil {
					return err
				}
				result, err = a.workspaces.UpdateResult(cmd.Context(), args[0], fields)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}
}

// parseFields turns key=value arguments into a map.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		fields[key] = value
	}
	return fields, nil
}

func formatFields(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}
