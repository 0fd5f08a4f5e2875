// Command taskregistry manages a task registry: tasks, their lifecycle
// transitions and per-task workspaces.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/taskregistry/internal/task"
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newApp())
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps typed registry errors to distinct exit statuses.
func exitCode(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return 3
	case errors.Is(err, task.ErrStateTransition):
		return 4
	case errors.Is(err, task.ErrValidation), errors.Is(err, task.ErrDuplicateTask):
		return 2
	default:
		return 1
	}
}
