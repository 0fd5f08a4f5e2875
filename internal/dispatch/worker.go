package dispatch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aristath/taskregistry/internal/task"
	"github.com/aristath/taskregistry/internal/workspace"
)

// Worker performs one claimed task. The returned fields are merged into the
// workspace's result.json when the task completes.
type Worker interface {
	Run(ctx context.Context, t *task.Task, ws *workspace.Workspace) (map[string]any, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, t *task.Task, ws *workspace.Workspace) (map[string]any, error)

func (f WorkerFunc) Run(ctx context.Context, t *task.Task, ws *workspace.Workspace) (map[string]any, error) {
	return f(ctx, t, ws)
}

// ExecWorker runs a command once per task inside the task's work directory.
// The command sees TASK_ID, TASK_TITLE, TASK_OBJECTIVE and TASK_WORKSPACE in
// its environment; full stdout and stderr are kept under work/.
type ExecWorker struct {
	Command   []string
	Env       map[string]string
	Processes *ProcessManager // Optional, for KillAll on shutdown
}

// Run executes the command and reports its exit status.
func (w *ExecWorker) Run(ctx context.Context, t *task.Task, ws *workspace.Workspace) (map[string]any, error) {
	if len(w.Command) == 0 {
		return nil, fmt.Errorf("no worker command configured")
	}

	proc := newTaskProcess(ctx, t.ID, ws.WorkPath(), w.Command, append(os.Environ(), w.environment(t, ws)...))
	output, err := proc.run(w.Processes)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"command": strings.Join(w.Command, " "),
		"output":  output,
	}, nil
}

func (w *ExecWorker) environment(t *task.Task, ws *workspace.Workspace) []string {
	env := []string{
		"TASK_ID=" + t.ID,
		"TASK_TITLE=" + t.Title,
		"TASK_OBJECTIVE=" + t.Objective,
		"TASK_WORKSPACE=" + ws.Path,
	}
	keys := make([]string, 0, len(w.Env))
	for k := range w.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+w.Env[k])
	}
	return env
}
