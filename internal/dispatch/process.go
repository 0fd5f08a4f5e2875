package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Output logs kept in a task's work directory.
const (
	StdoutLog = "stdout.log"
	StderrLog = "stderr.log"
)

const (
	// maxOutputField bounds the stdout tail copied into result.json.
	maxOutputField = 2048
	// maxErrorTail bounds the stderr tail quoted in a failure reason.
	maxErrorTail = 512
	// pipeGrace is how long Wait keeps draining output after the worker
	// exits, in case a stray grandchild still holds the pipes.
	pipeGrace = 5 * time.Second
)

// taskProcess is one worker subprocess bound to a claimed task.
type taskProcess struct {
	taskID string
	logDir string
	cmd    *exec.Cmd
}

// newTaskProcess prepares argv to run in workDir as the leader of its own
// process group, so cancelling ctx kills the whole tree the worker spawned.
func newTaskProcess(ctx context.Context, taskID, workDir string, argv, env []string) *taskProcess {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
	cmd.WaitDelay = pipeGrace
	return &taskProcess{taskID: taskID, logDir: workDir, cmd: cmd}
}

// run starts the process and waits for it. Full output streams into
// StdoutLog and StderrLog under the work directory; the returned string is
// the trimmed tail of stdout. pm may be nil.
func (p *taskProcess) run(pm *ProcessManager) (string, error) {
	stdoutFile, err := os.Create(filepath.Join(p.logDir, StdoutLog))
	if err != nil {
		return "", fmt.Errorf("failed to create stdout log: %w", err)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.Create(filepath.Join(p.logDir, StderrLog))
	if err != nil {
		return "", fmt.Errorf("failed to create stderr log: %w", err)
	}
	defer stderrFile.Close()

	stdout := &tailBuffer{max: maxOutputField}
	stderr := &tailBuffer{max: maxErrorTail}
	p.cmd.Stdout = io.MultiWriter(stdoutFile, stdout)
	p.cmd.Stderr = io.MultiWriter(stderrFile, stderr)

	if err := p.cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start worker for %s: %w", p.taskID, err)
	}
	pm.track(p)
	defer pm.untrack(p)

	if err := p.cmd.Wait(); err != nil {
		if msg := stderr.String(); msg != "" {
			return stdout.String(), fmt.Errorf("worker for %s failed: %w (stderr: %s)", p.taskID, err, msg)
		}
		return stdout.String(), fmt.Errorf("worker for %s failed: %w", p.taskID, err)
	}
	return stdout.String(), nil
}

// killGroup sends SIGKILL to the process group led by cmd. A group that
// already exited is not an error.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// tailBuffer is an io.Writer that keeps only the last max bytes written.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}

// ProcessManager tracks the worker subprocess of every task currently
// running, so shutdown can kill them all. A nil *ProcessManager tracks
// nothing.
type ProcessManager struct {
	mu      sync.Mutex
	running map[string]*taskProcess
}

// NewProcessManager creates an empty ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{running: make(map[string]*taskProcess)}
}

func (pm *ProcessManager) track(p *taskProcess) {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.running[p.taskID] = p
}

func (pm *ProcessManager) untrack(p *taskProcess) {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.running[p.taskID] == p {
		delete(pm.running, p.taskID)
	}
}

// Running returns the ids of tasks whose worker is alive, sorted.
func (pm *ProcessManager) Running() []string {
	if pm == nil {
		return nil
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	ids := make([]string, 0, len(pm.running))
	for id := range pm.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Kill terminates the worker of taskID, if one is running.
func (pm *ProcessManager) Kill(taskID string) error {
	if pm == nil {
		return nil
	}
	pm.mu.Lock()
	p, ok := pm.running[taskID]
	pm.mu.Unlock()
	if !ok {
		return nil
	}
	return killGroup(p.cmd)
}

// KillAll terminates every tracked worker tree.
func (pm *ProcessManager) KillAll() error {
	if pm == nil {
		return nil
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for id, p := range pm.running {
		if err := killGroup(p.cmd); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
