// Package workspace manages the per-task scratch directories and their
// append-only timelines.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/taskregistry/internal/locks"
	"github.com/aristath/taskregistry/internal/persistence"
	"github.com/aristath/taskregistry/internal/task"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	locksDir         = ".locks"
	defaultLockRetry = 10 * time.Millisecond
)

// Factory creates and mutates workspaces under one root directory.
//
// Operations on the same task id serialize on an in-process keyed mutex and
// an advisory lock file under <root>/.locks, so a transition and a manual
// AddThought never interleave, even across processes. Different task ids
// never contend.
type Factory struct {
	root      string
	locks     *locks.KeyedMutex
	now       func() time.Time
	lockRetry time.Duration
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock overrides the time source used for timeline and result stamps.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFactory creates a factory rooted at root, creating the directory if needed.
func NewFactory(root string, opts ...Option) (*Factory, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, locksDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}

	f := &Factory{
		root:      abs,
		locks:     locks.New(),
		now:       time.Now,
		lockRetry: defaultLockRetry,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute workspace root.
func (f *Factory) Root() string {
	return f.root
}

// CreateWorkspace provisions the workspace for taskID, or returns the
// existing one untouched.
func (f *Factory) CreateWorkspace(ctx context.Context, taskID, title string) (*Workspace, error) {
	ws, _, err := f.Ensure(ctx, taskID, title)
	return ws, err
}

// Ensure is CreateWorkspace that also reports whether this call created it.
// A new workspace is assembled in a hidden directory and renamed into place,
// so a crash never leaves a half-provisioned workspace behind.
func (f *Factory) Ensure(ctx context.Context, taskID, title string) (*Workspace, bool, error) {
	if err := task.ValidateID(taskID); err != nil {
		return nil, false, err
	}

	var created bool
	err := f.withLock(ctx, taskID, func() error {
		if f.WorkspaceExists(taskID) {
			return nil
		}

		staging, err := os.MkdirTemp(f.root, ".provision-"+taskID+"-")
		if err != nil {
			return fmt.Errorf("failed to create staging directory: %w", err)
		}
		defer os.RemoveAll(staging)
		if err := os.Chmod(staging, 0o755); err != nil {
			return fmt.Errorf("failed to prepare staging directory: %w", err)
		}

		stamp := f.now().UTC()
		if err := provision(staging, taskID, title, stamp); err != nil {
			return err
		}
		if _, err := writeEntry(filepath.Join(staging, TimelineDir), stamp, EventCreated, map[string]any{
			"task_id": taskID,
			"title":   title,
		}, false); err != nil {
			return err
		}

		if err := os.Rename(staging, f.path(taskID)); err != nil {
			return fmt.Errorf("failed to install workspace %s: %w", taskID, err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return f.handle(taskID), created, nil
}

// WorkspaceExists reports whether the workspace directory for taskID exists.
func (f *Factory) WorkspaceExists(taskID string) bool {
	if task.ValidateID(taskID) != nil {
		return false
	}
	info, err := os.Stat(f.path(taskID))
	return err == nil && info.IsDir()
}

// WorkspacePath returns the workspace directory.
// Returns *task.NotFoundError if the workspace does not exist.
func (f *Factory) WorkspacePath(taskID string) (string, error) {
	ws, err := f.Get(taskID)
	if err != nil {
		return "", err
	}
	return ws.Path, nil
}

// WorkDir returns the opaque scratch directory of an existing workspace.
func (f *Factory) WorkDir(taskID string) (string, error) {
	ws, err := f.Get(taskID)
	if err != nil {
		return "", err
	}
	return ws.WorkPath(), nil
}

// Get returns the handle of an existing workspace.
func (f *Factory) Get(taskID string) (*Workspace, error) {
	if !f.WorkspaceExists(taskID) {
		return nil, &task.NotFoundError{Kind: "workspace", ID: taskID}
	}
	return f.handle(taskID), nil
}

// Discard deletes the workspace of taskID. It exists only to roll back a
// workspace provisioned by a unit of work that failed to commit.
func (f *Factory) Discard(ctx context.Context, taskID string) error {
	if err := task.ValidateID(taskID); err != nil {
		return err
	}
	return f.withLock(ctx, taskID, func() error {
		if err := os.RemoveAll(f.path(taskID)); err != nil {
			return fmt.Errorf("failed to discard workspace %s: %w", taskID, err)
		}
		return nil
	})
}

func (f *Factory) path(taskID string) string {
	return filepath.Join(f.root, taskID)
}

func (f *Factory) handle(taskID string) *Workspace {
	return &Workspace{TaskID: taskID, Path: f.path(taskID)}
}

// withLock runs fn holding both the in-process and the cross-process lock for taskID.
func (f *Factory) withLock(ctx context.Context, taskID string, fn func() error) error {
	f.locks.Lock(taskID)
	defer f.locks.Unlock(taskID)

	lock := flock.New(filepath.Join(f.root, locksDir, taskID+".lock"))
	locked, err := lock.TryLockContext(ctx, f.lockRetry)
	if err != nil {
		return fmt.Errorf("failed to lock workspace %s: %w", taskID, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock workspace %s", taskID)
	}
	defer lock.Unlock()

	return fn()
}

// withExisting is withLock for operations that require the workspace to exist.
func (f *Factory) withExisting(ctx context.Context, taskID string, fn func(ws *Workspace) error) error {
	if err := task.ValidateID(taskID); err != nil {
		return err
	}
	return f.withLock(ctx, taskID, func() error {
		ws, err := f.Get(taskID)
		if err != nil {
			return err
		}
		return fn(ws)
	})
}

// provision lays out a fresh workspace in dir.
func provision(dir, taskID, title string, stamp time.Time) error {
	for _, sub := range []string{TimelineDir, ThoughtsDir, ContextDir, WorkDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}

	result, err := json.MarshalIndent(map[string]any{
		"task_id": taskID,
		"status":  "created",
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ResultFile), append(result, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	front, err := yaml.Marshal(readme{TaskID: taskID, Title: title, CreatedAt: stamp})
	if err != nil {
		return fmt.Errorf("failed to encode readme: %w", err)
	}
	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Workspace for task `%s`.\n\n", taskID)
	b.WriteString("- `timeline/` append-only audit log\n")
	b.WriteString("- `thoughts/` working notes\n")
	b.WriteString("- `context/` reference material\n")
	b.WriteString("- `work/` scratch files\n")
	b.WriteString("- `result.json` outcome\n")
	if err := os.WriteFile(filepath.Join(dir, ReadmeFile), b.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write readme: %w", err)
	}
	return nil
}

// ReadReadme returns the task id and title recorded in README.md.
func (f *Factory) ReadReadme(taskID string) (id, title string, err error) {
	ws, err := f.Get(taskID)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(filepath.Join(ws.Path, ReadmeFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", &task.NotFoundError{Kind: "readme", ID: taskID}
		}
		return "", "", fmt.Errorf("failed to read readme: %w", err)
	}

	rest, ok := bytes.CutPrefix(data, []byte("---\n"))
	if !ok {
		return "", "", fmt.Errorf("readme of %s has no front matter", taskID)
	}
	front, _, ok := bytes.Cut(rest, []byte("\n---\n"))
	if !ok {
		return "", "", fmt.Errorf("readme of %s has unterminated front matter", taskID)
	}
	var meta readme
	if err := yaml.Unmarshal(front, &meta); err != nil {
		return "", "", fmt.Errorf("failed to parse readme of %s: %w", taskID, err)
	}
	return meta.TaskID, meta.Title, nil
}

// writeJSONAtomic encodes v and replaces path atomically.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return persistence.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// newEntryID returns the unique component of a timeline file name.
func newEntryID() string {
	return uuid.NewString()
}
