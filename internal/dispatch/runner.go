// Package dispatch claims available tasks and runs them through a Worker.
// It only drives the registry through its public operations: available tasks
// come from the store, every state change goes through the state machine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskregistry/internal/statemachine"
	"github.com/aristath/taskregistry/internal/task"
	"github.com/aristath/taskregistry/internal/workspace"
)

// Source lists the tasks that may be claimed right now.
type Source interface {
	GetAvailableTasks(ctx context.Context) ([]*task.Task, error)
}

// Transitioner performs state changes.
type Transitioner interface {
	Transition(ctx context.Context, id string, target task.State, opts ...statemachine.TransitionOption) (*task.Task, error)
}

// Workspaces resolves a task's workspace and records its result.
type Workspaces interface {
	Get(taskID string) (*workspace.Workspace, error)
	UpdateResult(ctx context.Context, taskID string, fields map[string]any) (map[string]any, error)
}

// TaskResult represents the outcome of one dispatched task.
type TaskResult struct {
	TaskID  string
	Success bool
	Skipped bool // Claim lost to another dispatcher
	Error   error
}

// Config configures the runner.
type Config struct {
	Assignee     string        // Name recorded on claimed tasks (required)
	Objective    string        // Only dispatch tasks of this objective (empty means all)
	Concurrency  int           // Max concurrent tasks (default 2)
	Watch        bool          // Keep polling after the backlog drains
	PollInterval time.Duration // Delay between polls in watch mode (default 2s)
	Verbose      bool          // Log lost claims and idle polls
	Retry        RetryConfig
	Breaker      BreakerConfig
}

// Runner dispatches available tasks to a Worker with bounded concurrency.
type Runner struct {
	cfg        Config
	source     Source
	machine    Transitioner
	workspaces Workspaces
	worker     Worker
	breakers   *BreakerRegistry

	mu      sync.Mutex
	results []TaskResult
}

// NewRunner creates a new runner.
func NewRunner(cfg Config, source Source, machine Transitioner, workspaces Workspaces, worker Worker) (*Runner, error) {
	if cfg.Assignee == "" {
		return nil, fmt.Errorf("dispatch: assignee is required")
	}
	if worker == nil {
		return nil, fmt.Errorf("dispatch: worker is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Runner{
		cfg:        cfg,
		source:     source,
		machine:    machine,
		workspaces: workspaces,
		worker:     worker,
		breakers:   NewBreakerRegistry(cfg.Breaker),
	}, nil
}

// Breakers exposes the per-objective circuit breakers.
func (r *Runner) Breakers() *BreakerRegistry {
	return r.breakers
}

// Run dispatches waves of available tasks until nothing is left to do, or,
// in watch mode, until ctx is cancelled. In drain mode each task is attempted
// at most once per Run.
func (r *Runner) Run(ctx context.Context) ([]TaskResult, error) {
	attempted := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return r.Results(), err
		}

		available, err := withRetry(ctx, r.cfg.Retry, func() ([]*task.Task, error) {
			return r.source.GetAvailableTasks(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.Results(), ctx.Err()
			}
			return r.Results(), fmt.Errorf("failed to list available tasks: %w", err)
		}

		wave := r.selectWave(available, attempted)
		if len(wave) == 0 {
			if !r.cfg.Watch {
				return r.Results(), nil
			}
			if r.cfg.Verbose {
				log.Printf("DEBUG: no dispatchable tasks, polling again in %s", r.cfg.PollInterval)
			}
			if err := sleep(ctx, r.cfg.PollInterval); err != nil {
				return r.Results(), err
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, t := range wave {
			if !r.cfg.Watch {
				attempted[t.ID] = true
			}
			g.Go(func() error {
				r.recordResult(r.execute(gctx, t))
				return nil // Task errors are recorded, never abort the wave
			})
		}
		g.Wait()
	}
}

// Results returns a copy of the results recorded so far.
func (r *Runner) Results() []TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskResult, len(r.results))
	copy(out, r.results)
	return out
}

// selectWave filters available tasks by objective, open breakers and prior
// attempts, and orders them by priority (critical first) then creation time.
// A half-open breaker admits a single probe task per wave.
func (r *Runner) selectWave(available []*task.Task, attempted map[string]bool) []*task.Task {
	probing := make(map[string]bool)
	wave := make([]*task.Task, 0, len(available))

	sorted := make([]*task.Task, len(available))
	copy(sorted, available)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	for _, t := range sorted {
		if attempted[t.ID] {
			continue
		}
		if r.cfg.Objective != "" && t.Objective != r.cfg.Objective {
			continue
		}
		switch r.breakers.Get(t.Objective).State() {
		case gobreaker.StateOpen:
			continue
		case gobreaker.StateHalfOpen:
			if probing[t.Objective] {
				continue
			}
			probing[t.Objective] = true
		}
		wave = append(wave, t)
	}
	return wave
}

// execute claims t, runs the worker and records the outcome as DONE or FAILED.
func (r *Runner) execute(ctx context.Context, t *task.Task) TaskResult {
	// Earlier tasks of this wave may have tripped the breaker
	if r.breakers.Open(t.Objective) {
		return TaskResult{TaskID: t.ID, Skipped: true, Error: gobreaker.ErrOpenState}
	}

	if _, err := r.transition(ctx, t.ID, task.StateAssigned, statemachine.WithAssignee(r.cfg.Assignee)); err != nil {
		if errors.Is(err, task.ErrStateTransition) || errors.Is(err, task.ErrNotFound) {
			// Another dispatcher won the claim, or the task is gone
			if r.cfg.Verbose {
				log.Printf("DEBUG: skipping task %q: %v", t.ID, err)
			}
			return TaskResult{TaskID: t.ID, Skipped: true, Error: err}
		}
		log.Printf("ERROR: failed to claim task %q: %v", t.ID, err)
		return TaskResult{TaskID: t.ID, Error: err}
	}

	if _, err := r.transition(ctx, t.ID, task.StateActive); err != nil {
		return r.fail(ctx, t.ID, fmt.Errorf("failed to start: %w", err))
	}

	ws, err := r.workspaces.Get(t.ID)
	if err != nil {
		return r.fail(ctx, t.ID, err)
	}

	cb := r.breakers.Get(t.Objective)
	out, err := cb.Execute(func() (interface{}, error) {
		return r.worker.Run(ctx, t, ws)
	})
	if err != nil {
		return r.fail(ctx, t.ID, err)
	}

	// The work is done; record it even if shutdown started meanwhile
	ctx = context.WithoutCancel(ctx)
	fields, _ := out.(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["status"] = "completed"
	fields["assignee"] = r.cfg.Assignee
	if _, err := r.workspaces.UpdateResult(ctx, t.ID, fields); err != nil {
		return r.fail(ctx, t.ID, fmt.Errorf("failed to record result: %w", err))
	}

	if _, err := r.transition(ctx, t.ID, task.StateDone); err != nil {
		log.Printf("ERROR: task %q finished but could not be completed: %v", t.ID, err)
		return TaskResult{TaskID: t.ID, Error: err}
	}
	return TaskResult{TaskID: t.ID, Success: true}
}

// fail records cause on the task's result and moves it to FAILED. It runs
// even when ctx was cancelled, so an interrupted task does not stay ACTIVE.
func (r *Runner) fail(ctx context.Context, id string, cause error) TaskResult {
	ctx = context.WithoutCancel(ctx)
	reason := cause.Error()

	if _, err := r.workspaces.UpdateResult(ctx, id, map[string]any{"status": "failed", "error": reason}); err != nil {
		log.Printf("WARNING: failed to record failure result for task %q: %v", id, err)
	}
	if _, err := r.transition(ctx, id, task.StateFailed, statemachine.WithFailureReason(reason)); err != nil {
		log.Printf("ERROR: failed to mark task %q as failed: %v", id, err)
	}
	return TaskResult{TaskID: id, Error: cause}
}

// transition retries transient store errors. A transition that was saved but
// whose timeline entry could not be committed still counts as done.
func (r *Runner) transition(ctx context.Context, id string, target task.State, opts ...statemachine.TransitionOption) (*task.Task, error) {
	t, err := withRetry(ctx, r.cfg.Retry, func() (*task.Task, error) {
		return r.machine.Transition(ctx, id, target, opts...)
	})
	if err != nil && errors.Is(err, statemachine.ErrTimelineCommit) {
		log.Printf("WARNING: task %q moved to %s: %v", id, target, err)
		return t, nil
	}
	return t, err
}

func (r *Runner) recordResult(result TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
