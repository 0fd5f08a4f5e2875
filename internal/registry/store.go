// Package registry is the persistent task graph: creation, lookup, field
// updates, deletion and graph queries over one registry document.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/taskregistry/internal/events"
	"github.com/aristath/taskregistry/internal/persistence"
	"github.com/aristath/taskregistry/internal/task"
)

// Backend kinds accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// errUnchanged aborts a unit of work that has nothing to write.
var errUnchanged = errors.New("registry: unchanged")

// Mutation edits t in place. t is a private copy of the stored task; view
// reflects the registry as of the same locked unit of work. Returning an
// error aborts the unit of work and nothing is written.
type Mutation func(t *task.Task, view *View) error

// Store is the registry. It is safe for concurrent use, and any number of
// Stores (in this or other processes) may share one backing document.
type Store struct {
	backend persistence.Backend
	bus     events.Publisher
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventBus publishes task and progress events after every saved mutation.
func WithEventBus(bus events.Publisher) Option {
	return func(s *Store) {
		s.bus = bus
	}
}

// NewStore wraps an opened backend.
func NewStore(backend persistence.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BackendFor guesses the backend kind from a registry file name:
// sqlite for .db/.sqlite files, json otherwise.
func BackendFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return BackendSQLite
	default:
		return BackendJSON
	}
}

// Open opens the registry at path with the given backend kind. An empty kind
// is resolved with BackendFor.
func Open(ctx context.Context, kind, path string, opts ...Option) (*Store, error) {
	if kind == "" {
		kind = BackendFor(path)
	}

	var backend persistence.Backend
	var err error
	switch kind {
	case BackendJSON:
		backend, err = persistence.NewFileBackend(path)
	case BackendSQLite:
		backend, err = persistence.NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", path, err)
	}
	return NewStore(backend, opts...), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// CreateTask adds a BACKLOG task built from spec.
// Returns *task.DuplicateTaskError if the id is taken and *task.ValidationError
// for malformed input or a dependency cycle. Unknown dependency ids are
// accepted and stay unsatisfied until a task with that id exists and is DONE.
func (s *Store) CreateTask(ctx context.Context, spec task.Spec) (*task.Task, error) {
	created, err := spec.New(s.Now())
	if err != nil {
		return nil, err
	}

	var stats Statistics
	err = s.backend.Update(ctx, func(doc *persistence.Document) error {
		if _, exists := doc.Tasks[created.ID]; exists {
			return &task.DuplicateTaskError{ID: created.ID}
		}
		if err := checkAcyclic(doc.Tasks, created); err != nil {
			return err
		}
		doc.Tasks[created.ID] = created
		refreshBlocks(doc.Tasks)
		stats = (&View{tasks: doc.Tasks}).Statistics()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.TaskCreatedEvent{Task: created.Clone(), Timestamp: created.CreatedAt}, stats)
	return created.Clone(), nil
}

// GetTask returns a copy of the task, or ok=false if it does not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, bool, error) {
	view, err := s.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	t, ok := view.Get(id)
	return t, ok, nil
}

// UpdateTask merges the non-nil patch fields into the task and refreshes
// UpdatedAt. State, assignee and lifecycle timestamps are not patchable.
func (s *Store) UpdateTask(ctx context.Context, id string, patch task.Patch) (*task.Task, error) {
	updated, err := s.mutate(ctx, id, func(t *task.Task, _ *View) error {
		patch.Apply(t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.TaskUpdatedEvent{Task: updated.Clone(), Timestamp: updated.UpdatedAt}, Statistics{})
	return updated, nil
}

// Mutate runs fn against a copy of task id inside one exclusive
// read-modify-write of the registry, validates the result and persists it.
// The id and CreatedAt are immutable; UpdatedAt is stamped by the store and
// never moves backwards. Returns *task.NotFoundError if id does not exist.
func (s *Store) Mutate(ctx context.Context, id string, fn Mutation) (*task.Task, error) {
	return s.mutate(ctx, id, fn)
}

func (s *Store) mutate(ctx context.Context, id string, fn Mutation) (*task.Task, error) {
	var result *task.Task
	var stats Statistics
	err := s.backend.Update(ctx, func(doc *persistence.Document) error {
		current, exists := doc.Tasks[id]
		if !exists {
			return &task.NotFoundError{Kind: "task", ID: id}
		}

		stamp := s.Now()
		if stamp.Before(current.UpdatedAt) {
			stamp = current.UpdatedAt
		}

		view := &View{tasks: doc.Tasks, now: stamp}
		next := current.Clone()
		if err := fn(next, view); err != nil {
			return err
		}

		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = stamp
		next.Normalize()
		if err := next.Validate(); err != nil {
			return err
		}
		if !equalStrings(next.Dependencies, current.Dependencies) {
			if err := checkAcyclic(doc.Tasks, next); err != nil {
				return err
			}
		}

		doc.Tasks[id] = next
		refreshBlocks(doc.Tasks)
		result = next.Clone()
		stats = view.Statistics()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(nil, stats)
	return result, nil
}

// DeleteTask removes the task. Returns false if it did not exist.
// Tasks that depended on it keep the id as an unsatisfied dependency.
func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	var stats Statistics
	err := s.backend.Update(ctx, func(doc *persistence.Document) error {
		if _, exists := doc.Tasks[id]; !exists {
			return errUnchanged
		}
		delete(doc.Tasks, id)
		refreshBlocks(doc.Tasks)
		stats = (&View{tasks: doc.Tasks}).Statistics()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.publish(events.TaskDeletedEvent{ID: id, Timestamp: s.Now()}, stats)
	return true, nil
}

// ListTasks returns the tasks matching filter ordered by creation time, then id.
func (s *Store) ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	view, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return view.Filter(filter), nil
}

// GetAvailableTasks returns BACKLOG tasks whose dependencies all exist and are DONE.
func (s *Store) GetAvailableTasks(ctx context.Context) ([]*task.Task, error) {
	view, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return view.Available(), nil
}

// GetStatistics counts tasks per state from one consistent snapshot.
func (s *Store) GetStatistics(ctx context.Context) (Statistics, error) {
	view, err := s.Snapshot(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return view.Statistics(), nil
}

// Order returns every task id in dependency order. Ties keep creation order.
func (s *Store) Order(ctx context.Context) ([]string, error) {
	view, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	order, err := topoOrder(view.tasks)
	if err != nil {
		return nil, fmt.Errorf("registry contains a dependency cycle: %w", err)
	}
	return order, nil
}

// Snapshot loads the registry once and returns a read-only view of it.
func (s *Store) Snapshot(ctx context.Context) (*View, error) {
	doc, err := s.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	refreshBlocks(doc.Tasks)
	return &View{tasks: doc.Tasks, now: s.Now()}, nil
}

// publish sends event (if any) and a progress event. Zero stats skip progress.
func (s *Store) publish(event events.Event, stats Statistics) {
	if s.bus == nil {
		return
	}
	if event != nil {
		s.bus.Publish(event)
	}
	if stats.ByState != nil {
		s.bus.Publish(events.RegistryProgressEvent{
			Total:     stats.Total,
			ByState:   stats.ByState,
			Timestamp: s.Now(),
		})
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
