package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aristath/taskregistry/internal/events"
	"github.com/aristath/taskregistry/internal/persistence"
	"github.com/aristath/taskregistry/internal/task"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// testStore creates a JSON-file-backed store in a temp dir.
func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open(context.Background(), BackendJSON, filepath.Join(t.TempDir(), "registry.json"), opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func mustCreate(t *testing.T, s *Store, id string, deps ...string) *task.Task {
	t.Helper()
	created, err := s.CreateTask(context.Background(), task.Spec{ID: id, Title: "Task " + id, Dependencies: deps})
	if err != nil {
		t.Fatalf("CreateTask(%s) failed: %v", id, err)
	}
	return created
}

func setState(t *testing.T, s *Store, id string, state task.State) {
	t.Helper()
	if _, err := s.Mutate(context.Background(), id, func(tk *task.Task, _ *View) error {
		tk.State = state
		return nil
	}); err != nil {
		t.Fatalf("Mutate(%s) failed: %v", id, err)
	}
}

func ids(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestCreateTaskDefaults(t *testing.T) {
	s := testStore(t)
	created := mustCreate(t, s, "TASK-1")

	if created.State != task.StateBacklog {
		t.Errorf("State = %v, want BACKLOG", created.State)
	}
	if !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v", created.CreatedAt, created.UpdatedAt)
	}
	if created.AssignedAt != nil || created.StartedAt != nil || created.CompletedAt != nil {
		t.Error("lifecycle timestamps must start nil")
	}
	if created.Assignee != nil {
		t.Errorf("Assignee = %v, want nil", *created.Assignee)
	}
}

func TestCreateTaskDuplicate(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "TASK-1")

	_, err := s.CreateTask(context.Background(), task.Spec{ID: "TASK-1", Title: "again"})
	var dup *task.DuplicateTaskError
	if !errors.As(err, &dup) || dup.ID != "TASK-1" {
		t.Fatalf("expected DuplicateTaskError for TASK-1, got %v", err)
	}

	stats, err := s.GetStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
}

func TestCreateTaskRejectsCycle(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "A", "C") // C does not exist yet
	mustCreate(t, s, "B", "A")

	_, err := s.CreateTask(context.Background(), task.Spec{ID: "C", Title: "closes the loop", Dependencies: []string{"B"}})
	if !errors.Is(err, task.ErrValidation) {
		t.Fatalf("expected validation error for cycle, got %v", err)
	}
	if _, ok, _ := s.GetTask(context.Background(), "C"); ok {
		t.Error("cyclic task was persisted")
	}
}

func TestUpdateTaskRejectsCycle(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "A")
	mustCreate(t, s, "B", "A")

	deps := []string{"B"}
	_, err := s.UpdateTask(context.Background(), "A", task.Patch{Dependencies: &deps})
	if !errors.Is(err, task.ErrValidation) {
		t.Fatalf("expected validation error for cycle, got %v", err)
	}
}

func TestGetTaskMissing(t *testing.T) {
	s := testStore(t)
	got, ok, err := s.GetTask(context.Background(), "nope")
	if err != nil || ok || got != nil {
		t.Fatalf("GetTask(missing) = %v, %v, %v; want nil, false, nil", got, ok, err)
	}
}

func TestUpdateTask(t *testing.T) {
	clock := newFakeClock()
	s := testStore(t, WithClock(clock.Now))
	created := mustCreate(t, s, "TASK-1")

	title := "Renamed"
	high := task.PriorityHigh
	updated, err := s.UpdateTask(context.Background(), "TASK-1", task.Patch{
		Title:    &title,
		Priority: &high,
		AddTags:  []string{"backend"},
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if updated.Title != "Renamed" || updated.Priority != task.PriorityHigh || !updated.HasTag("backend") {
		t.Errorf("patch not applied: %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("UpdatedAt not refreshed: %v <= %v", updated.UpdatedAt, created.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("CreatedAt changed on update")
	}

	_, err = s.UpdateTask(context.Background(), "nope", task.Patch{Title: &title})
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	empty := ""
	_, err = s.UpdateTask(context.Background(), "TASK-1", task.Patch{Title: &empty})
	if !errors.Is(err, task.ErrValidation) {
		t.Errorf("expected validation error for blank title, got %v", err)
	}
}

func TestUpdatedAtNeverMovesBackwards(t *testing.T) {
	current := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := testStore(t, WithClock(func() time.Time { return current }))
	created := mustCreate(t, s, "TASK-1")

	current = current.Add(-time.Hour)
	title := "x"
	updated, err := s.UpdateTask(context.Background(), "TASK-1", task.Patch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if updated.UpdatedAt.Before(created.UpdatedAt) {
		t.Errorf("UpdatedAt moved backwards: %v < %v", updated.UpdatedAt, created.UpdatedAt)
	}
}

func TestMutateAbortWritesNothing(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "TASK-1")
	sentinel := errors.New("abort")

	_, err := s.Mutate(context.Background(), "TASK-1", func(tk *task.Task, _ *View) error {
		tk.Title = "changed"
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	got, _, _ := s.GetTask(context.Background(), "TASK-1")
	if got.Title != "Task TASK-1" {
		t.Errorf("aborted mutation persisted title %q", got.Title)
	}
}

func TestMutateKeepsIdentity(t *testing.T) {
	s := testStore(t)
	created := mustCreate(t, s, "TASK-1")

	got, err := s.Mutate(context.Background(), "TASK-1", func(tk *task.Task, _ *View) error {
		tk.ID = "other"
		tk.CreatedAt = time.Time{}
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if got.ID != "TASK-1" || !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("identity changed: id=%s created=%v", got.ID, got.CreatedAt)
	}
}

func TestDeleteTask(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "A")
	mustCreate(t, s, "B", "A")

	deleted, err := s.DeleteTask(context.Background(), "A")
	if err != nil || !deleted {
		t.Fatalf("DeleteTask(A) = %v, %v", deleted, err)
	}
	deleted, err = s.DeleteTask(context.Background(), "A")
	if err != nil || deleted {
		t.Fatalf("second DeleteTask(A) = %v, %v; want false, nil", deleted, err)
	}

	b, _, _ := s.GetTask(context.Background(), "B")
	if !b.DependsOn("A") {
		t.Error("dependent lost its dependency id")
	}
	available, _ := s.GetAvailableTasks(context.Background())
	if len(available) != 0 {
		t.Errorf("B depends on a deleted task and must not be available, got %v", ids(available))
	}
}

func TestBlocksDerivedOnRead(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "A")
	mustCreate(t, s, "C", "A")
	mustCreate(t, s, "B", "A")

	a, _, _ := s.GetTask(context.Background(), "A")
	if fmt.Sprint(a.Blocks) != "[B C]" {
		t.Errorf("A.Blocks = %v, want [B C]", a.Blocks)
	}

	empty := []string{}
	if _, err := s.UpdateTask(context.Background(), "C", task.Patch{Dependencies: &empty}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	a, _, _ = s.GetTask(context.Background(), "A")
	if fmt.Sprint(a.Blocks) != "[B]" {
		t.Errorf("A.Blocks = %v, want [B]", a.Blocks)
	}
}

func TestListTasksFiltersAndOrder(t *testing.T) {
	clock := newFakeClock()
	s := testStore(t, WithClock(clock.Now))
	ctx := context.Background()

	for _, spec := range []task.Spec{
		{ID: "z-first", Title: "z", Objective: "auth", Phase: "one"},
		{ID: "a-second", Title: "a", Objective: "auth", Phase: "two"},
		{ID: "m-third", Title: "m", Objective: "billing", Phase: "one"},
	} {
		if _, err := s.CreateTask(ctx, spec); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}
	setState(t, s, "a-second", task.StateDone)

	all, _ := s.ListTasks(ctx, task.Filter{})
	if fmt.Sprint(ids(all)) != "[z-first a-second m-third]" {
		t.Errorf("order = %v, want creation order", ids(all))
	}

	auth, _ := s.ListTasks(ctx, task.Filter{Objective: "auth"})
	if len(auth) != 2 {
		t.Errorf("objective filter returned %v", ids(auth))
	}

	backlog := task.StateBacklog
	phaseOne, _ := s.ListTasks(ctx, task.Filter{State: &backlog, Phase: "one"})
	if fmt.Sprint(ids(phaseOne)) != "[z-first m-third]" {
		t.Errorf("state+phase filter returned %v", ids(phaseOne))
	}
}

func TestAvailableTasks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1")
	mustCreate(t, s, "TASK-2", "TASK-1")
	mustCreate(t, s, "TASK-3", "GHOST")

	available, err := s.GetAvailableTasks(ctx)
	if err != nil {
		t.Fatalf("GetAvailableTasks failed: %v", err)
	}
	if fmt.Sprint(ids(available)) != "[TASK-1]" {
		t.Fatalf("available = %v, want [TASK-1]", ids(available))
	}

	setState(t, s, "TASK-1", task.StateDone)
	available, _ = s.GetAvailableTasks(ctx)
	if fmt.Sprint(ids(available)) != "[TASK-2]" {
		t.Fatalf("available = %v, want [TASK-2]", ids(available))
	}
}

func TestStatistics(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "A")
	mustCreate(t, s, "B")
	mustCreate(t, s, "C")
	setState(t, s, "A", task.StateDone)

	stats, err := s.GetStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.Total != 3 || stats.Count(task.StateBacklog) != 2 || stats.Count(task.StateDone) != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	for _, state := range task.States {
		if _, ok := stats.ByState[state]; !ok {
			t.Errorf("state %v missing from ByState", state)
		}
	}
	if p := stats.Progress(); p < 0.33 || p > 0.34 {
		t.Errorf("Progress = %v, want 1/3", p)
	}
}

func TestOrder(t *testing.T) {
	clock := newFakeClock()
	s := testStore(t, WithClock(clock.Now))
	mustCreate(t, s, "C", "B")
	mustCreate(t, s, "B", "A")
	mustCreate(t, s, "A")
	mustCreate(t, s, "D", "MISSING")

	order, err := s.Order(context.Background())
	if err != nil {
		t.Fatalf("Order failed: %v", err)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if len(order) != 4 {
		t.Fatalf("order = %v, want 4 ids", order)
	}
	if !(pos["A"] < pos["B"] && pos["B"] < pos["C"]) {
		t.Errorf("order %v violates dependencies", order)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	ctx := context.Background()

	first, err := Open(ctx, "", path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mustCreate(t, first, "A")
	mustCreate(t, first, "B", "A")
	first.Close()

	second, err := Open(ctx, "", path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	b, ok, err := second.GetTask(ctx, "B")
	if err != nil || !ok {
		t.Fatalf("GetTask(B) after reopen = %v, %v", ok, err)
	}
	if !b.DependsOn("A") {
		t.Errorf("dependencies lost: %v", b.Dependencies)
	}
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	mem, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	s := NewStore(mem)
	defer s.Close()

	mustCreate(t, s, "TASK-1")
	mustCreate(t, s, "TASK-2", "TASK-1")
	setState(t, s, "TASK-1", task.StateDone)

	available, err := s.GetAvailableTasks(ctx)
	if err != nil {
		t.Fatalf("GetAvailableTasks failed: %v", err)
	}
	if fmt.Sprint(ids(available)) != "[TASK-2]" {
		t.Errorf("available = %v, want [TASK-2]", ids(available))
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "redis", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestConcurrentCreatesAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	ctx := context.Background()

	var stores []*Store
	for i := 0; i < 3; i++ {
		s, err := Open(ctx, BackendJSON, path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer s.Close()
		stores = append(stores, s)
	}

	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := stores[i%len(stores)]
			if _, err := s.CreateTask(ctx, task.Spec{ID: fmt.Sprintf("T-%02d", i), Title: "x"}); err != nil {
				t.Errorf("CreateTask failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stats, _ := stores[0].GetStatistics(ctx)
	if stats.Total != 15 {
		t.Errorf("Total = %d, want 15 (lost update)", stats.Total)
	}
}

func TestEventsPublished(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.SubscribeAll(16)

	s := testStore(t, WithEventBus(bus))
	mustCreate(t, s, "TASK-1")
	if _, err := s.DeleteTask(context.Background(), "TASK-1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	var seen []string
	timeout := time.After(time.Second)
	for len(seen) < 4 {
		select {
		case e := <-ch:
			seen = append(seen, e.EventType())
		case <-timeout:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	want := fmt.Sprint([]string{
		events.EventTypeTaskCreated, events.EventTypeRegistryProgress,
		events.EventTypeTaskDeleted, events.EventTypeRegistryProgress,
	})
	if fmt.Sprint(seen) != want {
		t.Errorf("events = %v, want %v", seen, want)
	}
}
