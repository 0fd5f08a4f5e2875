package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aristath/taskregistry/internal/task"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// backends returns one of each backend implementation.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	fileBackend, err := NewFileBackend(filepath.Join(dir, "registry.json"))
	if err != nil {
		t.Fatalf("failed to create file backend: %v", err)
	}

	sqliteStore, err := NewSQLiteStore(context.Background(), filepath.Join(dir, "registry.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		sqliteStore.Close()
	})

	return map[string]Backend{
		"file":   fileBackend,
		"memory": testStore(t),
		"sqlite": sqliteStore,
	}
}

func newTask(t *testing.T, id string, deps ...string) *task.Task {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tk, err := task.Spec{ID: id, Title: "Task " + id, Objective: "obj", Dependencies: deps}.New(now)
	if err != nil {
		t.Fatalf("failed to build task %s: %v", id, err)
	}
	return tk
}

func TestLoadEmpty(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			doc, err := backend.Load(context.Background())
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if doc.Version != DocumentVersion {
				t.Errorf("Version = %q, want %q", doc.Version, DocumentVersion)
			}
			if len(doc.Tasks) != 0 {
				t.Errorf("expected no tasks, got %d", len(doc.Tasks))
			}
		})
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assignee := "worker-1"
			assignedAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

			err := backend.Update(ctx, func(doc *Document) error {
				dep := newTask(t, "dep-1")
				dep.State = task.StateDone
				doc.Tasks[dep.ID] = dep

				tk := newTask(t, "task-1", "dep-1")
				tk.State = task.StateAssigned
				tk.Assignee = &assignee
				tk.AssignedAt = &assignedAt
				tk.Tags = []string{"failed: boom"}
				doc.Tasks[tk.ID] = tk
				return nil
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			doc, err := backend.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			got, ok := doc.Tasks["task-1"]
			if !ok {
				t.Fatalf("task-1 missing after reload")
			}
			if got.State != task.StateAssigned {
				t.Errorf("State = %v, want ASSIGNED", got.State)
			}
			if got.AssigneeName() != "worker-1" {
				t.Errorf("Assignee = %q, want worker-1", got.AssigneeName())
			}
			if got.AssignedAt == nil || !got.AssignedAt.Equal(assignedAt) {
				t.Errorf("AssignedAt = %v, want %v", got.AssignedAt, assignedAt)
			}
			if got.StartedAt != nil {
				t.Errorf("StartedAt = %v, want nil", got.StartedAt)
			}
			if len(got.Dependencies) != 1 || got.Dependencies[0] != "dep-1" {
				t.Errorf("Dependencies = %v, want [dep-1]", got.Dependencies)
			}
			if len(got.Tags) != 1 || got.Tags[0] != "failed: boom" {
				t.Errorf("Tags = %v", got.Tags)
			}
			if doc.Tasks["dep-1"].State != task.StateDone {
				t.Errorf("dep-1 State = %v, want DONE", doc.Tasks["dep-1"].State)
			}
		})
	}
}

func TestUpdateAbortsOnError(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sentinel := errors.New("abort")

			err := backend.Update(ctx, func(doc *Document) error {
				doc.Tasks["task-1"] = newTask(t, "task-1")
				return sentinel
			})
			if !errors.Is(err, sentinel) {
				t.Fatalf("expected sentinel error, got %v", err)
			}

			doc, err := backend.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(doc.Tasks) != 0 {
				t.Errorf("aborted update was persisted: %d tasks", len(doc.Tasks))
			}
		})
	}
}

func TestUpdateDeletes(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := backend.Update(ctx, func(doc *Document) error {
				doc.Tasks["a"] = newTask(t, "a")
				doc.Tasks["b"] = newTask(t, "b")
				return nil
			}); err != nil {
				t.Fatalf("seed failed: %v", err)
			}

			if err := backend.Update(ctx, func(doc *Document) error {
				delete(doc.Tasks, "a")
				return nil
			}); err != nil {
				t.Fatalf("delete failed: %v", err)
			}

			doc, err := backend.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if _, ok := doc.Tasks["a"]; ok {
				t.Error("task a still present after delete")
			}
			if _, ok := doc.Tasks["b"]; !ok {
				t.Error("task b lost")
			}
		})
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const writers = 12

			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- backend.Update(ctx, func(doc *Document) error {
						id := fmt.Sprintf("task-%02d", i)
						doc.Tasks[id] = newTask(t, id)
						return nil
					})
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				if err != nil {
					t.Fatalf("concurrent update failed: %v", err)
				}
			}

			doc, err := backend.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(doc.Tasks) != writers {
				t.Errorf("expected %d tasks, got %d (lost update)", writers, len(doc.Tasks))
			}
		})
	}
}

func TestFileBackendSharedAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.json")
	first, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	second, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for i, backend := range []*FileBackend{first, second} {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(b *FileBackend, id string) {
				defer wg.Done()
				if err := b.Update(ctx, func(doc *Document) error {
					doc.Tasks[id] = newTask(t, id)
					return nil
				}); err != nil {
					t.Errorf("update %s failed: %v", id, err)
				}
			}(backend, fmt.Sprintf("b%d-%d", i, j))
		}
	}
	wg.Wait()

	doc, err := first.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(doc.Tasks) != 10 {
		t.Errorf("expected 10 tasks, got %d", len(doc.Tasks))
	}
}

func TestFileBackendRejectsMalformedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	backend, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	if _, err := backend.Load(context.Background()); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestFileBackendClosed(t *testing.T) {
	backend, err := NewFileBackend(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	backend.Close()

	if _, err := backend.Load(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close: got %v, want ErrClosed", err)
	}
	if err := backend.Update(context.Background(), func(*Document) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Update after Close: got %v, want ErrClosed", err)
	}
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestWriteFileAtomicUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	dir := filepath.Join(t.TempDir(), "wx-only")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	// Write and search permission allow the rename; opening the directory
	// for the sync does not.
	if err := os.Chmod(dir, 0o300); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	t.Cleanup(func() {
		os.Chmod(dir, 0o755)
	})

	path := filepath.Join(dir, "doc.json")
	if err := WriteFileAtomic(path, []byte("saved"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic reported failure after the rename: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "saved" {
		t.Errorf("content = %q, want saved", data)
	}
}
