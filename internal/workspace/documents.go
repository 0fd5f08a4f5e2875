package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aristath/taskregistry/internal/persistence"
	"github.com/aristath/taskregistry/internal/task"
)

const docExt = ".md"

// AddThought writes or overwrites the named thought document. Last write wins.
func (f *Factory) AddThought(ctx context.Context, taskID, name, content string) error {
	return f.writeDocument(ctx, taskID, ThoughtsDir, name, content)
}

// AddContext writes or overwrites the named context document. Last write wins.
func (f *Factory) AddContext(ctx context.Context, taskID, name, content string) error {
	return f.writeDocument(ctx, taskID, ContextDir, name, content)
}

// ReadThought returns the content of the named thought document.
func (f *Factory) ReadThought(taskID, name string) (string, error) {
	return f.readDocument(taskID, ThoughtsDir, name)
}

// ReadContext returns the content of the named context document.
func (f *Factory) ReadContext(taskID, name string) (string, error) {
	return f.readDocument(taskID, ContextDir, name)
}

// ListThoughts returns the thought document names, sorted.
func (f *Factory) ListThoughts(taskID string) ([]string, error) {
	return f.listDocuments(taskID, ThoughtsDir)
}

// ListContext returns the context document names, sorted.
func (f *Factory) ListContext(taskID string) ([]string, error) {
	return f.listDocuments(taskID, ContextDir)
}

func (f *Factory) writeDocument(ctx context.Context, taskID, area, name, content string) error {
	file, err := docFile(name)
	if err != nil {
		return err
	}
	return f.withExisting(ctx, taskID, func(ws *Workspace) error {
		path := filepath.Join(ws.Path, area, file)
		if err := persistence.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s/%s: %w", area, file, err)
		}
		return nil
	})
}

func (f *Factory) readDocument(taskID, area, name string) (string, error) {
	file, err := docFile(name)
	if err != nil {
		return "", err
	}
	ws, err := f.Get(taskID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(ws.Path, area, file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &task.NotFoundError{Kind: area, ID: strings.TrimSuffix(file, docExt)}
		}
		return "", fmt.Errorf("failed to read %s/%s: %w", area, file, err)
	}
	return string(data), nil
}

func (f *Factory) listDocuments(taskID, area string) ([]string, error) {
	ws, err := f.Get(taskID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(ws.Path, area))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", area, err)
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), docExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), docExt))
	}
	sort.Strings(names)
	return names, nil
}

// docFile validates a document name and returns its file name.
func docFile(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, docExt)
	if name == "" {
		return "", &task.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", &task.ValidationError{Field: "name", Message: fmt.Sprintf("%q is not a valid document name", name)}
	}
	return name + docExt, nil
}
