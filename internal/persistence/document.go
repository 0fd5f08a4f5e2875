package persistence

import (
	"context"
	"errors"

	"github.com/aristath/taskregistry/internal/task"
)

// DocumentVersion is the version tag written into fresh registries.
const DocumentVersion = "1.0"

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("persistence: backend closed")

// Document is the persisted registry: a version tag plus every task by id.
type Document struct {
	Version string                `json:"version"`
	Tasks   map[string]*task.Task `json:"tasks"`
}

// NewDocument returns an empty registry document.
func NewDocument() *Document {
	return &Document{
		Version: DocumentVersion,
		Tasks:   make(map[string]*task.Task),
	}
}

// normalize fills defaults on a freshly decoded document.
func (d *Document) normalize() {
	if d.Version == "" {
		d.Version = DocumentVersion
	}
	if d.Tasks == nil {
		d.Tasks = make(map[string]*task.Task)
	}
	for id, t := range d.Tasks {
		if t == nil {
			delete(d.Tasks, id)
			continue
		}
		t.Normalize()
	}
}

// Backend owns the durable copy of the registry document.
//
// Update runs fn against the current document inside one exclusive
// read-modify-write unit of work that is atomic with respect to every other
// writer, including other processes sharing the same backing resource.
// When fn returns an error nothing is written and the error is returned as is.
type Backend interface {
	Load(ctx context.Context) (*Document, error)
	Update(ctx context.Context, fn func(doc *Document) error) error
	Close() error
}
