package workspace

import (
	"path/filepath"
	"time"
)

// Sub-area and file names inside a workspace directory.
const (
	TimelineDir = "timeline"
	ThoughtsDir = "thoughts"
	ContextDir  = "context"
	WorkDirName = "work"
	ResultFile  = "result.json"
	ReadmeFile  = "README.md"
)

// Timeline event types written by the factory itself.
const (
	EventCreated = "created"
)

// Workspace holds information about a provisioned task workspace.
type Workspace struct {
	TaskID string // Task the workspace belongs to
	Path   string // Absolute path to the workspace directory
}

// TimelinePath returns the directory holding timeline entries.
func (w *Workspace) TimelinePath() string { return filepath.Join(w.Path, TimelineDir) }

// ThoughtsPath returns the directory holding thought documents.
func (w *Workspace) ThoughtsPath() string { return filepath.Join(w.Path, ThoughtsDir) }

// ContextPath returns the directory holding context documents.
func (w *Workspace) ContextPath() string { return filepath.Join(w.Path, ContextDir) }

// WorkPath returns the opaque scratch directory.
func (w *Workspace) WorkPath() string { return filepath.Join(w.Path, WorkDirName) }

// ResultPath returns the location of result.json.
func (w *Workspace) ResultPath() string { return filepath.Join(w.Path, ResultFile) }

// TimelineEntry is one write-once audit record.
type TimelineEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	File      string         `json:"-"` // Entry file name, set when read back
}

// readme is the YAML front matter of README.md.
type readme struct {
	TaskID    string    `yaml:"task_id"`
	Title     string    `yaml:"title"`
	CreatedAt time.Time `yaml:"created_at"`
}
