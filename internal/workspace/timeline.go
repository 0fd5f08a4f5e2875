package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// stampLayout is fixed width so file names sort chronologically.
const stampLayout = "20060102T150405.000000000Z"

const pendingPrefix = ".pending-"

// AddTimelineEntry appends a write-once entry to the timeline of taskID.
// Returns *task.NotFoundError if the workspace does not exist.
func (f *Factory) AddTimelineEntry(ctx context.Context, taskID, eventType string, data map[string]any) (*TimelineEntry, error) {
	var entry *TimelineEntry
	err := f.withExisting(ctx, taskID, func(ws *Workspace) error {
		dir := ws.TimelinePath()
		stamp, err := f.nextStamp(dir)
		if err != nil {
			return err
		}
		path, err := writeEntry(dir, stamp, eventType, data, false)
		if err != nil {
			return err
		}
		entry = &TimelineEntry{Timestamp: stamp, EventType: eventType, Data: data, File: filepath.Base(path)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PendingEntry is a timeline entry written to disk but not yet visible.
// Exactly one of Commit or Abort takes effect; later calls are no-ops.
type PendingEntry struct {
	Entry   TimelineEntry
	pending string
	final   string
	once    sync.Once
	err     error
}

// Commit publishes the entry into the timeline.
func (p *PendingEntry) Commit() error {
	p.once.Do(func() {
		if err := os.Rename(p.pending, p.final); err != nil {
			p.err = fmt.Errorf("failed to commit timeline entry: %w", err)
		}
	})
	return p.err
}

// Abort removes the entry without publishing it.
func (p *PendingEntry) Abort() error {
	p.once.Do(func() {
		if err := os.Remove(p.pending); err != nil && !os.IsNotExist(err) {
			p.err = fmt.Errorf("failed to abort timeline entry: %w", err)
		}
	})
	return p.err
}

// StageTimelineEntry writes an entry that stays invisible to Timeline until
// Commit. It lets a caller record the entry inside a larger unit of work and
// drop it if that unit of work fails.
func (f *Factory) StageTimelineEntry(ctx context.Context, taskID, eventType string, data map[string]any) (*PendingEntry, error) {
	var pending *PendingEntry
	err := f.withExisting(ctx, taskID, func(ws *Workspace) error {
		dir := ws.TimelinePath()
		stamp, err := f.nextStamp(dir)
		if err != nil {
			return err
		}
		path, err := writeEntry(dir, stamp, eventType, data, true)
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(filepath.Base(path), pendingPrefix)
		pending = &PendingEntry{
			Entry:   TimelineEntry{Timestamp: stamp, EventType: eventType, Data: data, File: name},
			pending: path,
			final:   filepath.Join(dir, name),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// Timeline returns the committed entries of taskID in chronological order.
func (f *Factory) Timeline(taskID string) ([]TimelineEntry, error) {
	ws, err := f.Get(taskID)
	if err != nil {
		return nil, err
	}

	names, err := entryNames(ws.TimelinePath(), false)
	if err != nil {
		return nil, err
	}

	entries := make([]TimelineEntry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(ws.TimelinePath(), name))
		if err != nil {
			return nil, fmt.Errorf("failed to read timeline entry %s: %w", name, err)
		}
		var entry TimelineEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to parse timeline entry %s: %w", name, err)
		}
		entry.File = name
		entries = append(entries, entry)
	}
	return entries, nil
}

// nextStamp returns a timestamp strictly after every entry already in dir,
// committed or pending. Callers hold the workspace lock.
func (f *Factory) nextStamp(dir string) (time.Time, error) {
	stamp := f.now().UTC()

	names, err := entryNames(dir, true)
	if err != nil {
		return time.Time{}, err
	}
	if len(names) > 0 {
		last := names[len(names)-1]
		if prev, err := time.Parse(stampLayout, last[:len(stampLayout)]); err == nil && !stamp.After(prev) {
			stamp = prev.Add(time.Nanosecond)
		}
	}
	return stamp, nil
}

// entryNames lists entry file names sorted by name. With withPending, staged
// entries are included under their final name.
func entryNames(dir string, withPending bool) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read timeline: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.HasPrefix(name, pendingPrefix) {
			if !withPending {
				continue
			}
			name = strings.TrimPrefix(name, pendingPrefix)
		} else if strings.HasPrefix(name, ".") {
			continue
		}
		if len(name) < len(stampLayout) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// writeEntry writes one entry file into dir and returns its path.
func writeEntry(dir string, stamp time.Time, eventType string, data map[string]any, pending bool) (string, error) {
	if strings.TrimSpace(eventType) == "" {
		return "", fmt.Errorf("timeline event type is required")
	}
	if data == nil {
		data = map[string]any{}
	}

	name := fmt.Sprintf("%s-%s-%s.json", stamp.Format(stampLayout), newEntryID(), fileSafe(eventType))
	if pending {
		name = pendingPrefix + name
	}
	path := filepath.Join(dir, name)

	entry := TimelineEntry{Timestamp: stamp, EventType: eventType, Data: data}
	if err := writeJSONAtomic(path, entry); err != nil {
		return "", fmt.Errorf("failed to write timeline entry: %w", err)
	}
	return path, nil
}

// fileSafe maps s to characters that are safe in a file name.
func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
