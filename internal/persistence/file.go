package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
)

// defaultLockRetry is how often a blocked writer polls the advisory lock.
const defaultLockRetry = 10 * time.Millisecond

// FileBackend stores the registry as one JSON document on disk.
//
// Writers serialize on an in-process mutex and an advisory lock on
// "<path>.lock", so concurrent processes pointed at the same file never
// interleave their read-modify-write cycles. The document itself is replaced
// via temp file + rename, so lock-free readers always see a complete document.
type FileBackend struct {
	path      string
	lockPath  string
	lockRetry time.Duration
	mu        sync.Mutex
	closed    atomic.Bool
}

// NewFileBackend creates a backend for the JSON document at path.
// Creates parent directories if needed. A missing file is not an error:
// it reads as an empty registry until the first write.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	return &FileBackend{
		path:      path,
		lockPath:  path + ".lock",
		lockRetry: defaultLockRetry,
	}, nil
}

// Path returns the document location.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the current document without taking the write lock.
func (b *FileBackend) Load(ctx context.Context) (*Document, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.read()
}

// Update runs fn inside the exclusive read-modify-write cycle and persists
// the result atomically.
func (b *FileBackend) Update(ctx context.Context, fn func(doc *Document) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A fresh Flock per cycle: a shared instance would report "already
	// locked" to a second goroutine instead of blocking it.
	lock := flock.New(b.lockPath)
	locked, err := lock.TryLockContext(ctx, b.lockRetry)
	if err != nil {
		return fmt.Errorf("failed to acquire registry lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire registry lock %s", b.lockPath)
	}
	defer lock.Unlock()

	doc, err := b.read()
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	if err := WriteFileAtomic(b.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write registry %s: %w", b.path, err)
	}
	return nil
}

// Close marks the backend as closed. The file needs no teardown.
func (b *FileBackend) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *FileBackend) read() (*Document, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("failed to read registry %s: %w", b.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return NewDocument(), nil
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", b.path, err)
	}
	doc.normalize()
	return doc, nil
}
