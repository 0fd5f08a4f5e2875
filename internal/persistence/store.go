package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Backend using SQLite. Each task is one row holding
// its JSON encoding; the document version lives in registry_meta.
type SQLiteStore struct {
	db *sql.DB
}

var _ Backend = (*SQLiteStore)(nil)
var _ Backend = (*FileBackend)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout,
// and starts every transaction with BEGIN IMMEDIATE so concurrent writers
// (other goroutines or processes) queue on the database write lock.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection for the write transaction, one for concurrent readers.
	db.SetMaxOpenConns(2)

	return newStore(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Every call gets its own named database so tests never share state.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:registry-%s?mode=memory&cache=shared&_txlock=immediate", uuid.NewString())
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	// Shared-cache table locks ignore busy_timeout; a single connection
	// serializes access through the pool instead.
	db.SetMaxOpenConns(1)

	return newStore(ctx, db)
}

func newStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Load reads every task row and the version tag.
func (s *SQLiteStore) Load(ctx context.Context) (*Document, error) {
	doc, _, err := loadDocument(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Update runs fn inside one immediate transaction, then writes back only the
// rows whose encoding changed and deletes rows fn removed.
func (s *SQLiteStore) Update(ctx context.Context, fn func(doc *Document) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	doc, previous, err := loadDocument(ctx, tx)
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}

	if err := saveDocument(ctx, tx, doc, previous); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
