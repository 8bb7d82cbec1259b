// Package persistence stores tasks, workers, and the event journal in
// SQLite so a scheduler can be stopped and restarted without losing the
// task graph. Writes are snapshot-style upserts driven by the event
// stream; reads happen once at startup to rebuild in-memory state.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/taskhive/taskhive/internal/scheduler"
)

// Store defines the persistence interface for tasks, workers, and the
// event journal.
type Store interface {
	// Task snapshots
	SaveTask(ctx context.Context, task *scheduler.Task) error
	GetTask(ctx context.Context, taskID string) (*scheduler.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	ListTasks(ctx context.Context) ([]*scheduler.Task, error)

	// Worker snapshots
	SaveWorker(ctx context.Context, worker *scheduler.Worker) error
	GetWorker(ctx context.Context, workerID string) (*scheduler.Worker, error)
	ListWorkers(ctx context.Context) ([]*scheduler.Worker, error)

	// Event journal
	AppendEvent(ctx context.Context, entry JournalEntry) error
	TaskHistory(ctx context.Context, taskID string) ([]JournalEntry, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys,
// and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection
	// string; enabled via PRAGMA below instead.
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return openStore(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store. A shared cache lets
// multiple connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	return openStore(ctx, "file::memory:?mode=memory&cache=shared")
}

func openStore(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Two connections: one for primary queries, one for subqueries
	// (prevents deadlock when ListTasks loads edges per row).
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
