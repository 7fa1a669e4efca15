// Package store persists workflows, workflow items, thread runs, messages,
// and the library records imports produce. It is backed by SQLite so the
// whole service runs from a single file; every multi-row step the driver
// performs is wrapped in one transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status change is not an edge
	// in the relevant transition table. The row is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and initializes the
// schema. Pass ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	if path == ":memory:" {
		// A shared in-memory database so multiple conns see the same data.
		dsn = "file::memory:?mode=memory&cache=shared&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}

	// The first connection may race WAL setup when the file is brand new.
	if err := retry.Do(
		s.initSchema,
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components that manage their own
// tables in the same file (the task queue).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS books (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER REFERENCES users(id),
			isbn TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			rating REAL NOT NULL DEFAULT 0,
			published_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS authors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			pen_name TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			is_verified INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS author_books (
			author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
			book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
			UNIQUE(author_id, book_id)
		);

		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			book_prompt TEXT NOT NULL,
			author_prompt TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS workflow_items (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_items_workflow ON workflow_items(workflow_id);

		CREATE TABLE IF NOT EXISTS thread_runs (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL REFERENCES workflow_items(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			record_id INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(thread_id, run_id),
			UNIQUE(item_id, kind)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_run_id TEXT NOT NULL REFERENCES thread_runs(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(thread_run_id);
	`)
	return err
}

// nowNano returns the current time as nanoseconds for storage.
func nowNano() int64 {
	return time.Now().UnixNano()
}

// fromNano converts a stored nanosecond timestamp back to time.Time.
func fromNano(n int64) time.Time {
	return time.Unix(0, n)
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. The driver string is the only signal modernc.org/sqlite exposes.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
