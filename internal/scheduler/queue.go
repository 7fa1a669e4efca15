// Package scheduler owns the durable work queue and the workers that drain
// it. Work units survive restarts: they live in a tasks table in the same
// SQLite database as everything else, and a claimed task is removed in the
// same transaction that reads it. A task claimed but not finished when the
// process dies is gone from the queue; Recover runs at startup and requeues
// a fresh run for every item that was stranded that way.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/folio/internal/driver"
)

// Task is one unit of scheduled work: run (or keep polling) the named item's
// current extraction stage.
type Task struct {
	ItemID string

	// RetryCounter counts fresh-run retries after unstable responses. It
	// resets when the item advances a stage.
	RetryCounter int

	// ThreadID/RunID are set when the task polls an in-flight run and empty
	// when it must submit a new one.
	ThreadID string
	RunID    string

	// ContentOverride, when set, replaces the stored prompt for this
	// submission.
	ContentOverride string

	// Attempts counts transport-level redeliveries of this same task.
	Attempts int

	EnqueuedAt time.Time
	NotBefore  time.Time
}

// Queue is a persistent FIFO of Tasks backed by SQLite. Ordering is by
// not_before then insertion id; a task is invisible until its not_before
// time passes.
type Queue struct {
	db           *sql.DB
	pollInterval time.Duration
}

var _ driver.Enqueuer = (*Queue)(nil)

// NewQueue initializes the tasks table in the given DB and returns a queue.
func NewQueue(db *sql.DB) (*Queue, error) {
	q := &Queue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id TEXT NOT NULL,
			retry_counter INTEGER NOT NULL DEFAULT 0,
			thread_id TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			content_override TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL
		);
	`)
	return err
}

// Enqueue appends a task. A zero NotBefore means immediately runnable.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	now := time.Now()
	enqueuedAt := now.UnixNano()

	notBefore := enqueuedAt
	if !t.NotBefore.IsZero() {
		notBefore = t.NotBefore.UnixNano()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (item_id, retry_counter, thread_id, run_id, content_override, attempts, enqueued_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ItemID,
		t.RetryCounter,
		t.ThreadID,
		t.RunID,
		t.ContentOverride,
		t.Attempts,
		enqueuedAt,
		notBefore,
	)
	return err
}

// EnqueueRun schedules a fresh submission for the item after delay.
func (q *Queue) EnqueueRun(ctx context.Context, itemID string, retryCounter int, delay time.Duration) error {
	return q.Enqueue(ctx, Task{
		ItemID:       itemID,
		RetryCounter: retryCounter,
		NotBefore:    time.Now().Add(delay),
	})
}

// EnqueuePoll schedules a poll of an in-flight run after delay.
func (q *Queue) EnqueuePoll(ctx context.Context, itemID string, retryCounter int, threadID, runID string, delay time.Duration) error {
	return q.Enqueue(ctx, Task{
		ItemID:       itemID,
		RetryCounter: retryCounter,
		ThreadID:     threadID,
		RunID:        runID,
		NotBefore:    time.Now().Add(delay),
	})
}

// Dequeue blocks until a runnable task is available or ctx is done. The
// claimed task is deleted before it is returned, so a task is delivered to
// exactly one worker.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		task, err := q.tryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		// Nothing runnable yet: sleep a bit and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// tryDequeue claims at most one runnable task, returning nil when the queue
// holds none.
func (q *Queue) tryDequeue(ctx context.Context) (*Task, error) {
	now := time.Now().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var (
		id          int64
		t           Task
		enqueuedInt int64
		notBefore   int64
	)
	row := tx.QueryRowContext(ctx, `
		SELECT id, item_id, retry_counter, thread_id, run_id, content_override, attempts, enqueued_at, not_before
		FROM tasks
		WHERE not_before <= ?
		ORDER BY not_before, id
		LIMIT 1`, now)
	err = row.Scan(&id, &t.ItemID, &t.RetryCounter, &t.ThreadID, &t.RunID, &t.ContentOverride, &t.Attempts, &enqueuedInt, &notBefore)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, nil
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	t.EnqueuedAt = time.Unix(0, enqueuedInt)
	t.NotBefore = time.Unix(0, notBefore)
	return &t, nil
}

// PendingItemIDs returns the set of item ids that still have a queued task,
// runnable or not.
func (q *Queue) PendingItemIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT DISTINCT item_id FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending item id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Len reports how many tasks are queued, runnable or not.
func (q *Queue) Len() (int, error) {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}
