package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/workflow"
)

// BeginRun records a freshly submitted assistant run for an item's stage and
// its "user" prompt message, atomically. An item has at most one thread run
// per stage: a retried stage reuses the existing row, replacing the external
// identifiers, so abandoned handles never accumulate extra rows. Returns the
// thread-run row id.
func (s *Store) BeginRun(ctx context.Context, itemID string, kind workflow.RunKind, threadID, runID string, status workflow.RunStatus, userMessage string) (string, error) {
	if !status.Valid() {
		return "", fmt.Errorf("thread run status %q: %w", status, library.ErrInvalid)
	}

	var rowID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := nowNano()

		err := tx.QueryRowContext(ctx,
			`SELECT id FROM thread_runs WHERE item_id = ? AND kind = ?`, itemID, string(kind)).Scan(&rowID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			rowID = uuid.New().String()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO thread_runs (id, item_id, kind, status, thread_id, run_id, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				rowID, itemID, string(kind), string(status), threadID, runID, now, now,
			); err != nil {
				return fmt.Errorf("failed to insert thread run: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to look up thread run: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE thread_runs SET status = ?, thread_id = ?, run_id = ?, updated_at = ? WHERE id = ?`,
				string(status), threadID, runID, now, rowID,
			); err != nil {
				return fmt.Errorf("failed to update thread run: %w", err)
			}
		}

		// One user message per run; a retried stage replaces its content.
		var msgID string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM messages WHERE thread_run_id = ? AND role = 'user'
			ORDER BY created_at, rowid LIMIT 1`, rowID).Scan(&msgID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (id, thread_run_id, role, content, created_at)
				VALUES (?, ?, 'user', ?, ?)`,
				uuid.New().String(), rowID, userMessage, now,
			); err != nil {
				return fmt.Errorf("failed to insert user message: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to look up user message: %w", err)
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`,
				userMessage, msgID); err != nil {
				return fmt.Errorf("failed to update user message: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return rowID, nil
}

// RunForItem loads the thread run for an item's stage, if one exists.
func (s *Store) RunForItem(ctx context.Context, itemID string, kind workflow.RunKind) (workflow.ThreadRun, error) {
	return scanRun(s.db.QueryRowContext(ctx, runSelect+` WHERE item_id = ? AND kind = ?`, itemID, string(kind)))
}

// RunByHandle loads a thread run by its external (thread id, run id) pair.
func (s *Store) RunByHandle(ctx context.Context, threadID, runID string) (workflow.ThreadRun, error) {
	return scanRun(s.db.QueryRowContext(ctx, runSelect+` WHERE thread_id = ? AND run_id = ?`, threadID, runID))
}

// UpdateRunStatus persists a polled run status by external handle. This is a
// single statement on purpose: the status must be visible even if the work
// unit crashes immediately afterwards.
func (s *Store) UpdateRunStatus(ctx context.Context, threadID, runID string, status workflow.RunStatus) error {
	if !status.Valid() {
		return fmt.Errorf("thread run status %q: %w", status, library.ErrInvalid)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE thread_runs SET status = ?, updated_at = ? WHERE thread_id = ? AND run_id = ?`,
		string(status), nowNano(), threadID, runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread run %s/%s: %w", threadID, runID, ErrNotFound)
	}
	return nil
}

// RunMessages returns a thread run's own messages in creation order.
func (s *Store) RunMessages(ctx context.Context, threadRunID string) ([]workflow.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_run_id, role, content, created_at
		FROM messages WHERE thread_run_id = ?
		ORDER BY created_at, rowid`, threadRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var out []workflow.Message
	for rows.Next() {
		var (
			m         workflow.Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ThreadRunID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = fromNano(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CompleteRunWithBook persists a completed book extraction: the assistant's
// raw reply as a message, the book record itself, and the book id back onto
// the thread run, in one transaction. A validation or uniqueness failure
// rolls the whole step back and surfaces as library.ErrInvalid.
func (s *Store) CompleteRunWithBook(ctx context.Context, threadRunID, assistantReply string, b library.Book) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}

	var bookID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := nowNano()
		if err := appendAssistantMessage(ctx, tx, threadRunID, assistantReply, now); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO books (user_id, isbn, name, description, rating, published_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.UserID, b.ISBN, b.Name, b.Description, b.Rating, b.PublishedAt.UnixNano(), now, now)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: isbn %s already exists", library.ErrInvalid, b.ISBN)
		}
		if err != nil {
			return fmt.Errorf("failed to insert book: %w", err)
		}
		bookID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read book id: %w", err)
		}

		return setRunRecord(ctx, tx, threadRunID, bookID, now)
	})
	if err != nil {
		return 0, err
	}
	return bookID, nil
}

// CompleteRunWithAuthor persists a completed author extraction: assistant
// reply message, author record, author-book associations, and the author id
// on the thread run, in one transaction.
func (s *Store) CompleteRunWithAuthor(ctx context.Context, threadRunID, assistantReply string, a library.Author) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}

	var authorID int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := nowNano()
		if err := appendAssistantMessage(ctx, tx, threadRunID, assistantReply, now); err != nil {
			return err
		}

		verified := 0
		if a.IsVerified {
			verified = 1
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO authors (user_id, pen_name, bio, is_verified, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.UserID, a.PenName, a.Bio, verified, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert author: %w", err)
		}
		authorID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read author id: %w", err)
		}

		for _, bookID := range a.BookIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO author_books (author_id, book_id) VALUES (?, ?)`,
				authorID, bookID); err != nil {
				if isUniqueViolation(err) {
					continue
				}
				return fmt.Errorf("%w: book %d cannot be associated", library.ErrInvalid, bookID)
			}
		}

		return setRunRecord(ctx, tx, threadRunID, authorID, now)
	})
	if err != nil {
		return 0, err
	}
	return authorID, nil
}

func appendAssistantMessage(ctx context.Context, tx *sql.Tx, threadRunID, content string, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_run_id, role, content, created_at)
		VALUES (?, ?, 'assistant', ?, ?)`,
		uuid.New().String(), threadRunID, content, now)
	if err != nil {
		return fmt.Errorf("failed to insert assistant message: %w", err)
	}
	return nil
}

func setRunRecord(ctx context.Context, tx *sql.Tx, threadRunID string, recordID, now int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE thread_runs SET record_id = ?, updated_at = ? WHERE id = ?`,
		recordID, now, threadRunID)
	if err != nil {
		return fmt.Errorf("failed to set run record id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread run %s: %w", threadRunID, ErrNotFound)
	}
	return nil
}

const runSelect = `
	SELECT id, kind, status, thread_id, run_id, record_id, created_at, updated_at
	FROM thread_runs`

func scanRun(row rowScanner) (workflow.ThreadRun, error) {
	var (
		run                  workflow.ThreadRun
		kind, status         string
		createdAt, updatedAt int64
	)
	err := row.Scan(&run.ID, &kind, &status, &run.ThreadID, &run.RunID, &run.RecordID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ThreadRun{}, ErrNotFound
	}
	if err != nil {
		return workflow.ThreadRun{}, fmt.Errorf("failed to scan thread run: %w", err)
	}
	run.Kind = workflow.RunKind(kind)
	run.Status = workflow.RunStatus(status)
	run.CreatedAt = fromNano(createdAt)
	run.UpdatedAt = fromNano(updatedAt)
	return run, nil
}
