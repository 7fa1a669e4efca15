package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/workflow"
)

// CreateWorkflow persists a new workflow with a single item in the initial
// state, atomically. The returned workflow and item carry generated IDs.
func (s *Store) CreateWorkflow(ctx context.Context, userID int64, bookPrompt, authorPrompt string) (workflow.Workflow, workflow.Item, error) {
	now := nowNano()
	wf := workflow.Workflow{
		ID:           uuid.New().String(),
		UserID:       userID,
		BookPrompt:   bookPrompt,
		AuthorPrompt: authorPrompt,
		Status:       workflow.StatusInitial,
		CreatedAt:    fromNano(now),
		UpdatedAt:    fromNano(now),
	}
	item := workflow.Item{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Status:     workflow.ItemInitial,
		CreatedAt:  fromNano(now),
		UpdatedAt:  fromNano(now),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workflows (id, user_id, status, book_prompt, author_prompt, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			wf.ID, wf.UserID, string(wf.Status), wf.BookPrompt, wf.AuthorPrompt, now, now,
		); err != nil {
			return fmt.Errorf("failed to insert workflow: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_items (id, workflow_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			item.ID, item.WorkflowID, string(item.Status), now, now,
		); err != nil {
			return fmt.Errorf("failed to insert workflow item: %w", err)
		}
		return nil
	})
	if err != nil {
		return workflow.Workflow{}, workflow.Item{}, err
	}
	return wf, item, nil
}

// GetWorkflow loads one workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (workflow.Workflow, error) {
	return scanWorkflow(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, book_prompt, author_prompt, created_at, updated_at
		FROM workflows WHERE id = ?`, id))
}

// ListWorkflows returns all workflows owned by a user, newest first.
func (s *Store) ListWorkflows(ctx context.Context, userID int64) ([]workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, book_prompt, author_prompt, created_at, updated_at
		FROM workflows WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a workflow; items, thread runs, and messages go with
// it via foreign key cascade.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

// TransitionWorkflow moves a workflow to target if the transition table
// allows it from the current status. Returns ErrInvalidTransition (leaving
// the row unchanged) otherwise.
func (s *Store) TransitionWorkflow(ctx context.Context, id string, target workflow.Status) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return transitionWorkflowTx(ctx, tx, id, target)
	})
}

func transitionWorkflowTx(ctx context.Context, tx *sql.Tx, id string, target workflow.Status) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load workflow status: %w", err)
	}

	if !workflow.CanTransition(workflow.Status(current), target) {
		return fmt.Errorf("workflow %s from %s to %s: %w", id, current, target, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
		string(target), nowNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", err)
	}
	return nil
}

// MarkWorkflowProcessing transitions the workflow to processing when legal
// and is a no-op if it already is. Called every time a run starts, so it has
// to tolerate repetition.
func (s *Store) MarkWorkflowProcessing(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load workflow status: %w", err)
		}
		if workflow.Status(current) == workflow.StatusProcessing {
			return nil
		}
		if !workflow.CanTransition(workflow.Status(current), workflow.StatusProcessing) {
			return fmt.Errorf("workflow %s from %s to processing: %w", id, current, ErrInvalidTransition)
		}
		_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
			string(workflow.StatusProcessing), nowNano(), id)
		return err
	})
}

// GetItem loads one workflow item by id, including its thread-run references.
func (s *Store) GetItem(ctx context.Context, id string) (workflow.Item, error) {
	return scanItem(s.db.QueryRowContext(ctx, itemSelect+` WHERE i.id = ?`, id))
}

// ItemsForWorkflow returns a workflow's items, oldest first.
func (s *Store) ItemsForWorkflow(ctx context.Context, workflowID string) ([]workflow.Item, error) {
	rows, err := s.db.QueryContext(ctx, itemSelect+` WHERE i.workflow_id = ? ORDER BY i.created_at, i.rowid`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []workflow.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UnsettledItems returns every item that has not reached a terminal status,
// oldest first.
func (s *Store) UnsettledItems(ctx context.Context) ([]workflow.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		itemSelect+` WHERE i.status NOT IN (?, ?) ORDER BY i.created_at, i.rowid`,
		string(workflow.ItemFailed), string(workflow.ItemSuccessful))
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled items: %w", err)
	}
	defer rows.Close()

	var out []workflow.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// TransitionItem moves an item to target if the item transition table allows
// it. Returns ErrInvalidTransition (leaving the row unchanged) otherwise.
func (s *Store) TransitionItem(ctx context.Context, id string, target workflow.ItemStatus) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return transitionItemTx(ctx, tx, id, target)
	})
}

func transitionItemTx(ctx context.Context, tx *sql.Tx, id string, target workflow.ItemStatus) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT status FROM workflow_items WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("workflow item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load item status: %w", err)
	}

	if !workflow.CanTransitionItem(workflow.ItemStatus(current), target) {
		return fmt.Errorf("item %s from %s to %s: %w", id, current, target, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx, `UPDATE workflow_items SET status = ?, updated_at = ? WHERE id = ?`,
		string(target), nowNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}
	return nil
}

// FailItemAndReconcile marks the item failed (when legal) and re-evaluates
// the parent workflow's aggregate status, all inside one write transaction so
// two concurrently failing items cannot race the guard evaluation. Returns
// the workflow's resulting status.
func (s *Store) FailItemAndReconcile(ctx context.Context, itemID string) (workflow.Status, error) {
	var result workflow.Status
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var workflowID, itemStatus string
		err := tx.QueryRowContext(ctx,
			`SELECT workflow_id, status FROM workflow_items WHERE id = ?`, itemID).
			Scan(&workflowID, &itemStatus)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("workflow item %s: %w", itemID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load item: %w", err)
		}

		if workflow.CanTransitionItem(workflow.ItemStatus(itemStatus), workflow.ItemFailed) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE workflow_items SET status = ?, updated_at = ? WHERE id = ?`,
				string(workflow.ItemFailed), nowNano(), itemID); err != nil {
				return fmt.Errorf("failed to mark item failed: %w", err)
			}
		}

		statuses, err := itemStatusesTx(ctx, tx, workflowID)
		if err != nil {
			return err
		}

		var wfStatus string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = ?`, workflowID).Scan(&wfStatus); err != nil {
			return fmt.Errorf("failed to load workflow status: %w", err)
		}
		result = workflow.Status(wfStatus)

		switch {
		case workflow.ShouldBeSuccessful(statuses) && workflow.CanTransition(result, workflow.StatusSuccessful):
			result = workflow.StatusSuccessful
		case workflow.ShouldBeFailed(statuses) && workflow.CanTransition(result, workflow.StatusFailed):
			result = workflow.StatusFailed
		default:
			return nil
		}

		_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
			string(result), nowNano(), workflowID)
		return err
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func itemStatusesTx(ctx context.Context, tx *sql.Tx, workflowID string) ([]workflow.ItemStatus, error) {
	rows, err := tx.QueryContext(ctx, `SELECT status FROM workflow_items WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load item statuses: %w", err)
	}
	defer rows.Close()

	var out []workflow.ItemStatus
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, workflow.ItemStatus(s))
	}
	return out, rows.Err()
}

const itemSelect = `
	SELECT i.id, i.workflow_id, i.status,
		COALESCE((SELECT id FROM thread_runs WHERE item_id = i.id AND kind = 'book'), ''),
		COALESCE((SELECT id FROM thread_runs WHERE item_id = i.id AND kind = 'author'), ''),
		i.created_at, i.updated_at
	FROM workflow_items i`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (workflow.Workflow, error) {
	var (
		wf                   workflow.Workflow
		status               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&wf.ID, &wf.UserID, &status, &wf.BookPrompt, &wf.AuthorPrompt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Workflow{}, ErrNotFound
	}
	if err != nil {
		return workflow.Workflow{}, fmt.Errorf("failed to scan workflow: %w", err)
	}
	wf.Status = workflow.Status(status)
	wf.CreatedAt = fromNano(createdAt)
	wf.UpdatedAt = fromNano(updatedAt)
	return wf, nil
}

func scanItem(row rowScanner) (workflow.Item, error) {
	var (
		item                 workflow.Item
		status               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&item.ID, &item.WorkflowID, &status,
		&item.BookThreadRunID, &item.AuthorThreadRunID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Item{}, ErrNotFound
	}
	if err != nil {
		return workflow.Item{}, fmt.Errorf("failed to scan item: %w", err)
	}
	item.Status = workflow.ItemStatus(status)
	item.CreatedAt = fromNano(createdAt)
	item.UpdatedAt = fromNano(updatedAt)
	return item, nil
}
