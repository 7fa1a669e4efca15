package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "folio.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store) library.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), library.User{Email: "reader@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func seedWorkflow(t *testing.T, s *Store) (workflow.Workflow, workflow.Item) {
	t.Helper()
	user := seedUser(t, s)
	wf, item, err := s.CreateWorkflow(context.Background(), user.ID, "book prompt", "author prompt")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return wf, item
}

func TestCreateWorkflow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, item := seedWorkflow(t, s)

	if wf.Status != workflow.StatusInitial {
		t.Errorf("workflow status = %s, want initial", wf.Status)
	}
	if item.Status != workflow.ItemInitial {
		t.Errorf("item status = %s, want initial", item.Status)
	}

	loaded, err := s.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if loaded.BookPrompt != "book prompt" || loaded.AuthorPrompt != "author prompt" {
		t.Errorf("prompts = %q/%q", loaded.BookPrompt, loaded.AuthorPrompt)
	}

	items, err := s.ItemsForWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 1 || items[0].ID != item.ID {
		t.Errorf("items = %+v", items)
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetWorkflow(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTransitionWorkflow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, _ := seedWorkflow(t, s)

	// initial -> failed is not an edge; the row must stay untouched.
	err := s.TransitionWorkflow(ctx, wf.ID, workflow.StatusFailed)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	loaded, _ := s.GetWorkflow(ctx, wf.ID)
	if loaded.Status != workflow.StatusInitial {
		t.Errorf("status = %s after rejected transition", loaded.Status)
	}

	if err := s.TransitionWorkflow(ctx, wf.ID, workflow.StatusProcessing); err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if err := s.TransitionWorkflow(ctx, wf.ID, workflow.StatusSuccessful); err != nil {
		t.Fatalf("to successful: %v", err)
	}
	// Reruns move a settled workflow back to processing.
	if err := s.TransitionWorkflow(ctx, wf.ID, workflow.StatusProcessing); err != nil {
		t.Fatalf("back to processing: %v", err)
	}
}

func TestMarkWorkflowProcessingIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, _ := seedWorkflow(t, s)

	for i := 0; i < 3; i++ {
		if err := s.MarkWorkflowProcessing(ctx, wf.ID); err != nil {
			t.Fatalf("mark processing (call %d): %v", i+1, err)
		}
	}
	loaded, _ := s.GetWorkflow(ctx, wf.ID)
	if loaded.Status != workflow.StatusProcessing {
		t.Errorf("status = %s, want processing", loaded.Status)
	}
}

func TestTransitionItem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, item := seedWorkflow(t, s)

	// initial -> author skips the book stage and must be rejected.
	if err := s.TransitionItem(ctx, item.ID, workflow.ItemAuthor); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	for _, target := range []workflow.ItemStatus{workflow.ItemBook, workflow.ItemAuthor, workflow.ItemSuccessful} {
		if err := s.TransitionItem(ctx, item.ID, target); err != nil {
			t.Fatalf("to %s: %v", target, err)
		}
	}

	loaded, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if loaded.Status != workflow.ItemSuccessful {
		t.Errorf("status = %s, want successful", loaded.Status)
	}
}

func TestDeleteWorkflowCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, item := seedWorkflow(t, s)

	if err := s.TransitionItem(ctx, item.ID, workflow.ItemBook); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := s.BeginRun(ctx, item.ID, workflow.RunKindBook, "t1", "r1", workflow.RunQueued, "prompt"); err != nil {
		t.Fatalf("begin run: %v", err)
	}

	if err := s.DeleteWorkflow(ctx, wf.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("item survived delete: %v", err)
	}
	if _, err := s.RunForItem(ctx, item.ID, workflow.RunKindBook); !errors.Is(err, ErrNotFound) {
		t.Errorf("run survived delete: %v", err)
	}

	if err := s.DeleteWorkflow(ctx, wf.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestFailItemAndReconcile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, item := seedWorkflow(t, s)

	if err := s.TransitionItem(ctx, item.ID, workflow.ItemBook); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.MarkWorkflowProcessing(ctx, wf.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	status, err := s.FailItemAndReconcile(ctx, item.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if status != workflow.StatusFailed {
		t.Errorf("workflow status = %s, want failed", status)
	}

	loaded, _ := s.GetItem(ctx, item.ID)
	if loaded.Status != workflow.ItemFailed {
		t.Errorf("item status = %s, want failed", loaded.Status)
	}
}

func TestFailItemAndReconcileAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, item := seedWorkflow(t, s)

	for _, target := range []workflow.ItemStatus{workflow.ItemBook, workflow.ItemAuthor, workflow.ItemSuccessful} {
		if err := s.TransitionItem(ctx, item.ID, target); err != nil {
			t.Fatalf("to %s: %v", target, err)
		}
	}
	if err := s.MarkWorkflowProcessing(ctx, wf.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	// The item cannot be failed from successful; reconciliation settles the
	// workflow from what the items actually are.
	status, err := s.FailItemAndReconcile(ctx, item.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if status != workflow.StatusSuccessful {
		t.Errorf("workflow status = %s, want successful", status)
	}
	loaded, _ := s.GetItem(ctx, item.ID)
	if loaded.Status != workflow.ItemSuccessful {
		t.Errorf("item status = %s, want successful", loaded.Status)
	}
}

func TestFailItemAndReconcileMissingItem(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.FailItemAndReconcile(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUnsettledItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := seedUser(t, s)

	_, initial, err := s.CreateWorkflow(ctx, user.ID, "b", "a")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	_, inBook, err := s.CreateWorkflow(ctx, user.ID, "b", "a")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if err := s.TransitionItem(ctx, inBook.ID, workflow.ItemBook); err != nil {
		t.Fatalf("transition: %v", err)
	}
	_, settled, err := s.CreateWorkflow(ctx, user.ID, "b", "a")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if err := s.TransitionItem(ctx, settled.ID, workflow.ItemBook); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := s.FailItemAndReconcile(ctx, settled.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	items, err := s.UnsettledItems(ctx)
	if err != nil {
		t.Fatalf("unsettled items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d unsettled items, want 2", len(items))
	}
	if items[0].ID != initial.ID || items[1].ID != inBook.ID {
		t.Errorf("items = [%s %s], want [%s %s]", items[0].ID, items[1].ID, initial.ID, inBook.ID)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s)

	_, err := s.CreateUser(ctx, library.User{Email: "reader@example.com"})
	if !errors.Is(err, library.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}
