package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/workflow"
)

func TestBeginRunReusesRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, item := seedWorkflow(t, s)

	first, err := s.BeginRun(ctx, item.ID, workflow.RunKindBook, "thread-1", "run-1", workflow.RunQueued, "first prompt")
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}

	// A fresh submission for the same stage replaces the handles in place.
	second, err := s.BeginRun(ctx, item.ID, workflow.RunKindBook, "thread-2", "run-2", workflow.RunQueued, "second prompt")
	if err != nil {
		t.Fatalf("begin run again: %v", err)
	}
	if first != second {
		t.Errorf("row ids differ: %s vs %s", first, second)
	}

	run, err := s.RunForItem(ctx, item.ID, workflow.RunKindBook)
	if err != nil {
		t.Fatalf("run for item: %v", err)
	}
	if run.ThreadID != "thread-2" || run.RunID != "run-2" {
		t.Errorf("handles = %s/%s, want thread-2/run-2", run.ThreadID, run.RunID)
	}

	// The abandoned handle is gone and only one user message remains.
	if _, err := s.RunByHandle(ctx, "thread-1", "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale handle lookup err = %v, want ErrNotFound", err)
	}
	msgs, err := s.RunMessages(ctx, first)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "second prompt" {
		t.Errorf("message = %s %q", msgs[0].Role, msgs[0].Content)
	}
}

func TestBeginRunRejectsInvalidStatus(t *testing.T) {
	s := newTestStore(t)
	_, item := seedWorkflow(t, s)

	_, err := s.BeginRun(context.Background(), item.ID, workflow.RunKindBook, "t", "r", workflow.RunStatus("bogus"), "prompt")
	if !errors.Is(err, library.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestUpdateRunStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, item := seedWorkflow(t, s)

	if _, err := s.BeginRun(ctx, item.ID, workflow.RunKindBook, "thread-1", "run-1", workflow.RunQueued, "prompt"); err != nil {
		t.Fatalf("begin run: %v", err)
	}

	if err := s.UpdateRunStatus(ctx, "thread-1", "run-1", workflow.RunInProgress); err != nil {
		t.Fatalf("update: %v", err)
	}
	run, err := s.RunByHandle(ctx, "thread-1", "run-1")
	if err != nil {
		t.Fatalf("by handle: %v", err)
	}
	if run.Status != workflow.RunInProgress {
		t.Errorf("status = %s, want in_progress", run.Status)
	}

	if err := s.UpdateRunStatus(ctx, "thread-x", "run-x", workflow.RunCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown handle err = %v, want ErrNotFound", err)
	}
}

func TestCompleteRunWithBook(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, item := seedWorkflow(t, s)

	rowID, err := s.BeginRun(ctx, item.ID, workflow.RunKindBook, "thread-1", "run-1", workflow.RunQueued, "prompt")
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}

	bookID, err := s.CompleteRunWithBook(ctx, rowID, `{"isbn":"978-0441013593"}`, library.Book{
		UserID:      wf.UserID,
		ISBN:        "978-0441013593",
		Name:        "Dune",
		Rating:      4.5,
		PublishedAt: time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.Name != "Dune" || book.ISBN != "978-0441013593" {
		t.Errorf("book = %+v", book)
	}

	run, err := s.RunForItem(ctx, item.ID, workflow.RunKindBook)
	if err != nil {
		t.Fatalf("run for item: %v", err)
	}
	if run.RecordID != bookID {
		t.Errorf("record id = %d, want %d", run.RecordID, bookID)
	}

	msgs, err := s.RunMessages(ctx, rowID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestCompleteRunWithBookDuplicateISBNRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := seedUser(t, s)

	published := time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC)
	makeItem := func(threadID, runID string) (string, workflow.Item) {
		_, item, err := s.CreateWorkflow(ctx, user.ID, "book prompt", "author prompt")
		if err != nil {
			t.Fatalf("create workflow: %v", err)
		}
		rowID, err := s.BeginRun(ctx, item.ID, workflow.RunKindBook, threadID, runID, workflow.RunQueued, "prompt")
		if err != nil {
			t.Fatalf("begin run: %v", err)
		}
		return rowID, item
	}

	firstRow, _ := makeItem("thread-1", "run-1")
	if _, err := s.CompleteRunWithBook(ctx, firstRow, "reply", library.Book{
		UserID: user.ID, ISBN: "978-0441013593", Name: "Dune", PublishedAt: published,
	}); err != nil {
		t.Fatalf("first complete: %v", err)
	}

	secondRow, secondItem := makeItem("thread-2", "run-2")
	_, err := s.CompleteRunWithBook(ctx, secondRow, "reply", library.Book{
		UserID: user.ID, ISBN: "978-0441013593", Name: "Dune again", PublishedAt: published,
	})
	if !errors.Is(err, library.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}

	// The whole step rolled back: no assistant message, no record id.
	msgs, _ := s.RunMessages(ctx, secondRow)
	if len(msgs) != 1 {
		t.Errorf("got %d messages after rollback, want 1", len(msgs))
	}
	run, err := s.RunForItem(ctx, secondItem.ID, workflow.RunKindBook)
	if err != nil {
		t.Fatalf("run for item: %v", err)
	}
	if run.RecordID != 0 {
		t.Errorf("record id = %d after rollback, want 0", run.RecordID)
	}
	if n, _ := s.CountBooks(ctx); n != 1 {
		t.Errorf("book count = %d, want 1", n)
	}
}

func TestCompleteRunWithBookRejectsInvalidRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, item := seedWorkflow(t, s)

	rowID, err := s.BeginRun(ctx, item.ID, workflow.RunKindBook, "thread-1", "run-1", workflow.RunQueued, "prompt")
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}

	_, err = s.CompleteRunWithBook(ctx, rowID, "reply", library.Book{
		UserID: wf.UserID, ISBN: "x", Name: "x", Rating: 11,
		PublishedAt: time.Now(),
	})
	if !errors.Is(err, library.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestCompleteRunWithAuthor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	wf, item := seedWorkflow(t, s)

	bookRow, err := s.BeginRun(ctx, item.ID, workflow.RunKindBook, "thread-1", "run-1", workflow.RunQueued, "book prompt")
	if err != nil {
		t.Fatalf("begin book run: %v", err)
	}
	bookID, err := s.CompleteRunWithBook(ctx, bookRow, "reply", library.Book{
		UserID: wf.UserID, ISBN: "978-0441013593", Name: "Dune",
		PublishedAt: time.Date(1965, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("complete book: %v", err)
	}

	authorRow, err := s.BeginRun(ctx, item.ID, workflow.RunKindAuthor, "thread-1", "run-2", workflow.RunQueued, "author prompt")
	if err != nil {
		t.Fatalf("begin author run: %v", err)
	}
	authorID, err := s.CompleteRunWithAuthor(ctx, authorRow, "reply", library.Author{
		UserID:  wf.UserID,
		PenName: "Frank Herbert",
		BookIDs: []int64{bookID},
	})
	if err != nil {
		t.Fatalf("complete author: %v", err)
	}

	author, err := s.GetAuthor(ctx, authorID)
	if err != nil {
		t.Fatalf("get author: %v", err)
	}
	if author.PenName != "Frank Herbert" {
		t.Errorf("pen name = %q", author.PenName)
	}
	if len(author.BookIDs) != 1 || author.BookIDs[0] != bookID {
		t.Errorf("book ids = %v, want [%d]", author.BookIDs, bookID)
	}
}
