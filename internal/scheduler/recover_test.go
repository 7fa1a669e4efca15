package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackzampolin/folio/internal/assistant"
	"github.com/jackzampolin/folio/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// A claimed task is deleted from the queue before it is processed, so a
// process that dies in between leaves its item with no task at all. Recover
// must requeue it so the next start picks the import back up.
func TestRecoverRequeuesItemClaimedBeforeCrash(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, &assistant.MockClient{
		Replies: []string{goodBookReply, goodAuthorReply},
	})

	p.start(t)
	task, err := p.queue.tryDequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if task == nil {
		t.Fatal("no task claimed")
	}

	// The process dies here: the task is gone and the item never ran.
	if n := queueLen(t, p.queue); n != 0 {
		t.Fatalf("len = %d, want 0 after claim", n)
	}

	requeued, err := Recover(ctx, p.store, p.queue, discardLogger())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}

	p.drain(t)
	if got := p.itemStatus(t); got != workflow.ItemSuccessful {
		t.Errorf("item status = %s, want successful", got)
	}
	if got := p.workflowStatus(t); got != workflow.StatusSuccessful {
		t.Errorf("workflow status = %s, want successful", got)
	}
}

func TestRecoverLeavesHealthyItemsAlone(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, &assistant.MockClient{
		Replies: []string{goodBookReply, goodAuthorReply},
	})

	// The item's task is still queued, so there is nothing to recover.
	p.start(t)
	requeued, err := Recover(ctx, p.store, p.queue, discardLogger())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if requeued != 0 {
		t.Errorf("requeued = %d, want 0 with a pending task", requeued)
	}
	if n := queueLen(t, p.queue); n != 1 {
		t.Errorf("len = %d, want the original task only", n)
	}

	// A settled item needs no task either.
	p.drain(t)
	requeued, err = Recover(ctx, p.store, p.queue, discardLogger())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if requeued != 0 {
		t.Errorf("requeued = %d, want 0 after settling", requeued)
	}
	if n := queueLen(t, p.queue); n != 0 {
		t.Errorf("len = %d, want empty queue", n)
	}
}

// A panicking work unit must not kill the worker or strand the task: the
// task is redelivered with a bumped attempt count and reconciles into a
// failed item once the redelivery budget is spent.
func TestProcessContainsPanic(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, &assistant.MockClient{})

	// A worker with no driver wired panics as soon as it executes a stage.
	broken := NewWorker(WorkerConfig{
		Store:  p.store,
		Queue:  p.queue,
		Logger: discardLogger(),
	})

	p.start(t)
	task, err := p.queue.tryDequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	broken.Process(ctx, task)

	redelivered, err := p.queue.tryDequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after panic: %v", err)
	}
	if redelivered == nil {
		t.Fatal("task was not redelivered after panic")
	}
	if redelivered.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", redelivered.Attempts)
	}

	// At the redelivery bound the failure reconciles instead.
	if err := p.store.MarkWorkflowProcessing(ctx, p.wf.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	redelivered.Attempts = DefaultTransportAttempts - 1
	broken.Process(ctx, redelivered)

	if got := p.itemStatus(t); got != workflow.ItemFailed {
		t.Errorf("item status = %s, want failed", got)
	}
	if got := p.workflowStatus(t); got != workflow.StatusFailed {
		t.Errorf("workflow status = %s, want failed", got)
	}
	if n := queueLen(t, p.queue); n != 0 {
		t.Errorf("len = %d, want empty queue after reconciliation", n)
	}
}
