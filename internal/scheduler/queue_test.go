package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/folio/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "folio.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q, err := NewQueue(st.DB())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func queueLen(t *testing.T, q *Queue) int {
	t.Helper()
	n, err := q.Len()
	if err != nil {
		t.Fatalf("queue len: %v", err)
	}
	return n
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.EnqueueRun(ctx, id, 0, 0); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if n := queueLen(t, q); n != 3 {
		t.Fatalf("len = %d, want 3", n)
	}

	for _, want := range []string{"a", "b", "c"} {
		task, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if task.ItemID != want {
			t.Errorf("dequeued %s, want %s", task.ItemID, want)
		}
	}
	if n := queueLen(t, q); n != 0 {
		t.Errorf("len = %d, want 0 after draining", n)
	}
}

func TestQueueDelayedTaskInvisible(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.EnqueueRun(ctx, "later", 0, time.Hour); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.EnqueueRun(ctx, "now", 0, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, err := q.tryDequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if task == nil || task.ItemID != "now" {
		t.Fatalf("dequeued %+v, want the runnable task", task)
	}

	// The delayed task stays invisible but still counted.
	task, err = q.tryDequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if task != nil {
		t.Errorf("dequeued %+v before its not_before", task)
	}
	if n := queueLen(t, q); n != 1 {
		t.Errorf("len = %d, want 1", n)
	}
}

func TestQueuePreservesTaskFields(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	in := Task{
		ItemID:          "item-1",
		RetryCounter:    2,
		ThreadID:        "thread-9",
		RunID:           "run-9",
		ContentOverride: "use the revised prompt",
		Attempts:        1,
	}
	if err := q.Enqueue(ctx, in); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if out.ItemID != in.ItemID || out.RetryCounter != in.RetryCounter ||
		out.ThreadID != in.ThreadID || out.RunID != in.RunID ||
		out.ContentOverride != in.ContentOverride || out.Attempts != in.Attempts {
		t.Errorf("task round trip mismatch: %+v", out)
	}
	if out.EnqueuedAt.IsZero() || out.NotBefore.IsZero() {
		t.Error("timestamps not set on dequeue")
	}
}

func TestQueueDequeueHonorsCancel(t *testing.T) {
	q := newTestQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("dequeue on empty queue returned without error")
	}
}
