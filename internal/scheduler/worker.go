package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/folio/internal/assistant"
	"github.com/jackzampolin/folio/internal/driver"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/workflow"
)

const (
	// DefaultMaxRetries bounds fresh-run retries after unstable responses.
	DefaultMaxRetries = 3

	// DefaultTransportAttempts bounds redeliveries of a single task across
	// transport failures.
	DefaultTransportAttempts = 5
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Store  *store.Store
	Driver *driver.Driver
	Queue  *Queue
	Logger *slog.Logger

	// MaxRetries is the unstable-response retry bound per stage. Zero means
	// DefaultMaxRetries.
	MaxRetries int

	// TransportAttempts is the redelivery bound for one task across
	// transport failures. Zero means DefaultTransportAttempts.
	TransportAttempts int

	// RetryDelay is the pause before a fresh run retries an unstable stage.
	RetryDelay time.Duration

	// TransportBackoff is the base delay for transport redeliveries; it
	// doubles per attempt.
	TransportBackoff time.Duration
}

// Worker drains the queue, dispatches each task to the driver stage matching
// the item's current status, and classifies whatever the driver returns. A
// worker never lets one bad task stop the loop.
type Worker struct {
	store             *store.Store
	driver            *driver.Driver
	queue             *Queue
	logger            *slog.Logger
	maxRetries        int
	transportAttempts int
	retryDelay        time.Duration
	transportBackoff  time.Duration
}

// NewWorker creates a Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	transportAttempts := cfg.TransportAttempts
	if transportAttempts == 0 {
		transportAttempts = DefaultTransportAttempts
	}
	return &Worker{
		store:             cfg.Store,
		driver:            cfg.Driver,
		queue:             cfg.Queue,
		logger:            logger.With("component", "worker"),
		maxRetries:        maxRetries,
		transportAttempts: transportAttempts,
		retryDelay:        cfg.RetryDelay,
		transportBackoff:  cfg.TransportBackoff,
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		w.Process(ctx, task)
	}
}

// Process runs one task end to end: dispatch to the driver, then classify
// the outcome. Exported so tests (and pipelines without the blocking loop)
// can step the scheduler deterministically.
func (w *Worker) Process(ctx context.Context, task *Task) {
	w.classify(ctx, task, w.dispatchSafe(ctx, task))
}

// dispatchSafe contains panics from the work unit so one bad task cannot
// kill the worker. A recovered panic is redelivered within the same attempt
// budget as a transport failure.
func (w *Worker) dispatchSafe(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &workUnitPanic{value: r}
		}
	}()
	return w.dispatch(ctx, task)
}

// workUnitPanic wraps a value recovered from a panicking work unit.
type workUnitPanic struct {
	value any
}

func (e *workUnitPanic) Error() string {
	return fmt.Sprintf("work unit panicked: %v", e.value)
}

// dispatch picks the stage matching the item's status and executes the task.
func (w *Worker) dispatch(ctx context.Context, task *Task) error {
	item, err := w.store.GetItem(ctx, task.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Warn("dropping task for deleted item", "item", task.ItemID)
		return nil
	}
	if err != nil {
		return err
	}

	// A newly created item enters its first stage here.
	if item.Status == workflow.ItemInitial {
		if err := w.store.TransitionItem(ctx, item.ID, workflow.ItemBook); err != nil {
			return err
		}
		item.Status = workflow.ItemBook
	}

	switch item.Status {
	case workflow.ItemBook:
		return w.driver.Execute(ctx, driver.BookStage(), taskRequest(task))
	case workflow.ItemAuthor:
		return w.driver.Execute(ctx, driver.AuthorStage(), taskRequest(task))
	default:
		// Terminal items can still have stale tasks in flight; they die here.
		w.logger.Info("dropping task for settled item", "item", item.ID, "status", item.Status)
		return nil
	}
}

func taskRequest(task *Task) driver.Request {
	return driver.Request{
		ItemID:          task.ItemID,
		RetryCounter:    task.RetryCounter,
		ThreadID:        task.ThreadID,
		RunID:           task.RunID,
		ContentOverride: task.ContentOverride,
	}
}

// classify routes a driver outcome: drop, retry fresh, redeliver, or
// reconcile the failure into workflow state.
func (w *Worker) classify(ctx context.Context, task *Task, err error) {
	if err == nil {
		return
	}

	var verr *driver.ValidationError
	if errors.As(err, &verr) {
		// Structurally bad or duplicate-delivered work: retrying cannot
		// help, and reconciling would clobber an item that moved on.
		w.logger.Warn("dropping invalid task", "item", task.ItemID, "err", err)
		return
	}

	var uerr *driver.UnstableError
	if errors.As(err, &uerr) {
		if task.RetryCounter >= w.maxRetries {
			exceeded := &driver.ExceededRetriesError{Max: w.maxRetries, Last: err}
			w.reconcile(ctx, task.ItemID, exceeded)
			return
		}
		w.logger.Warn("retrying unstable stage",
			"item", task.ItemID, "retry", task.RetryCounter+1, "err", err)
		if qerr := w.queue.EnqueueRun(ctx, task.ItemID, task.RetryCounter+1, w.retryDelay); qerr != nil {
			w.logger.Error("failed to enqueue retry", "item", task.ItemID, "err", qerr)
		}
		return
	}

	var perr *workUnitPanic
	if assistant.IsTransport(err) || errors.As(err, &perr) {
		if task.Attempts+1 >= w.transportAttempts {
			w.reconcile(ctx, task.ItemID, err)
			return
		}
		redelivered := *task
		redelivered.Attempts++
		redelivered.NotBefore = time.Now().Add(w.transportBackoff << task.Attempts)
		w.logger.Warn("redelivering task",
			"item", task.ItemID, "attempt", redelivered.Attempts, "err", err)
		if qerr := w.queue.Enqueue(ctx, redelivered); qerr != nil {
			w.logger.Error("failed to redeliver task", "item", task.ItemID, "err", qerr)
		}
		return
	}

	w.reconcile(ctx, task.ItemID, err)
}

// reconcile records a permanent failure: the item is marked failed and the
// workflow settles according to its siblings. Errors here are logged and
// swallowed so the worker loop keeps running.
func (w *Worker) reconcile(ctx context.Context, itemID string, cause error) {
	w.logger.Error("reconciling failed item", "item", itemID, "cause", cause)

	status, err := w.store.FailItemAndReconcile(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Warn("item vanished before reconciliation", "item", itemID)
		return
	}
	if err != nil {
		w.logger.Error("failure reconciliation errored", "item", itemID, "err", err)
		return
	}
	w.logger.Info("workflow reconciled", "item", itemID, "workflow_status", status)
}
