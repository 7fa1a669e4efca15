// Package driver runs one workflow item through its assistant extraction
// stages. A single generic driver is parameterized by a Stage strategy (book
// or author); each invocation is one discrete work unit that either submits
// a fresh assistant run or polls an in-flight one, then schedules whatever
// comes next. Nothing here blocks waiting for the assistant: suspension is
// always a re-enqueue with a delay.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/folio/internal/assistant"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/workflow"
)

// Enqueuer schedules future work units for an item. Implemented by the
// scheduler's queue; defined here so the driver does not depend on it.
type Enqueuer interface {
	// EnqueueRun schedules a fresh work unit with no in-flight run handle,
	// forcing a new assistant run when it executes.
	EnqueueRun(ctx context.Context, itemID string, retryCounter int, delay time.Duration) error

	// EnqueuePoll schedules a work unit that polls an in-flight run.
	EnqueuePoll(ctx context.Context, itemID string, retryCounter int, threadID, runID string, delay time.Duration) error
}

// Config configures a Driver.
type Config struct {
	Store     *store.Store
	Client    assistant.Client
	Scheduler Enqueuer
	Logger    *slog.Logger

	// AssistantID identifies the assistant configuration to run against.
	AssistantID string

	// PollInterval is the delay between run status polls. Zero is valid
	// (deterministic tests).
	PollInterval time.Duration

	// StageDelay is the pause between book completion and the author run.
	StageDelay time.Duration
}

// Driver executes work units against the assistant service.
type Driver struct {
	store        *store.Store
	client       assistant.Client
	sched        Enqueuer
	logger       *slog.Logger
	assistantID  string
	pollInterval time.Duration
	stageDelay   time.Duration
}

// New creates a Driver.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		store:        cfg.Store,
		client:       cfg.Client,
		sched:        cfg.Scheduler,
		logger:       logger.With("component", "driver"),
		assistantID:  cfg.AssistantID,
		pollInterval: cfg.PollInterval,
		stageDelay:   cfg.StageDelay,
	}
}

// Request is one work unit's parameters. ThreadID/RunID are empty for a
// fresh submission and set when polling an in-flight run. ContentOverride,
// when non-empty, replaces the stage's stored prompt for this submission.
type Request struct {
	ItemID          string
	RetryCounter    int
	ThreadID        string
	RunID           string
	ContentOverride string
}

// inFlight reports whether the request carries a run handle to poll.
func (r Request) inFlight() bool {
	return r.ThreadID != "" && r.RunID != ""
}

// Execute runs one work unit for the given stage. The returned error is nil
// on success (including "rescheduled a poll"); otherwise it is one of the
// classified error types the scheduler dispatches on.
func (d *Driver) Execute(ctx context.Context, stage Stage, req Request) error {
	if req.ItemID == "" {
		return &ValidationError{Reason: "workflow item id cannot be blank"}
	}
	if d.assistantID == "" {
		return &ValidationError{Reason: "assistant id is not configured"}
	}

	item, err := d.store.GetItem(ctx, req.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		return &ValidationError{Reason: fmt.Sprintf("workflow item %s not found", req.ItemID)}
	}
	if err != nil {
		return err
	}
	if item.Status != stage.Required {
		return &ValidationError{Reason: fmt.Sprintf(
			"item %s is %s; %s stage requires %s", item.ID, item.Status, stage.Kind, stage.Required)}
	}

	if req.inFlight() {
		return d.poll(ctx, stage, req, item)
	}
	return d.submit(ctx, stage, req, item)
}

// submit starts a new assistant run for the item's current stage, persists
// the thread run + user message atomically, marks the workflow processing,
// and schedules the first poll.
func (d *Driver) submit(ctx context.Context, stage Stage, req Request, item workflow.Item) error {
	wf, err := d.store.GetWorkflow(ctx, item.WorkflowID)
	if errors.Is(err, store.ErrNotFound) {
		return &ValidationError{Reason: fmt.Sprintf("workflow %s not found", item.WorkflowID)}
	}
	if err != nil {
		return err
	}

	history, err := stage.history(ctx, d, item)
	if err != nil {
		return err
	}

	prompt := stage.prompt(wf)
	if req.ContentOverride != "" {
		prompt = req.ContentOverride
	}
	messages := append(history, assistant.Message{Role: "user", Content: prompt})

	d.logger.Info("submitting assistant run",
		"item", item.ID, "stage", stage.Kind, "retry", req.RetryCounter)

	run, err := d.client.SubmitRun(ctx, d.assistantID, messages)
	if err != nil {
		// Transport failures roll back nothing: no state was written yet.
		return err
	}

	status := workflow.RunStatus(run.Status)
	if !status.Valid() {
		status = workflow.RunQueued
	}
	if _, err := d.store.BeginRun(ctx, item.ID, stage.Kind, run.ThreadID, run.RunID, status, prompt); err != nil {
		return err
	}

	if err := d.store.MarkWorkflowProcessing(ctx, wf.ID); err != nil {
		return err
	}

	return d.sched.EnqueuePoll(ctx, item.ID, req.RetryCounter, run.ThreadID, run.RunID, d.pollInterval)
}

// poll checks an in-flight run. The observed status is persisted before
// anything else happens so it survives a crash between poll and completion.
func (d *Driver) poll(ctx context.Context, stage Stage, req Request, item workflow.Item) error {
	run, err := d.client.PollRun(ctx, req.ThreadID, req.RunID)
	if err != nil {
		return err
	}

	status := workflow.RunStatus(run.Status)
	if !status.Valid() {
		return &UnstableError{Reason: fmt.Sprintf("assistant reported unknown run status %q", run.Status)}
	}

	if err := d.store.UpdateRunStatus(ctx, req.ThreadID, req.RunID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ValidationError{Reason: fmt.Sprintf(
				"no thread run recorded for %s/%s", req.ThreadID, req.RunID)}
		}
		return err
	}

	if !status.Finished() {
		d.logger.Debug("run still in flight",
			"item", item.ID, "stage", stage.Kind, "status", status)
		return d.sched.EnqueuePoll(ctx, item.ID, req.RetryCounter, req.ThreadID, req.RunID, d.pollInterval)
	}

	return d.complete(ctx, stage, req, item, status)
}

// complete handles a finished run: fetch the thread, parse the assistant's
// final reply into the stage's payload, persist the record, and advance.
func (d *Driver) complete(ctx context.Context, stage Stage, req Request, item workflow.Item, status workflow.RunStatus) error {
	if status != workflow.RunCompleted {
		return &UnstableError{Reason: fmt.Sprintf("run finished with status %s", status)}
	}

	msgs, err := d.client.ListMessages(ctx, req.ThreadID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return &UnstableError{Reason: "thread has no messages"}
	}
	reply := msgs[0].Content

	payload, err := extractPayload(reply, stage.Field, stage.schema)
	if err != nil {
		return err
	}

	run, err := d.store.RunByHandle(ctx, req.ThreadID, req.RunID)
	if errors.Is(err, store.ErrNotFound) {
		return &ValidationError{Reason: fmt.Sprintf(
			"no thread run recorded for %s/%s", req.ThreadID, req.RunID)}
	}
	if err != nil {
		return err
	}

	if err := stage.persist(ctx, d, item, run.ID, reply, payload); err != nil {
		return err
	}

	d.logger.Info("stage completed", "item", item.ID, "stage", stage.Kind)
	return stage.advance(ctx, d, item)
}
