package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/folio/internal/assistant"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/workflow"
)

// Stage is the per-extraction-stage strategy the generic driver executes.
// The two instances (book, author) differ only in what they prompt with,
// what conversation history they carry, and what record a completed run
// materializes.
type Stage struct {
	// Kind names the stage for run records and logs.
	Kind workflow.RunKind

	// Required is the item status this stage may run from. Any other status
	// rejects the work unit as misdelivered.
	Required workflow.ItemStatus

	// Field is the top-level JSON key the assistant's reply must carry.
	Field string

	schema  *jsonschema.Schema
	prompt  func(wf workflow.Workflow) string
	history func(ctx context.Context, d *Driver, item workflow.Item) ([]assistant.Message, error)
	persist func(ctx context.Context, d *Driver, item workflow.Item, runRowID, reply string, payload json.RawMessage) error
	advance func(ctx context.Context, d *Driver, item workflow.Item) error
}

// BookStage extracts the book record. It opens a fresh thread with only the
// workflow's book prompt and, on completion, hands the item to the author
// stage after the configured stage delay.
func BookStage() Stage {
	return Stage{
		Kind:     workflow.RunKindBook,
		Required: workflow.ItemBook,
		Field:    "book",
		schema:   bookSchema,
		prompt:   func(wf workflow.Workflow) string { return wf.BookPrompt },
		history: func(ctx context.Context, d *Driver, item workflow.Item) ([]assistant.Message, error) {
			return nil, nil
		},
		persist: persistBook,
		advance: func(ctx context.Context, d *Driver, item workflow.Item) error {
			if err := d.store.TransitionItem(ctx, item.ID, workflow.ItemAuthor); err != nil {
				return err
			}
			// The author run starts with a zeroed retry counter; book-stage
			// retries do not count against it.
			return d.sched.EnqueueRun(ctx, item.ID, 0, d.stageDelay)
		},
	}
}

// AuthorStage extracts the author record. Its thread replays the book run's
// conversation so the assistant answers in context, and on completion the
// item and, when every sibling agrees, the workflow become successful.
func AuthorStage() Stage {
	return Stage{
		Kind:     workflow.RunKindAuthor,
		Required: workflow.ItemAuthor,
		Field:    "author",
		schema:   authorSchema,
		prompt:   func(wf workflow.Workflow) string { return wf.AuthorPrompt },
		history:  authorHistory,
		persist:  persistAuthor,
		advance: func(ctx context.Context, d *Driver, item workflow.Item) error {
			if err := d.store.TransitionItem(ctx, item.ID, workflow.ItemSuccessful); err != nil {
				return err
			}
			return d.settleWorkflow(ctx, item.WorkflowID)
		},
	}
}

// authorHistory replays the book run's stored conversation. A missing book
// run means the item skipped its first stage somehow; treat that as an
// unstable state rather than submitting a contextless author run.
func authorHistory(ctx context.Context, d *Driver, item workflow.Item) ([]assistant.Message, error) {
	if item.BookThreadRunID == "" {
		return nil, &UnstableError{Reason: fmt.Sprintf("item %s has no recorded book run", item.ID)}
	}
	stored, err := d.store.RunMessages(ctx, item.BookThreadRunID)
	if err != nil {
		return nil, err
	}
	msgs := make([]assistant.Message, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, assistant.Message{Role: m.Role, Content: m.Content})
	}
	return msgs, nil
}

type bookPayload struct {
	ISBN        string  `json:"isbn"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Rating      float64 `json:"rating"`
	PublishedAt string  `json:"published_at"`
}

type authorPayload struct {
	PenName    string `json:"pen_name"`
	Bio        string `json:"bio"`
	IsVerified bool   `json:"is_verified"`
}

func persistBook(ctx context.Context, d *Driver, item workflow.Item, runRowID, reply string, payload json.RawMessage) error {
	var p bookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &UnstableError{Reason: "book payload does not decode", Err: err}
	}
	published, err := parsePublishedAt(p.PublishedAt)
	if err != nil {
		return &UnstableError{Reason: fmt.Sprintf("published_at %q is not a date", p.PublishedAt), Err: err}
	}

	wf, err := d.store.GetWorkflow(ctx, item.WorkflowID)
	if err != nil {
		return err
	}

	book := library.Book{
		UserID:      wf.UserID,
		ISBN:        p.ISBN,
		Name:        p.Name,
		Description: p.Description,
		Rating:      p.Rating,
		PublishedAt: published,
	}
	if _, err := d.store.CompleteRunWithBook(ctx, runRowID, reply, book); err != nil {
		if errors.Is(err, library.ErrInvalid) {
			return &UnstableError{Reason: "extracted book failed validation", Err: err}
		}
		return err
	}
	return nil
}

func persistAuthor(ctx context.Context, d *Driver, item workflow.Item, runRowID, reply string, payload json.RawMessage) error {
	var p authorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &UnstableError{Reason: "author payload does not decode", Err: err}
	}

	bookRun, err := d.store.RunForItem(ctx, item.ID, workflow.RunKindBook)
	if err != nil {
		return err
	}
	if bookRun.RecordID == 0 {
		return &UnstableError{Reason: fmt.Sprintf("book run for item %s produced no record", item.ID)}
	}

	wf, err := d.store.GetWorkflow(ctx, item.WorkflowID)
	if err != nil {
		return err
	}

	author := library.Author{
		UserID:     wf.UserID,
		PenName:    p.PenName,
		Bio:        p.Bio,
		IsVerified: p.IsVerified,
		BookIDs:    []int64{bookRun.RecordID},
	}
	if _, err := d.store.CompleteRunWithAuthor(ctx, runRowID, reply, author); err != nil {
		if errors.Is(err, library.ErrInvalid) {
			return &UnstableError{Reason: "extracted author failed validation", Err: err}
		}
		return err
	}
	return nil
}

// settleWorkflow promotes the workflow to successful once every item is
// terminal and at least one succeeded. A workflow with in-flight siblings is
// left processing; their own completions will settle it.
func (d *Driver) settleWorkflow(ctx context.Context, workflowID string) error {
	items, err := d.store.ItemsForWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	statuses := make([]workflow.ItemStatus, 0, len(items))
	for _, it := range items {
		statuses = append(statuses, it.Status)
	}
	if !workflow.ShouldBeSuccessful(statuses) {
		return nil
	}
	err = d.store.TransitionWorkflow(ctx, workflowID, workflow.StatusSuccessful)
	if errors.Is(err, store.ErrInvalidTransition) {
		// A concurrent settle already moved it.
		return nil
	}
	return err
}

// parsePublishedAt accepts the date shapes assistants actually produce.
func parsePublishedAt(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format %q", s)
}
