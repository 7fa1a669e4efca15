// Package workflow defines the agent import data model and the finite state
// machines that govern it. The types here are plain records; persistence and
// transition enforcement live in the store package, which consults the
// transition tables via CanTransition / CanTransitionItem.
package workflow

import "time"

// Workflow is one end-to-end import request covering a book + author pair.
type Workflow struct {
	ID           string
	UserID       int64
	BookPrompt   string
	AuthorPrompt string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Item is the stateful unit tracking a single import's progress through the
// book and author extraction stages. The thread-run references are filled in
// as each stage submits its assistant run.
type Item struct {
	ID                string
	WorkflowID        string
	Status            ItemStatus
	BookThreadRunID   string // empty until the book run is submitted
	AuthorThreadRunID string // empty until the author run is submitted
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RunKind distinguishes the two thread-run flavors an item owns.
type RunKind string

const (
	RunKindBook   RunKind = "book"
	RunKindAuthor RunKind = "author"
)

// RunStatus mirrors the assistant service's run states.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Finished reports whether the run has reached a state the assistant service
// will never advance past. requires_action counts as unfinished: the service
// is waiting on tool output this system never provides, so polling continues
// until the run expires on its own.
func (s RunStatus) Finished() bool {
	switch s {
	case RunCancelled, RunFailed, RunCompleted, RunIncomplete, RunExpired:
		return true
	}
	return false
}

// Valid reports whether s is one of the known assistant run states.
func (s RunStatus) Valid() bool {
	switch s {
	case RunQueued, RunInProgress, RunRequiresAction, RunCancelling,
		RunCancelled, RunFailed, RunCompleted, RunIncomplete, RunExpired:
		return true
	}
	return false
}

// ThreadRun is the persisted record of one assistant conversation.
type ThreadRun struct {
	ID        string
	Kind      RunKind
	Status    RunStatus
	ThreadID  string // external thread identifier
	RunID     string // external run identifier
	RecordID  int64  // book/author row produced by this run; 0 until completion
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn of an assistant conversation. Append-only, ordered by
// creation time.
type Message struct {
	ID          string
	ThreadRunID string
	Role        string // "user" or "assistant"
	Content     string
	CreatedAt   time.Time
}
