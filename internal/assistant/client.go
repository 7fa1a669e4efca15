// Package assistant talks to an OpenAI-style assistants API. The rest of the
// system treats it as an opaque capability: submit a conversation and get a
// run handle back, poll the run, and fetch the thread's messages once it
// finishes. Transport-level failures are distinguishable from request-level
// ones so callers can decide what is worth retrying.
package assistant

import (
	"context"
	"errors"
	"fmt"
)

// Message is one outgoing conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Run identifies an in-flight or finished assistant run.
type Run struct {
	ThreadID string
	RunID    string
	Status   string
}

// ThreadMessage is one message as reported by the service, flattened to its
// first text segment.
type ThreadMessage struct {
	Role    string
	Content string
}

// Client is the assistant-completion capability.
type Client interface {
	// SubmitRun creates a new thread seeded with messages and starts a run
	// against the given assistant.
	SubmitRun(ctx context.Context, assistantID string, messages []Message) (Run, error)

	// PollRun reports the current status of a run.
	PollRun(ctx context.Context, threadID, runID string) (Run, error)

	// ListMessages returns the thread's messages, most recent first.
	ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error)
}

// TransportError marks a transient failure reaching the service: timeouts,
// connection resets, 5xx responses, rate limiting. Callers should try again
// later; the request itself was fine.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("assistant %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
