package driver

import "fmt"

// ValidationError marks a structural precondition failure: missing item id,
// item in the wrong stage for the invoked driver, missing assistant config.
// Retrying cannot fix these, so the scheduler drops the work unit instead of
// re-enqueuing or reconciling. This is also how a duplicate delivery for an
// item that already moved on dies harmlessly.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// UnstableError marks assistant output that could not be parsed or persisted
// as the expected record: non-JSON text, a missing payload key, a run that
// finished without completing, or a record the store rejects. The scheduler
// retries these with a brand-new run, up to the configured bound.
type UnstableError struct {
	Reason string
	Err    error
}

func (e *UnstableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unstable assistant response: %s: %v", e.Reason, e.Err)
	}
	return "unstable assistant response: " + e.Reason
}

func (e *UnstableError) Unwrap() error {
	return e.Err
}

// ExceededRetriesError is the permanent failure raised when unstable
// responses burn through the retry budget. Routed to failure reconciliation.
type ExceededRetriesError struct {
	Max  int
	Last error
}

func (e *ExceededRetriesError) Error() string {
	return fmt.Sprintf("assistant exceeded %d retries: %v", e.Max, e.Last)
}

func (e *ExceededRetriesError) Unwrap() error {
	return e.Last
}
