package assistant

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a Client for testing. Submissions are recorded; poll results
// and final replies are scripted. Zero value is usable: every submitted run
// completes on its first poll with an empty reply.
type MockClient struct {
	mu sync.Mutex

	// PollStatuses is consumed one entry per PollRun call. When exhausted,
	// polls report "completed".
	PollStatuses []string

	// Replies is consumed one entry per completed ListMessages call; the
	// entry becomes the newest message of the thread (the assistant's final
	// reply). When exhausted, the reply is empty.
	Replies []string

	// Error injection. Each non-nil error is returned once per counter.
	SubmitErrs []error // consumed per SubmitRun; nil entries mean success
	PollErr    error   // returned by every PollRun when set
	ListErr    error   // returned by every ListMessages when set

	// Recorded state.
	Submissions [][]Message // message sets passed to SubmitRun, in order

	threads map[string][]Message // thread id -> seeded conversation
	submits int
	polls   int
	lists   int
}

var _ Client = (*MockClient)(nil)

// SubmitRun records the submission and hands back a synthetic run handle.
func (c *MockClient) SubmitRun(_ context.Context, _ string, messages []Message) (Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.submits
	c.submits++
	if n < len(c.SubmitErrs) && c.SubmitErrs[n] != nil {
		return Run{}, c.SubmitErrs[n]
	}

	copied := make([]Message, len(messages))
	copy(copied, messages)
	c.Submissions = append(c.Submissions, copied)

	threadID := fmt.Sprintf("thread-%d", len(c.Submissions))
	runID := fmt.Sprintf("run-%d", len(c.Submissions))
	if c.threads == nil {
		c.threads = make(map[string][]Message)
	}
	c.threads[threadID] = copied

	return Run{ThreadID: threadID, RunID: runID, Status: "queued"}, nil
}

// PollRun reports the next scripted status.
func (c *MockClient) PollRun(_ context.Context, threadID, runID string) (Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PollErr != nil {
		return Run{}, c.PollErr
	}

	status := "completed"
	if c.polls < len(c.PollStatuses) {
		status = c.PollStatuses[c.polls]
	}
	c.polls++
	return Run{ThreadID: threadID, RunID: runID, Status: status}, nil
}

// ListMessages returns the seeded conversation plus the next scripted reply,
// most recent first, matching the live API's ordering.
func (c *MockClient) ListMessages(_ context.Context, threadID string) ([]ThreadMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ListErr != nil {
		return nil, c.ListErr
	}

	reply := ""
	if c.lists < len(c.Replies) {
		reply = c.Replies[c.lists]
	}
	c.lists++

	seeded := c.threads[threadID]
	out := []ThreadMessage{{Role: "assistant", Content: reply}}
	for i := len(seeded) - 1; i >= 0; i-- {
		out = append(out, ThreadMessage{Role: seeded[i].Role, Content: seeded[i].Content})
	}
	return out, nil
}

// SubmitCount returns how many runs were submitted.
func (c *MockClient) SubmitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}
