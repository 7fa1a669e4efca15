package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the OpenAI assistants client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
	MaxRetries int           // Transport retry attempts (default: 3)
	RetryDelay time.Duration // Base delay between transport retries (default: 1s)
	Timeout    time.Duration // Per-request timeout (default: 60s)
}

// OpenAIClient implements Client against the OpenAI Assistants v2 API.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new assistants API client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIDefaultBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		client:     client,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// SubmitRun creates a thread with the given messages and starts a run via
// the combined create-thread-and-run endpoint.
func (c *OpenAIClient) SubmitRun(ctx context.Context, assistantID string, messages []Message) (Run, error) {
	body := map[string]any{
		"assistant_id": assistantID,
		"thread": map[string]any{
			"messages": messages,
		},
	}

	var resp runResponse
	if err := c.doJSON(ctx, http.MethodPost, "/threads/runs", body, &resp); err != nil {
		return Run{}, err
	}
	return Run{ThreadID: resp.ThreadID, RunID: resp.ID, Status: resp.Status}, nil
}

// PollRun retrieves the run's current status.
func (c *OpenAIClient) PollRun(ctx context.Context, threadID, runID string) (Run, error) {
	var resp runResponse
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Run{}, err
	}
	return Run{ThreadID: resp.ThreadID, RunID: resp.ID, Status: resp.Status}, nil
}

// ListMessages returns the thread's messages, most recent first (the API's
// default ordering). Each message is flattened to its first text segment.
func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	var resp messageListResponse
	path := fmt.Sprintf("/threads/%s/messages", threadID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]ThreadMessage, 0, len(resp.Data))
	for _, m := range resp.Data {
		tm := ThreadMessage{Role: m.Role}
		if len(m.Content) > 0 {
			tm.Content = m.Content[0].Text.Value
		}
		out = append(out, tm)
	}
	return out, nil
}

// doJSON performs one API call with transport-level retries. Transient
// failures (network errors, 429, 5xx) come back as *TransportError after the
// retry budget is spent; anything else fails immediately.
func (c *OpenAIClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	return retry.Do(
		func() error {
			var bodyReader io.Reader
			if body != nil {
				bodyBytes, err := json.Marshal(body)
				if err != nil {
					return fmt.Errorf("failed to marshal request: %w", err)
				}
				bodyReader = bytes.NewReader(bodyBytes)
			}

			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("OpenAI-Beta", "assistants=v2")

			resp, err := c.client.Do(req)
			if err != nil {
				return &TransportError{Op: op, Err: err}
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return &TransportError{Op: op, Err: err}
			}

			if transientStatus(resp.StatusCode) {
				return &TransportError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, respBody)
			}

			if out != nil {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("%s: failed to decode response: %w", op, err)
				}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(c.retryDelay),
		retry.RetryIf(IsTransport),
		retry.LastErrorOnly(true),
	)
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

type runResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

type messageListResponse struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}
