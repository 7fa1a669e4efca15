package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
}

func TestSubmitRun(t *testing.T) {
	var gotBody map[string]any
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/runs" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
			t.Errorf("beta header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id": "run-1", "thread_id": "thread-1", "status": "queued",
		})
	}))

	run, err := client.SubmitRun(context.Background(), "asst-1", []Message{
		{Role: "user", Content: "extract the book"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.ThreadID != "thread-1" || run.RunID != "run-1" || run.Status != "queued" {
		t.Errorf("run = %+v", run)
	}
	if gotBody["assistant_id"] != "asst-1" {
		t.Errorf("assistant_id = %v", gotBody["assistant_id"])
	}
}

func TestPollRun(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread-1/runs/run-1" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id": "run-1", "thread_id": "thread-1", "status": "completed",
		})
	}))

	run, err := client.PollRun(context.Background(), "thread-1", "run-1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if run.Status != "completed" {
		t.Errorf("status = %q, want completed", run.Status)
	}
}

func TestListMessagesFlattensContent(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread-1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[
			{"role":"assistant","content":[{"text":{"value":"the reply"}},{"text":{"value":"ignored"}}]},
			{"role":"user","content":[{"text":{"value":"the prompt"}}]},
			{"role":"assistant","content":[]}
		]}`))
	}))

	msgs, err := client.ListMessages(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != "assistant" || msgs[0].Content != "the reply" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Content != "the prompt" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if msgs[2].Content != "" {
		t.Errorf("msgs[2] content = %q, want empty", msgs[2].Content)
	}
}

func TestTransientStatusRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id": "run-1", "thread_id": "thread-1", "status": "queued",
		})
	}))

	run, err := client.PollRun(context.Background(), "thread-1", "run-1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if run.RunID != "run-1" {
		t.Errorf("run = %+v", run)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestTransientStatusExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.PollRun(context.Background(), "thread-1", "run-1")
	if !IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestNonTransientStatusFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"no such thread"}}`))
	}))

	_, err := client.PollRun(context.Background(), "thread-x", "run-x")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransport(err) {
		t.Errorf("404 classified as transport error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestConnectionErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewOpenAIClient(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	_, err := client.PollRun(context.Background(), "thread-1", "run-1")
	if !IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}
