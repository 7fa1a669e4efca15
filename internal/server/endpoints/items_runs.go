package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/workflow"
)

// RunResponse is the view of one assistant run with its conversation.
type RunResponse struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Status   string            `json:"status"`
	ThreadID string            `json:"thread_id"`
	RunID    string            `json:"run_id"`
	RecordID int64             `json:"record_id,omitempty"`
	Messages []MessageResponse `json:"messages"`
}

// MessageResponse is one conversation turn.
type MessageResponse struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemRunsResponse is the response for listing an item's runs.
type ItemRunsResponse struct {
	ItemID string        `json:"item_id"`
	Runs   []RunResponse `json:"runs"`
}

// ItemRunsEndpoint handles GET /api/items/{id}/runs.
type ItemRunsEndpoint struct{}

func (e *ItemRunsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/items/{id}/runs", e.handler
}

func (e *ItemRunsEndpoint) RequiresInit() bool { return true }

func (e *ItemRunsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	if _, err := st.GetItem(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("item %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ItemRunsResponse{ItemID: id, Runs: []RunResponse{}}
	for _, kind := range []workflow.RunKind{workflow.RunKindBook, workflow.RunKindAuthor} {
		run, err := st.RunForItem(r.Context(), id, kind)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		msgs, err := st.RunMessages(r.Context(), run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		rr := RunResponse{
			ID:       run.ID,
			Kind:     string(run.Kind),
			Status:   string(run.Status),
			ThreadID: run.ThreadID,
			RunID:    run.RunID,
			RecordID: run.RecordID,
			Messages: []MessageResponse{},
		}
		for _, m := range msgs {
			rr.Messages = append(rr.Messages, MessageResponse{
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			})
		}
		resp.Runs = append(resp.Runs, rr)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ItemRunsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "runs <item-id>",
		Short: "Show an item's assistant runs and conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp ItemRunsResponse
			if err := client.Get(ctx, "/api/items/"+args[0]+"/runs", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
