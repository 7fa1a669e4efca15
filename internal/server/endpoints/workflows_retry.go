package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/scheduler"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/workflow"
)

// RetryWorkflowRequest is the request body for retrying a failed workflow.
type RetryWorkflowRequest struct {
	// ContentOverride replaces the book prompt for the retried submissions.
	ContentOverride string `json:"content_override,omitempty"`
}

// RetryWorkflowResponse is the response for retrying a workflow.
type RetryWorkflowResponse struct {
	ID      string `json:"id"`
	Retried int    `json:"retried_items"`
}

// RetryWorkflowEndpoint handles POST /api/workflows/{id}/retry. Failed items
// restart from the book stage with a fresh retry budget.
type RetryWorkflowEndpoint struct{}

func (e *RetryWorkflowEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/workflows/{id}/retry", e.handler
}

func (e *RetryWorkflowEndpoint) RequiresInit() bool { return true }

func (e *RetryWorkflowEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req RetryWorkflowRequest
	if r.Body != nil {
		// An empty body means no override.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	st := svcctx.StoreFrom(r.Context())
	queue := svcctx.QueueFrom(r.Context())
	if st == nil || queue == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	wf, err := st.GetWorkflow(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wf.Status != workflow.StatusFailed {
		writeError(w, http.StatusConflict, fmt.Sprintf("workflow is %s; only failed workflows can be retried", wf.Status))
		return
	}

	items, err := st.ItemsForWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	retried := 0
	for _, item := range items {
		if item.Status != workflow.ItemFailed {
			continue
		}
		if err := st.TransitionItem(r.Context(), item.ID, workflow.ItemBook); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := queue.Enqueue(r.Context(), scheduler.Task{
			ItemID:          item.ID,
			ContentOverride: req.ContentOverride,
		}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		retried++
	}

	if retried > 0 {
		if err := st.MarkWorkflowProcessing(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, RetryWorkflowResponse{ID: id, Retried: retried})
}

func (e *RetryWorkflowEndpoint) Command(getServerURL func() string) *cobra.Command {
	var override string
	cmd := &cobra.Command{
		Use:   "retry <workflow-id>",
		Short: "Retry a failed workflow's items from the book stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp RetryWorkflowResponse
			req := RetryWorkflowRequest{ContentOverride: override}
			if err := client.Post(ctx, "/api/workflows/"+args[0]+"/retry", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&override, "content-override", "", "Replace the book prompt for the retried submissions")
	return cmd
}
