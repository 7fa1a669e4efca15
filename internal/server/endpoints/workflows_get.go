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

// WorkflowResponse is the full view of a workflow with its items.
type WorkflowResponse struct {
	ID           string         `json:"id"`
	UserID       int64          `json:"user_id"`
	Status       string         `json:"status"`
	BookPrompt   string         `json:"book_prompt"`
	AuthorPrompt string         `json:"author_prompt"`
	Items        []ItemResponse `json:"items"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ItemResponse is the view of one workflow item.
type ItemResponse struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	BookThreadRunID   string    `json:"book_thread_run_id,omitempty"`
	AuthorThreadRunID string    `json:"author_thread_run_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func workflowResponse(wf workflow.Workflow, items []workflow.Item) WorkflowResponse {
	resp := WorkflowResponse{
		ID:           wf.ID,
		UserID:       wf.UserID,
		Status:       string(wf.Status),
		BookPrompt:   wf.BookPrompt,
		AuthorPrompt: wf.AuthorPrompt,
		CreatedAt:    wf.CreatedAt,
		UpdatedAt:    wf.UpdatedAt,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, ItemResponse{
			ID:                item.ID,
			Status:            string(item.Status),
			BookThreadRunID:   item.BookThreadRunID,
			AuthorThreadRunID: item.AuthorThreadRunID,
			CreatedAt:         item.CreatedAt,
			UpdatedAt:         item.UpdatedAt,
		})
	}
	return resp
}

// GetWorkflowEndpoint handles GET /api/workflows/{id}.
type GetWorkflowEndpoint struct{}

func (e *GetWorkflowEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/workflows/{id}", e.handler
}

func (e *GetWorkflowEndpoint) RequiresInit() bool { return true }

func (e *GetWorkflowEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
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

	items, err := st.ItemsForWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, workflowResponse(wf, items))
}

func (e *GetWorkflowEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <workflow-id>",
		Short: "Get a workflow with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp WorkflowResponse
			if err := client.Get(ctx, "/api/workflows/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
