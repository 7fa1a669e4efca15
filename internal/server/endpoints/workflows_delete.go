package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// DeleteWorkflowResponse is the response for deleting a workflow.
type DeleteWorkflowResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// DeleteWorkflowEndpoint handles DELETE /api/workflows/{id}.
type DeleteWorkflowEndpoint struct{}

func (e *DeleteWorkflowEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/workflows/{id}", e.handler
}

func (e *DeleteWorkflowEndpoint) RequiresInit() bool { return true }

func (e *DeleteWorkflowEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	err := st.DeleteWorkflow(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Stale queue tasks for the deleted items die as misdeliveries.
	writeJSON(w, http.StatusOK, DeleteWorkflowResponse{ID: id, Deleted: true})
}

func (e *DeleteWorkflowEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "Delete a workflow and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			if err := client.Delete(ctx, "/api/workflows/"+args[0]); err != nil {
				return err
			}
			return api.Output(DeleteWorkflowResponse{ID: args[0], Deleted: true})
		},
	}
}
