package endpoints

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// WorkflowSummary is one row of a workflow listing.
type WorkflowSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListWorkflowsResponse is the response for listing workflows.
type ListWorkflowsResponse struct {
	Workflows []WorkflowSummary `json:"workflows"`
	Count     int               `json:"count"`
}

// ListWorkflowsEndpoint handles GET /api/workflows.
type ListWorkflowsEndpoint struct{}

func (e *ListWorkflowsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/workflows", e.handler
}

func (e *ListWorkflowsEndpoint) RequiresInit() bool { return true }

func (e *ListWorkflowsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	workflows, err := st.ListWorkflows(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ListWorkflowsResponse{Workflows: []WorkflowSummary{}}
	for _, wf := range workflows {
		resp.Workflows = append(resp.Workflows, WorkflowSummary{
			ID:        wf.ID,
			Status:    string(wf.Status),
			CreatedAt: wf.CreatedAt,
			UpdatedAt: wf.UpdatedAt,
		})
	}
	resp.Count = len(resp.Workflows)

	writeJSON(w, http.StatusOK, resp)
}

func (e *ListWorkflowsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp ListWorkflowsResponse
			path := fmt.Sprintf("/api/workflows?user_id=%d", userID)
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Owning user id (required)")
	return cmd
}
