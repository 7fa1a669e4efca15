package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/scheduler"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// CreateWorkflowRequest is the request body for starting an import workflow.
type CreateWorkflowRequest struct {
	UserID       int64  `json:"user_id"`
	BookPrompt   string `json:"book_prompt"`
	AuthorPrompt string `json:"author_prompt"`

	// ContentOverride replaces the book prompt for the first submission only.
	ContentOverride string `json:"content_override,omitempty"`
}

// CreateWorkflowResponse is the response for creating a workflow.
type CreateWorkflowResponse struct {
	ID     string `json:"id"`
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

// CreateWorkflowEndpoint handles POST /api/workflows.
type CreateWorkflowEndpoint struct{}

func (e *CreateWorkflowEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/workflows", e.handler
}

func (e *CreateWorkflowEndpoint) RequiresInit() bool { return true }

func (e *CreateWorkflowEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.BookPrompt == "" || req.AuthorPrompt == "" {
		writeError(w, http.StatusBadRequest, "book_prompt and author_prompt are required")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	queue := svcctx.QueueFrom(r.Context())
	if st == nil || queue == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	if _, err := st.GetUser(r.Context(), req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("user %d not found", req.UserID))
		return
	}

	wf, item, err := st.CreateWorkflow(r.Context(), req.UserID, req.BookPrompt, req.AuthorPrompt)
	if err != nil {
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

	writeJSON(w, http.StatusCreated, CreateWorkflowResponse{
		ID:     wf.ID,
		ItemID: item.ID,
		Status: string(wf.Status),
	})
}

func (e *CreateWorkflowEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		userID       int64
		bookPrompt   string
		authorPrompt string
		override     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a book + author import workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}
			if bookPrompt == "" || authorPrompt == "" {
				return fmt.Errorf("--book-prompt and --author-prompt are required")
			}
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp CreateWorkflowResponse
			req := CreateWorkflowRequest{
				UserID:          userID,
				BookPrompt:      bookPrompt,
				AuthorPrompt:    authorPrompt,
				ContentOverride: override,
			}
			if err := client.Post(ctx, "/api/workflows", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Owning user id (required)")
	cmd.Flags().StringVar(&bookPrompt, "book-prompt", "", "Prompt for the book extraction stage (required)")
	cmd.Flags().StringVar(&authorPrompt, "author-prompt", "", "Prompt for the author extraction stage (required)")
	cmd.Flags().StringVar(&override, "content-override", "", "Replace the book prompt for the first submission")
	return cmd
}
