package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// UserResponse is the view of a user.
type UserResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// CreateUserEndpoint handles POST /api/users.
type CreateUserEndpoint struct{}

func (e *CreateUserEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/users", e.handler
}

func (e *CreateUserEndpoint) RequiresInit() bool { return true }

func (e *CreateUserEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	user, err := st.CreateUser(r.Context(), library.User{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if errors.Is(err, library.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
}

func (e *CreateUserEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		email     string
		firstName string
		lastName  string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp UserResponse
			req := CreateUserRequest{Email: email, FirstName: firstName, LastName: lastName}
			if err := client.Post(ctx, "/api/users", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email (required)")
	cmd.Flags().StringVar(&firstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "Last name")
	return cmd
}
