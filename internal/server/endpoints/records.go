package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// BookResponse is the view of an imported book.
type BookResponse struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ISBN        string    `json:"isbn"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Rating      float64   `json:"rating"`
	PublishedAt time.Time `json:"published_at"`
}

// GetBookEndpoint handles GET /api/books/{id}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}", e.handler
}

func (e *GetBookEndpoint) RequiresInit() bool { return true }

func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	book, err := st.GetBook(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("book %d not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, BookResponse{
		ID:          book.ID,
		UserID:      book.UserID,
		ISBN:        book.ISBN,
		Name:        book.Name,
		Description: book.Description,
		Rating:      book.Rating,
		PublishedAt: book.PublishedAt,
	})
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book-id>",
		Short: "Get an imported book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp BookResponse
			if err := client.Get(ctx, "/api/books/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// AuthorResponse is the view of an imported author.
type AuthorResponse struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"user_id"`
	PenName    string  `json:"pen_name"`
	Bio        string  `json:"bio,omitempty"`
	IsVerified bool    `json:"is_verified"`
	BookIDs    []int64 `json:"book_ids"`
}

// GetAuthorEndpoint handles GET /api/authors/{id}.
type GetAuthorEndpoint struct{}

func (e *GetAuthorEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/authors/{id}", e.handler
}

func (e *GetAuthorEndpoint) RequiresInit() bool { return true }

func (e *GetAuthorEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid author id")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	author, err := st.GetAuthor(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("author %d not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AuthorResponse{
		ID:         author.ID,
		UserID:     author.UserID,
		PenName:    author.PenName,
		Bio:        author.Bio,
		IsVerified: author.IsVerified,
		BookIDs:    author.BookIDs,
	})
}

func (e *GetAuthorEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <author-id>",
		Short: "Get an imported author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp AuthorResponse
			if err := client.Get(ctx, "/api/authors/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
