// Package library holds the catalog records an import materializes: users,
// books, and authors. Validation mirrors what the store will accept, so the
// driver can surface a bad record before (or instead of) a constraint error.
package library

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid marks a record that fails validation. The driver treats a
// validation failure during completion persistence as an unstable assistant
// response, so callers check for it with errors.Is.
var ErrInvalid = errors.New("invalid record")

// User owns imported books and authors.
type User struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the user against store constraints.
func (u User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalid)
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: email %q is malformed", ErrInvalid, u.Email)
	}
	return nil
}

// Book is one imported book record.
type Book struct {
	ID          int64
	UserID      int64
	ISBN        string
	Name        string
	Description string
	Rating      float64
	PublishedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the book against store constraints: ISBN and name are
// required, rating stays within 0..5, and published_at must be set.
func (b Book) Validate() error {
	if strings.TrimSpace(b.ISBN) == "" {
		return fmt.Errorf("%w: isbn is required", ErrInvalid)
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if b.Rating < 0 || b.Rating > 5 {
		return fmt.Errorf("%w: rating %.2f is out of range [0, 5]", ErrInvalid, b.Rating)
	}
	if b.PublishedAt.IsZero() {
		return fmt.Errorf("%w: published_at is required", ErrInvalid)
	}
	return nil
}

// Author is one imported author record, associated with the books the same
// import produced.
type Author struct {
	ID         int64
	UserID     int64
	PenName    string
	Bio        string
	IsVerified bool
	BookIDs    []int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks the author against store constraints.
func (a Author) Validate() error {
	if a.UserID == 0 {
		return fmt.Errorf("%w: author requires an owning user", ErrInvalid)
	}
	if strings.TrimSpace(a.PenName) == "" {
		return fmt.Errorf("%w: pen_name is required", ErrInvalid)
	}
	return nil
}
