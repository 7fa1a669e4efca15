package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackzampolin/folio/internal/library"
)

// CreateUser persists a new user and returns it with its generated id.
func (s *Store) CreateUser(ctx context.Context, u library.User) (library.User, error) {
	if err := u.Validate(); err != nil {
		return library.User{}, err
	}

	now := nowNano()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, first_name, last_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.Email, u.FirstName, u.LastName, now, now)
	if isUniqueViolation(err) {
		return library.User{}, fmt.Errorf("%w: email %s already exists", library.ErrInvalid, u.Email)
	}
	if err != nil {
		return library.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	u.ID, err = res.LastInsertId()
	if err != nil {
		return library.User{}, fmt.Errorf("failed to read user id: %w", err)
	}
	u.CreatedAt = fromNano(now)
	u.UpdatedAt = fromNano(now)
	return u, nil
}

// GetUser loads one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (library.User, error) {
	var (
		u                    library.User
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return library.User{}, ErrNotFound
	}
	if err != nil {
		return library.User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = fromNano(createdAt)
	u.UpdatedAt = fromNano(updatedAt)
	return u, nil
}

// GetBook loads one book by id.
func (s *Store) GetBook(ctx context.Context, id int64) (library.Book, error) {
	var (
		b                                 library.Book
		userID                            sql.NullInt64
		publishedAt, createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, isbn, name, description, rating, published_at, created_at, updated_at
		FROM books WHERE id = ?`, id).
		Scan(&b.ID, &userID, &b.ISBN, &b.Name, &b.Description, &b.Rating, &publishedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Book{}, ErrNotFound
	}
	if err != nil {
		return library.Book{}, fmt.Errorf("failed to scan book: %w", err)
	}
	b.UserID = userID.Int64
	b.PublishedAt = fromNano(publishedAt)
	b.CreatedAt = fromNano(createdAt)
	b.UpdatedAt = fromNano(updatedAt)
	return b, nil
}

// GetAuthor loads one author by id, including its associated book ids.
func (s *Store) GetAuthor(ctx context.Context, id int64) (library.Author, error) {
	var (
		a                    library.Author
		verified             int
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, pen_name, bio, is_verified, created_at, updated_at
		FROM authors WHERE id = ?`, id).
		Scan(&a.ID, &a.UserID, &a.PenName, &a.Bio, &verified, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Author{}, ErrNotFound
	}
	if err != nil {
		return library.Author{}, fmt.Errorf("failed to scan author: %w", err)
	}
	a.IsVerified = verified != 0
	a.CreatedAt = fromNano(createdAt)
	a.UpdatedAt = fromNano(updatedAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT book_id FROM author_books WHERE author_id = ? ORDER BY book_id`, id)
	if err != nil {
		return library.Author{}, fmt.Errorf("failed to load author books: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bookID int64
		if err := rows.Scan(&bookID); err != nil {
			return library.Author{}, err
		}
		a.BookIDs = append(a.BookIDs, bookID)
	}
	return a, rows.Err()
}

// CountBooks returns the number of book rows. Used by tests asserting that a
// failed completion persisted nothing.
func (s *Store) CountBooks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n)
	return n, err
}

// CountAuthors returns the number of author rows.
func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM authors`).Scan(&n)
	return n, err
}
