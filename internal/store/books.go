package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/lectern/internal/entity"
)

const bookColumns = `id, uri, title, cfi_location, page, total_pages, progress, sections_percentages, initial_locations`

// CreateBook inserts a new book for uri.
// Returns the existing book when uri was already opened, keeping creation
// idempotent across repeated opens of the same document.
func (s *Store) CreateBook(ctx context.Context, uri, title string) (entity.Book, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, uri, title)
		VALUES (?, ?, ?)
		ON CONFLICT(uri) DO NOTHING
	`, s.ids.Generate(), uri, title)
	if err != nil {
		return entity.Book{}, fmt.Errorf("create book: %w", err)
	}
	return s.BookByURI(ctx, uri)
}

// Book retrieves a book by ID.
// Returns entity.ErrNotFound if it does not exist.
func (s *Store) Book(ctx context.Context, id string) (entity.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	book, err := scanBook(row)
	if err != nil {
		return entity.Book{}, fmt.Errorf("read book %s: %w", id, err)
	}
	return book, nil
}

// BookByURI retrieves a book by its source URI.
func (s *Store) BookByURI(ctx context.Context, uri string) (entity.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE uri = ?`, uri)
	book, err := scanBook(row)
	if err != nil {
		return entity.Book{}, fmt.Errorf("read book by uri: %w", err)
	}
	return book, nil
}

// ChangeCfiLocation persists the renderer's position token.
func (s *Store) ChangeCfiLocation(ctx context.Context, id, cfi string) error {
	if err := s.execIntent(ctx, "change cfi location",
		`UPDATE books SET cfi_location = ? WHERE id = ?`, cfi, id); err != nil {
		return err
	}
	s.publish(ctx, id)
	return nil
}

// ChangeCurrentPage writes page and progress in one statement.
// The page must lie inside the currently stored pagination.
func (s *Store) ChangeCurrentPage(ctx context.Context, id string, page int, progress float64) error {
	if page < 0 {
		return fmt.Errorf("change current page: %w: %d", entity.ErrInvalidPage, page)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE books SET page = ?, progress = ?
		WHERE id = ? AND ? <= total_pages
	`, page, clampProgress(progress), id, page)
	if err != nil {
		return fmt.Errorf("change current page: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("change current page: rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.Book(ctx, id); err != nil {
			return fmt.Errorf("change current page: %w", err)
		}
		return fmt.Errorf("change current page: %w: %d", entity.ErrInvalidPage, page)
	}
	s.publish(ctx, id)
	return nil
}

// ChangePagination replaces the page count and rescaled position together.
func (s *Store) ChangePagination(ctx context.Context, id string, totalPages, page int, progress float64) error {
	if totalPages < 0 || page < 0 || page > totalPages {
		return fmt.Errorf("change pagination: %w: page %d of %d", entity.ErrInvalidPage, page, totalPages)
	}
	if err := s.execIntent(ctx, "change pagination",
		`UPDATE books SET total_pages = ?, page = ?, progress = ? WHERE id = ?`,
		totalPages, page, clampProgress(progress), id); err != nil {
		return err
	}
	s.publish(ctx, id)
	return nil
}

// ChangeSectionsPercentages stores the per-section page distribution.
func (s *Store) ChangeSectionsPercentages(ctx context.Context, id string, percentages []float64) error {
	if percentages == nil {
		percentages = []float64{}
	}
	data, err := json.Marshal(percentages)
	if err != nil {
		return fmt.Errorf("change sections percentages: %w", err)
	}
	if err := s.execIntent(ctx, "change sections percentages",
		`UPDATE books SET sections_percentages = ? WHERE id = ?`, string(data), id); err != nil {
		return err
	}
	s.publish(ctx, id)
	return nil
}

// ChangeInitialLocations stores the renderer's pagination manifest once.
// Later calls are no-ops and report false.
func (s *Store) ChangeInitialLocations(ctx context.Context, id string, locations json.RawMessage) (bool, error) {
	if !json.Valid(locations) {
		return false, fmt.Errorf("change initial locations: invalid JSON manifest")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE books SET initial_locations = ?
		WHERE id = ? AND initial_locations IN ('', 'null', '[]', '{}', '""')
	`, string(locations), id)
	if err != nil {
		return false, fmt.Errorf("change initial locations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("change initial locations: rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.Book(ctx, id); err != nil {
			return false, fmt.Errorf("change initial locations: %w", err)
		}
		return false, nil
	}
	s.publish(ctx, id)
	return true, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (entity.Book, error) {
	var b entity.Book
	var percentages, locations string
	err := row.Scan(&b.ID, &b.URI, &b.Title, &b.CfiLocation, &b.Page, &b.TotalPages,
		&b.Progress, &percentages, &locations)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Book{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.Book{}, err
	}

	if err := json.Unmarshal([]byte(percentages), &b.SectionsPercentages); err != nil {
		return entity.Book{}, fmt.Errorf("unmarshal sections_percentages: %w", err)
	}
	if b.SectionsPercentages == nil {
		b.SectionsPercentages = []float64{}
	}
	if locations != "" {
		b.InitialLocations = json.RawMessage(locations)
	}
	return b, nil
}

// clampProgress keeps float rounding from tripping the CHECK constraint.
func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
