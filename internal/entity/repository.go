package entity

import (
	"context"
	"encoding/json"
)

// BookRepository is the Book half of the storage contract.
//
// Every Change* method is one atomic update and publishes the committed
// Book to observers.
type BookRepository interface {
	CreateBook(ctx context.Context, uri, title string) (Book, error)
	Book(ctx context.Context, id string) (Book, error)
	BookByURI(ctx context.Context, uri string) (Book, error)

	ChangeCfiLocation(ctx context.Context, id, cfi string) error

	// ChangeCurrentPage writes page and progress together.
	ChangeCurrentPage(ctx context.Context, id string, page int, progress float64) error

	// ChangePagination writes total pages, page and progress together so the
	// page invariant holds at every commit.
	ChangePagination(ctx context.Context, id string, totalPages, page int, progress float64) error

	ChangeSectionsPercentages(ctx context.Context, id string, percentages []float64) error

	// ChangeInitialLocations stores the manifest only if none is stored yet.
	// It reports whether the write happened.
	ChangeInitialLocations(ctx context.Context, id string, locations json.RawMessage) (bool, error)

	// Observe streams the current Book and then every committed update until
	// cancel is called. The channel is closed after cancel.
	Observe(ctx context.Context, id string) (<-chan Book, func(), error)
}

// SectionRepository is the Section/TextElement half of the storage contract.
type SectionRepository interface {
	// SectionByHref returns ErrNotFound when the section was never ingested.
	SectionByHref(ctx context.Context, bookID, href string) (Section, error)

	// AddSection creates the section and its elements in one transaction.
	// If (bookID, href) already exists it returns the existing section and
	// created=false without touching its elements.
	AddSection(ctx context.Context, bookID, href string, contents []string) (section Section, created bool, err error)

	TextElements(ctx context.Context, sectionID string) ([]TextElement, error)

	// ChangeContent overwrites one element's content with a translation.
	ChangeContent(ctx context.Context, sectionID string, index int, content string) error

	// LastTranslatedIndex returns the highest translated index, or 0 if none.
	LastTranslatedIndex(ctx context.Context, sectionID string) (int, error)

	// NotTranslatedFrom returns untranslated elements with index >= from,
	// ordered by index.
	NotTranslatedFrom(ctx context.Context, sectionID string, from int) ([]TextElement, error)
}

// Repository is the full storage contract consumed by the session.
type Repository interface {
	BookRepository
	SectionRepository
}

// ProgressOf returns page/total, or 0 when total is not positive.
func ProgressOf(page, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(page) / float64(total)
}

// ClampPage bounds page to [0, total].
func ClampPage(page, total int) int {
	if page < 0 {
		return 0
	}
	if total < 0 {
		total = 0
	}
	if page > total {
		return total
	}
	return page
}
