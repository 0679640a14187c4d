package entity

import "encoding/json"

// Book is one opened document and its persisted reading position.
type Book struct {
	ID    string `json:"id"`
	URI   string `json:"uri"`
	Title string `json:"title"`

	// CfiLocation is the renderer's opaque position token. Empty until the
	// first location event of the first session.
	CfiLocation string `json:"cfi_location,omitempty"`

	// Page is the current page under the current pagination.
	Page int `json:"page"`

	// TotalPages is recomputed whenever the renderer repaginates.
	TotalPages int `json:"total_pages"`

	// Progress is Page/TotalPages, in [0,1].
	Progress float64 `json:"progress"`

	// SectionsPercentages holds one share per section, in document order.
	SectionsPercentages []float64 `json:"sections_percentages"`

	// InitialLocations is the renderer's pagination manifest. Set at most
	// once: immutable after the first non-empty value.
	InitialLocations json.RawMessage `json:"initial_locations,omitempty"`
}

// HasInitialLocations reports whether a non-empty manifest is stored.
func (b Book) HasInitialLocations() bool {
	return isNonEmptyManifest(b.InitialLocations)
}

// StartLocation returns the location the renderer should be sent to when a
// document finishes loading: the persisted token, or the canonical start.
func (b Book) StartLocation() string {
	if b.CfiLocation != "" {
		return b.CfiLocation
	}
	return CanonicalStart
}

// CanonicalStart is the location token the renderer maps to the first page.
const CanonicalStart = "0"

// Section is one logical subdivision of a book, keyed by (BookID, Href).
type Section struct {
	ID     string `json:"id"`
	BookID string `json:"book_id"`
	Href   string `json:"href"`
}

// TextElement is the smallest addressable unit of extracted text.
type TextElement struct {
	SectionID string `json:"section_id"`
	Index     int    `json:"index"`

	// Content is space-escaped; use Plain for measuring and translating.
	Content string `json:"content"`

	// Translated records that Content has been overwritten by a translation.
	Translated bool `json:"translated"`
}

// Plain returns the content with spaces reverted and NFC-normalized.
func (e TextElement) Plain() string {
	return Normalize(e.Content)
}

// isNonEmptyManifest treats null, "", [] and {} as empty.
func isNonEmptyManifest(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", "[]", "{}", `""`:
		return false
	}
	return true
}
