package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/lectern/internal/entity"
)

// bookView is the printed form of a Book.
type bookView struct {
	ID                  string    `json:"id"`
	URI                 string    `json:"uri"`
	Title               string    `json:"title"`
	Cfi                 string    `json:"cfi_location,omitempty"`
	Page                int       `json:"page"`
	TotalPages          int       `json:"total_pages"`
	Progress            float64   `json:"progress"`
	SectionsPercentages []float64 `json:"sections_percentages"`
	Path                string    `json:"path,omitempty"`
}

func newBookView(b entity.Book) bookView {
	return bookView{
		ID:                  b.ID,
		URI:                 b.URI,
		Title:               b.Title,
		Cfi:                 b.CfiLocation,
		Page:                b.Page,
		TotalPages:          b.TotalPages,
		Progress:            b.Progress,
		SectionsPercentages: b.SectionsPercentages,
	}
}

// Text implements Texter.
func (v bookView) Text() string {
	var b strings.Builder
	title := v.Title
	if title == "" {
		title = v.URI
	}
	fmt.Fprintf(&b, "%s [%s]\n", title, v.ID)
	if v.TotalPages > 0 {
		fmt.Fprintf(&b, "  page %d/%d (%.0f%%)\n", v.Page, v.TotalPages, v.Progress*100)
	} else {
		fmt.Fprintln(&b, "  not paginated yet")
	}
	if v.Cfi != "" {
		fmt.Fprintf(&b, "  location %s\n", v.Cfi)
	}
	if v.Path != "" {
		fmt.Fprintf(&b, "  cached at %s\n", v.Path)
	}
	return b.String()
}

// pageView is the printed form of the headless renderer's current page.
type pageView struct {
	Book  bookView `json:"book"`
	Page  int      `json:"page"`
	Total int      `json:"total"`
	Lines []string `json:"text"`
}

// Text implements Texter.
func (v pageView) Text() string {
	var b strings.Builder
	b.WriteString(v.Book.Text())
	fmt.Fprintf(&b, "\n--- page %d of %d ---\n", v.Page+1, v.Total)
	for _, line := range v.Lines {
		fmt.Fprintln(&b, line)
	}
	return b.String()
}
