package headless

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/roach88/lectern/internal/bridge"
)

// DefaultPageBudget is the number of characters on one page at a 16px font
// and 1.5 line height.
const DefaultPageBudget = 1800

// page is a run of whole units of one section. last < first for a section
// without units.
type page struct {
	section     int
	first, last int
}

func (p page) contains(section, unit int) bool {
	return p.section == section && unit >= p.first && unit <= p.last
}

// pageBudget scales base to the settings: larger fonts and looser lines
// fit fewer characters.
func pageBudget(base int, s bridge.Settings) int {
	size := float64(s.FontSize)
	if size <= 0 {
		size = 16
	}
	height := s.LineHeight
	if height <= 0 {
		height = 1.5
	}
	budget := float64(base) * (16 / size) * (16 / size) * (1.5 / height)
	return max(1, int(math.Round(budget)))
}

// paginate packs units greedily into pages of at most budget characters.
// Every section starts on a new page; a unit larger than the budget gets a
// page to itself.
func paginate(doc *document, budget int) []page {
	var pages []page
	for si, sec := range doc.sections {
		if len(sec.units) == 0 {
			pages = append(pages, page{section: si, first: 0, last: -1})
			continue
		}
		cur := page{section: si, first: 0, last: -1}
		used := 0
		for ui, unit := range sec.units {
			n := utf8.RuneCountInString(unit)
			if cur.last >= cur.first && used+n > budget {
				pages = append(pages, cur)
				cur = page{section: si, first: ui, last: ui - 1}
				used = 0
			}
			cur.last = ui
			used += n
		}
		pages = append(pages, cur)
	}
	return pages
}

// sectionPercentages returns each section's share of the pages.
func sectionPercentages(doc *document, pages []page) []float64 {
	out := make([]float64, len(doc.sections))
	if len(pages) == 0 {
		return out
	}
	for _, p := range pages {
		out[p.section]++
	}
	for i := range out {
		out[i] /= float64(len(pages))
	}
	return out
}

// cfi is the location token of a page: the spine step of its section and
// the element step of its first unit.
func cfi(p page) string {
	return fmt.Sprintf("epubcfi(/6/%d!/4/%d)", (p.section+1)*2, (p.first+1)*2)
}
