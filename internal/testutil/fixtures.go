package testutil

import (
	"strings"

	"github.com/roach88/lectern/internal/entity"
)

// Elements builds n untranslated elements of sectionID whose content is
// size runes long. Content is distinct per index.
func Elements(sectionID string, n, size int) []entity.TextElement {
	out := make([]entity.TextElement, n)
	for i := range out {
		out[i] = entity.TextElement{
			SectionID: sectionID,
			Index:     i,
			Content:   Text(i, size),
		}
	}
	return out
}

// Text returns a size-rune string that starts with a marker for i.
func Text(i, size int) string {
	marker := string(rune('a'+i%26)) + strings.Repeat("z", i/26)
	if len(marker) >= size {
		return marker[:size]
	}
	return marker + strings.Repeat(".", size-len(marker))
}
