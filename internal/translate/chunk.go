package translate

import "github.com/roach88/lectern/internal/entity"

// DefaultChunkLimit is the per-request character budget.
const DefaultChunkLimit = 5000

// Chunk groups consecutive elements so that the summed NormalizedLen of each
// group stays within limit. Every group has at least one element; an element
// longer than limit on its own becomes a singleton group. Concatenating the
// groups yields elements unchanged.
func Chunk(elements []entity.TextElement, limit int) [][]entity.TextElement {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}

	var (
		chunks  [][]entity.TextElement
		current []entity.TextElement
		size    int
	)
	for _, el := range elements {
		n := entity.NormalizedLen(el.Content)
		if len(current) > 0 && size+n > limit {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
		current = append(current, el)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
