package entity

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// nbsp is how the renderer keeps runs of spaces from collapsing. Stored
// content keeps it so text can be pushed back unchanged.
const nbsp = "\u00a0"

var revertReplacer = strings.NewReplacer(nbsp, " ", "&nbsp;", " ", "&#160;", " ")

// EscapeSpaces converts plain spaces to the renderer's non-breaking form.
func EscapeSpaces(s string) string {
	return strings.ReplaceAll(s, " ", nbsp)
}

// RevertSpaces undoes EscapeSpaces and the HTML entity forms the renderer
// may report.
func RevertSpaces(s string) string {
	return revertReplacer.Replace(s)
}

// Normalize reverts spaces and applies Unicode NFC so equal text measures
// equally regardless of how the renderer composed it.
func Normalize(s string) string {
	return norm.NFC.String(RevertSpaces(s))
}

// NormalizedLen is the length used for chunk budgeting, in runes.
func NormalizedLen(s string) int {
	return utf8.RuneCountInString(Normalize(s))
}
