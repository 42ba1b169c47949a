package plate

import (
	"strings"
	"unicode"
)

// Sanitize keeps letters, numbers and whitespace from raw OCR output and
// trims the result. Case is preserved. Numbers include every Unicode
// numeric category, so superscripts and Roman numeral runes survive.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
