package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/findandseek/internal/descriptor"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Beže" -> "Beze").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

var folder = cases.Fold()

// normalizeText folds case and strips diacritics so "Bleu Marine" and "bleu marine" compare equal.
func normalizeText(s string) string {
	return strings.TrimSpace(folder.String(RemoveDiacritics(s)))
}

// fillerWords never count as a shared word between two descriptions.
var fillerWords = map[string]bool{
	"and": true, "the": true, "with": true, "wearing": true, "some": true,
	"clothing": true, "clothes": true, "color": true, "colored": true,
	"unknown": true, "medium": true,
}

func significantWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 3 && !fillerWords[w] {
			words[w] = true
		}
	}
	return words
}

// textOverlap reports whether two free-text descriptions overlap: one contains the
// other, or both share a significant word such as a color or a garment.
func textOverlap(a, b string) bool {
	if descriptor.IsUnknown(a) || descriptor.IsUnknown(b) {
		return false
	}
	na, nb := normalizeText(a), normalizeText(b)
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}

	wordsB := significantWords(nb)
	for w := range significantWords(na) {
		if wordsB[w] {
			return true
		}
	}
	return false
}

// sameValue reports a case and diacritics insensitive match of two known values.
func sameValue(a, b string) bool {
	if descriptor.IsUnknown(a) || descriptor.IsUnknown(b) {
		return false
	}
	return normalizeText(a) == normalizeText(b)
}
