// Package history builds the per-request historical context: recurrence at
// the address, prior resolution quality, near-duplicate candidates, and
// local report density.
package history

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Similarity returns a normalized edit-distance ratio in [0, 1] between two
// descriptions. It is symmetric, reflexive (identical inputs score 1.0), and
// insensitive to case, diacritics, and whitespace runs, so "Elm Ave" and
// "elm avenue" differ only by the trailing token.
func Similarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" && nb == "" {
		return 0
	}
	return levenshtein.Similarity(na, nb, levenshtein.NewParams())
}

// normalizeText strips diacritics, lowercases, and collapses whitespace.
func normalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(strings.Join(strings.Fields(stripped), " "))
}
