package linker

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Levenshtein returns the edit distance between a and b counted in runes.
func Levenshtein(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// Similarity is 1 - distance/max(len) in [0, 1]. Two empty strings are
// identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	n := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if n == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(n)
}

// Soundex returns the American Soundex code of the ASCII letters in s, or ""
// when s has none. Multi-word input is encoded as one word.
func Soundex(s string) string {
	letters := strings.Map(func(r rune) rune {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			return r
		}
		return -1
	}, s)
	if letters == "" {
		return ""
	}
	return matchr.Soundex(letters)
}
