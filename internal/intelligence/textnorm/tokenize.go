package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a word of normalized text with byte offsets [Start, End).
type Token struct {
	Text  string
	Start int
	End   int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// Tokenize splits s into words. Decimal points and thousands separators
// between digits ("2.5", "1,000") and hyphens or apostrophes between word
// characters ("co-amoxiclav", "o'clock") stay inside a token.
func Tokenize(s string) []Token {
	var tokens []Token
	start := -1
	var prev rune
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			prev = r
			continue
		}
		if start >= 0 && isJoiner(r, prev, s[i+utf8.RuneLen(r):]) {
			prev = r
			continue
		}
		if start >= 0 {
			tokens = append(tokens, Token{Text: s[start:i], Start: start, End: i})
			start = -1
		}
		prev = r
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: s[start:], Start: start, End: len(s)})
	}
	return tokens
}

func isJoiner(r, prev rune, rest string) bool {
	next, _ := utf8.DecodeRuneInString(rest)
	switch r {
	case '.', ',':
		return unicode.IsDigit(prev) && unicode.IsDigit(next)
	case '-', '\'':
		return isWordRune(prev) && isWordRune(next)
	}
	return false
}

// WordCount returns the number of tokens in s.
func WordCount(s string) int {
	return len(Tokenize(s))
}

// FindTerm returns the byte offsets of every occurrence of term in folded
// that starts and ends on a word boundary. Both arguments must already be
// folded.
func FindTerm(folded, term string) [][2]int {
	if term == "" {
		return nil
	}
	var out [][2]int
	from := 0
	for from <= len(folded)-len(term) {
		idx := strings.Index(folded[from:], term)
		if idx < 0 {
			break
		}
		start := from + idx
		end := start + len(term)
		if boundaryBefore(folded, start) && boundaryAfter(folded, end) {
			out = append(out, [2]int{start, end})
		}
		_, size := utf8.DecodeRuneInString(folded[start:])
		from = start + size
	}
	return out
}

// ContainsTerm reports whether term occurs in folded as a whole word.
func ContainsTerm(folded, term string) bool {
	return len(FindTerm(folded, term)) > 0
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}
