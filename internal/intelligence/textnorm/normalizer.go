// Package textnorm turns raw message text into the canonical form every
// pipeline stage works on. Normalization is pure and idempotent:
// Normalize(Normalize(x).Text) yields the same Document.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Document is normalized text. Folded is the case-folded form of Text with
// identical byte offsets, so a span found in Folded addresses the same
// characters in Text.
type Document struct {
	Text   string
	Folded string
}

// Empty reports whether the document has no content.
func (d Document) Empty() bool { return d.Text == "" }

// Len is the byte length of the normalized text.
func (d Document) Len() int { return len(d.Text) }

// Slice returns Text[start:end] clamped to the document bounds.
func (d Document) Slice(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(d.Text) {
		end = len(d.Text)
	}
	if start >= end {
		return ""
	}
	return d.Text[start:end]
}

var (
	unitGap     = regexp.MustCompile(`(?i)(\d) (mg|mcg|ml|g|kg|iu)\b`)
	currencyGap = regexp.MustCompile(`([$€£]) (\d)`)
)

// collapsible punctuation: runs of the same mark become one.
const repeatablePunct = "!?.,;:-*~"

// Normalize applies, in order: invalid-UTF-8 replacement, NFKC, control
// character removal, whitespace and punctuation-run collapsing, and
// re-attachment of units and currency symbols to their numbers.
func Normalize(raw string) Document {
	if raw == "" {
		return Document{}
	}
	s := strings.ToValidUTF8(raw, "\uFFFD")
	s = norm.NFKC.String(s)
	s = collapse(s)
	if s == "" {
		return Document{}
	}
	s = unitGap.ReplaceAllString(s, "$1$2")
	s = currencyGap.ReplaceAllString(s, "$1$2")
	return Document{Text: s, Folded: Fold(s)}
}

// collapse drops control characters, turns whitespace runs into one space,
// trims, and squeezes repeated punctuation.
func collapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	var last rune = -1
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
			last = ' '
		}
		pendingSpace = false
		if r == last && strings.ContainsRune(repeatablePunct, r) {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}

// Fold lowercases s rune by rune, keeping a rune unchanged when its lower
// case form has a different UTF-8 length, so offsets stay aligned.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		lr := unicode.ToLower(r)
		if utf8.RuneLen(lr) != utf8.RuneLen(r) {
			lr = r
		}
		b.WriteRune(lr)
	}
	return b.String()
}
