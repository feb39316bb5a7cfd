// Package chunk splits normalized text into bounded segments that fit the
// single-utterance limit of a speech backend.
package chunk

import (
	"strings"
	"unicode"
)

// DefaultMaxLen is the largest utterance, in characters, accepted by the
// speech backends readaloud drives.
const DefaultMaxLen = 32767

// List is an ordered, immutable sequence of non-empty text segments.
type List []string

// Split cuts text into segments of at most maxLen runes. A cut prefers the
// last sentence terminator inside the window, then the last whitespace, and
// hard-cuts only when neither exists. Whitespace at the boundaries is
// trimmed; no other text is dropped. A maxLen below 1 selects DefaultMaxLen.
func Split(text string, maxLen int) List {
	if maxLen < 1 {
		maxLen = DefaultMaxLen
	}

	r := []rune(text)
	n := len(r)
	var out List

	off := 0
	for off < n {
		for off < n && unicode.IsSpace(r[off]) {
			off++
		}
		if off >= n {
			break
		}

		if n-off <= maxLen {
			if seg := strings.TrimRightFunc(string(r[off:]), unicode.IsSpace); seg != "" {
				out = append(out, seg)
			}
			break
		}

		cut := cutPoint(r, off, off+maxLen)
		if seg := strings.TrimRightFunc(string(r[off:cut]), unicode.IsSpace); seg != "" {
			out = append(out, seg)
		}
		off = cut
	}
	return out
}

// cutPoint returns the exclusive end of the segment starting at off whose
// window ends at end (exclusive, end < len(r)).
func cutPoint(r []rune, off, end int) int {
	for p := end - 1; p >= off; p-- {
		if isTerminal(r[p]) {
			return p + 1
		}
	}
	// A space exactly at end still yields a full-length segment.
	for p := end; p > off; p-- {
		if unicode.IsSpace(r[p]) {
			return p
		}
	}
	return end
}

func isTerminal(c rune) bool {
	return c == '.' || c == '?' || c == '!'
}

// Len returns the number of chunks.
func (l List) Len() int { return len(l) }

// Join concatenates the chunks with a single space.
func (l List) Join() string { return strings.Join(l, " ") }

// Runes returns the total rune count across all chunks.
func (l List) Runes() int {
	total := 0
	for _, c := range l {
		total += len([]rune(c))
	}
	return total
}
