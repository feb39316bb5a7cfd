package ui

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// markerWords is how many leading words of a chunk must match for a
// rendered line to count as the chunk's first line.
const markerWords = 4

// wordsOf returns the lowercased words of s with punctuation dropped.
func wordsOf(s string) []string {
	f := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return f
}

// lineIndex maps rendered lines to the words they display so a chunk of
// normalized text can be found in glamour output.
type lineIndex struct {
	words []string // every word of the document, in order
	line  []int    // line[i] is the rendered line holding words[i]
}

func newLineIndex(rendered string) lineIndex {
	var idx lineIndex
	for i, l := range strings.Split(rendered, "\n") {
		for _, w := range wordsOf(ansi.Strip(l)) {
			idx.words = append(idx.words, w)
			idx.line = append(idx.line, i)
		}
	}
	return idx
}

// find returns the rendered line where chunk starts, searching from word
// offset from, and the word offset just past the match. It returns -1 when
// the chunk cannot be found.
func (idx lineIndex) find(chunk string, from int) (line, next int) {
	want := wordsOf(chunk)
	if len(want) == 0 {
		return -1, from
	}
	n := min(len(want), markerWords)
	for _, start := range []int{from, 0} {
		for i := max(start, 0); i+n <= len(idx.words); i++ {
			if matchWords(idx.words[i:i+n], want[:n]) {
				return idx.line[i], i + n
			}
		}
		if from <= 0 {
			break
		}
	}
	return -1, from
}

func matchWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// markLine prefixes every line with a gutter and marks line i.
func markLine(rendered string, i int) string {
	lines := strings.Split(rendered, "\n")
	var b strings.Builder
	for n, l := range lines {
		if n == i {
			b.WriteString(markerStyle.Render("▌ "))
		} else {
			b.WriteString("  ")
		}
		b.WriteString(l)
		if n+1 < len(lines) {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
