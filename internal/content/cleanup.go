package content

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	urlPattern      = regexp.MustCompile(`(?i)\b(?:https?|ftp)://[^\s<>"']+|\bwww\.[^\s<>"']+`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	markerRun       = regexp.MustCompile(`[*#_~=|` + "`" + `^\-]{2,}|(?m)^\s*[#>*+|]+\s`)
	repeatedBang    = regexp.MustCompile(`([!?])[!?]+`)
	repeatedDots    = regexp.MustCompile(`\.{4,}`)
	repeatedSep     = regexp.MustCompile(`([,;:])[,;:]+`)
	spaceBeforePunc = regexp.MustCompile(`\s+([,.!?;:])`)
	emptySentence   = regexp.MustCompile(`([.!?])(\s*[.!?])+`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// cleanup is the final pass shared by every input shape.
func cleanup(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	s = urlPattern.ReplaceAllString(s, " ")
	s = emailPattern.ReplaceAllString(s, " ")
	s = markerRun.ReplaceAllString(s, " ")
	s = stripSymbols(s)
	s = capPunctuation(s)
	s = whitespace.ReplaceAllString(s, " ")
	s = spaceBeforePunc.ReplaceAllString(s, "$1")
	s = strings.TrimLeft(s, " .,;:!?")
	return strings.TrimSpace(s)
}

// stripSymbols drops characters a voice cannot pronounce: math, modifier
// and other symbols (emoji, arrows, box drawing), private use and control
// characters. Currency signs are kept.
func stripSymbols(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk, unicode.Co, unicode.Cc, unicode.Cf):
			return ' '
		}
		return r
	}, s)
}

func capPunctuation(s string) string {
	s = repeatedBang.ReplaceAllString(s, "$1")
	s = repeatedDots.ReplaceAllString(s, "...")
	s = repeatedSep.ReplaceAllString(s, "$1")
	// A sentence stop followed by another stop, as left behind by removed
	// nodes, collapses to the first one. Ellipses survive as a run of dots.
	return emptySentence.ReplaceAllStringFunc(s, func(m string) string {
		if strings.Trim(m, ".") == "" {
			return m
		}
		return m[:1]
	})
}
