package content

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	// minAltLength is the shortest image description worth speaking.
	minAltLength = 10
	// maxSilentCodeLines is the longest code block dropped without mention.
	maxSilentCodeLines = 3
)

// removed elements are dropped with everything inside them.
var removed = map[string]bool{
	"video": true, "audio": true, "iframe": true, "embed": true,
	"object": true, "source": true, "track": true,
	"script": true, "style": true, "noscript": true, "template": true,
	"svg": true, "canvas": true, "head": true,
}

var void = map[string]bool{
	"embed": true, "source": true, "track": true, "img": true,
	"br": true, "hr": true, "meta": true, "link": true, "input": true,
}

var block = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"header": true, "footer": true, "aside": true, "nav": true,
	"ul": true, "ol": true, "li": true, "dl": true, "dt": true, "dd": true,
	"table": true, "tr": true, "td": true, "th": true, "blockquote": true,
	"figure": true, "figcaption": true, "hr": true,
}

var headings = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var (
	filenamePattern = regexp.MustCompile(`(?i)^[\w\-. ]+\.(png|jpe?g|gif|svg|webp|avif|bmp|ico|tiff?)$`)
	genericAlt      = map[string]bool{
		"image": true, "img": true, "photo": true, "picture": true,
		"screenshot": true, "figure": true, "logo": true, "icon": true,
		"banner": true, "thumbnail": true, "placeholder": true,
	}
)

// stripMarkup walks an HTML document with a tokenizer and returns its
// speakable text and the text of the first h1. Removal priority: media,
// images, code blocks, links, remaining tags.
func stripMarkup(src string) (string, string) {
	z := html.NewTokenizer(strings.NewReader(src))

	var (
		b            strings.Builder
		title        string
		skip         int
		pre          *strings.Builder
		preDepth     int
		headingStart = -1
		headingTag   string
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String(), title

		case html.TextToken:
			if skip > 0 {
				continue
			}
			if pre != nil {
				pre.Write(z.Text())
				continue
			}
			b.Write(z.Text())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if skip > 0 {
				if removed[tag] && tt == html.StartTagToken && !void[tag] {
					skip++
				}
				continue
			}
			if pre != nil {
				if tag == "pre" && tt == html.StartTagToken {
					preDepth++
				}
				continue
			}

			switch {
			case removed[tag]:
				if tt == html.StartTagToken && !void[tag] {
					skip = 1
				}
			case tag == "img":
				if hasAttr {
					if alt := imageText(z); alt != "" {
						b.WriteString(" " + alt + ". ")
					}
				}
			case tag == "pre":
				if tt == html.StartTagToken {
					pre = &strings.Builder{}
					preDepth = 1
				}
			case tag == "br":
				b.WriteString("\n")
			case headings[tag]:
				b.WriteString("\n")
				headingStart = b.Len()
				headingTag = tag
			case block[tag]:
				b.WriteString("\n")
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skip > 0 {
				if removed[tag] && !void[tag] {
					skip--
				}
				continue
			}
			if pre != nil {
				if tag != "pre" {
					continue
				}
				if preDepth--; preDepth > 0 {
					continue
				}
				b.WriteString(codeStandIn(pre.String()))
				pre = nil
				continue
			}

			switch {
			case headings[tag] && headingStart >= 0 && tag == headingTag:
				text := strings.TrimSpace(b.String()[headingStart:])
				if tag == "h1" && title == "" {
					title = collapseSpace(text)
				}
				if !endsSentence(text) {
					b.WriteString(".")
				}
				b.WriteString("\n")
				headingStart = -1
			case block[tag]:
				b.WriteString("\n")
			}
		}
	}
}

// imageText returns the alt or title attribute of the current img token
// when it is descriptive enough to speak.
func imageText(z *html.Tokenizer) string {
	var alt, title string
	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "alt":
			alt = string(val)
		case "title":
			title = string(val)
		}
		if !more {
			break
		}
	}
	for _, cand := range []string{alt, title} {
		if speakableAlt(cand) {
			return collapseSpace(cand)
		}
	}
	return ""
}

func speakableAlt(s string) bool {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) < minAltLength {
		return false
	}
	if filenamePattern.MatchString(s) {
		return false
	}
	return !genericAlt[strings.ToLower(s)]
}

// codeStandIn replaces a code block with a short spoken description when it
// is long and drops it otherwise.
func codeStandIn(code string) string {
	code = strings.Trim(code, "\r\n")
	if strings.TrimSpace(code) == "" {
		return ""
	}
	lines := strings.Count(code, "\n") + 1
	if lines <= maxSilentCodeLines {
		return "\n"
	}
	return fmt.Sprintf("\nCode block with %d lines.\n", lines)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
