// Package content reduces arbitrary article input (HTML, Markdown or plain
// text) to speakable prose.
//
// Normalization is total: malformed input never fails, the worst case is an
// empty string, which callers treat as "nothing to say".
package content

import (
	"fmt"
	"regexp"
	"strings"
)

// Shape is the detected structure of raw input.
type Shape int

const (
	// ShapePlain is text without recognised markup.
	ShapePlain Shape = iota
	// ShapeMarkup is HTML or an HTML fragment.
	ShapeMarkup
	// ShapeMarkdown is CommonMark-style markdown.
	ShapeMarkdown
)

// String returns the string representation of the shape.
func (s Shape) String() string {
	switch s {
	case ShapePlain:
		return "plain"
	case ShapeMarkup:
		return "markup"
	case ShapeMarkdown:
		return "markdown"
	default:
		return "unknown"
	}
}

// Document is normalized, speakable text plus what was learned about it.
type Document struct {
	Text  string
	Title string
	Shape Shape
}

var (
	tagPattern      = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(\s[^<>]*)?/?>`)
	markdownPattern = regexp.MustCompile("(?m)^#{1,6}\\s+\\S|!\\[[^\\]]*\\]\\([^)]*\\)|^\\s*(```|~~~)|\\[[^\\]]+\\]\\([^)]+\\)|^\\s*[-*+]\\s+\\S|^>\\s")
	frontMatter     = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n`)
	frontTitle      = regexp.MustCompile(`(?m)^title:\s*["']?(.+?)["']?\s*$`)
)

// DetectShape classifies raw input by structural cues. Documents that open
// with a tag are markup; markdown cues win over embedded tags because the
// markdown path routes inline HTML through the markup stripper itself.
func DetectShape(raw string) Shape {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "<") && tagPattern.MatchString(trimmed) {
		return ShapeMarkup
	}
	if markdownPattern.MatchString(raw) {
		return ShapeMarkdown
	}
	if tagPattern.MatchString(raw) {
		return ShapeMarkup
	}
	return ShapePlain
}

// Describe returns a short label such as `markdown document "Title"`.
func (d Document) Describe() string {
	if d.Title == "" {
		return d.Shape.String() + " document"
	}
	return fmt.Sprintf("%s document %q", d.Shape, d.Title)
}

// Normalize returns the speakable text of raw.
func Normalize(raw string) string {
	return Parse(raw).Text
}

// Parse normalizes raw and reports its shape and title. When a title is
// known and the body does not already open with it, "{title}. " is
// prepended.
func Parse(raw string) Document {
	doc := Document{Shape: DetectShape(raw)}

	var body string
	switch doc.Shape {
	case ShapeMarkup:
		body, doc.Title = stripMarkup(raw)
	case ShapeMarkdown:
		src, fmTitle := splitFrontMatter(raw)
		body, doc.Title = renderMarkdown([]byte(src))
		if doc.Title == "" {
			doc.Title = fmTitle
		}
	default:
		src, fmTitle := splitFrontMatter(raw)
		body, doc.Title = src, fmTitle
	}

	doc.Title = cleanup(doc.Title)
	doc.Text = cleanup(body)
	doc.Text = withTitle(doc.Text, doc.Title)
	return doc
}

func withTitle(body, title string) string {
	title = strings.TrimRight(title, ".!?:; ")
	if title == "" || strings.HasPrefix(strings.ToLower(body), strings.ToLower(title)) {
		return body
	}
	if body == "" {
		return title + "."
	}
	return title + ". " + body
}

func splitFrontMatter(raw string) (string, string) {
	m := frontMatter.FindStringSubmatchIndex(raw)
	if m == nil {
		return raw, ""
	}
	meta := raw[m[2]:m[3]]
	title := ""
	if t := frontTitle.FindStringSubmatch(meta); t != nil {
		title = strings.TrimSpace(t[1])
	}
	return raw[m[1]:], title
}

// endsSentence reports whether s ends with terminal punctuation.
func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';':
		return true
	}
	return false
}
