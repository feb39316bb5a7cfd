package content

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// renderMarkdown walks the goldmark AST of src and returns the speakable
// text and the first level-one heading. It applies the same substitutions
// as the markup path: images become their description, code blocks a
// stand-in, links their visible text.
func renderMarkdown(src []byte) (string, string) {
	doc := md.Parser().Parse(text.NewReader(src))

	var (
		b     strings.Builder
		title string
	)

	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := node.(type) {
		case *ast.Heading:
			if entering {
				b.WriteString("\n")
				return ast.WalkContinue, nil
			}
			heading := collapseSpace(extractText(n, src))
			if n.Level == 1 && title == "" {
				title = heading
			}
			if !endsSentence(heading) {
				b.WriteString(".")
			}
			b.WriteString("\n")

		case *ast.Paragraph, *ast.ListItem, *ast.Blockquote, *ast.ThematicBreak, *ast.TextBlock:
			if !entering {
				b.WriteString("\n")
			}

		case *ast.Text:
			if !entering {
				return ast.WalkContinue, nil
			}
			b.Write(n.Segment.Value(src))
			switch {
			case n.HardLineBreak():
				b.WriteString("\n")
			case n.SoftLineBreak():
				b.WriteString(" ")
			}

		case *ast.String:
			if entering {
				b.Write(n.Value)
			}

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				b.WriteString(codeStandIn(codeLines(n, src)))
			}
			return ast.WalkSkipChildren, nil

		case *ast.Image:
			if entering {
				alt := extractText(n, src)
				switch {
				case speakableAlt(alt):
					b.WriteString(" " + collapseSpace(alt) + ". ")
				case speakableAlt(string(n.Title)):
					b.WriteString(" " + collapseSpace(string(n.Title)) + ". ")
				}
			}
			return ast.WalkSkipChildren, nil

		case *ast.AutoLink:
			return ast.WalkSkipChildren, nil

		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil

		case *ast.HTMLBlock:
			if entering {
				body, _ := stripMarkup(codeLines(n, src))
				b.WriteString("\n" + body + "\n")
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return b.String(), title
}

// extractText concatenates the text beneath node.
func extractText(node ast.Node, src []byte) string {
	var b strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteString(" ")
			}
		case *ast.String:
			b.Write(c.Value)
		default:
			b.WriteString(extractText(c, src))
		}
	}
	return b.String()
}

func codeLines(node ast.Node, src []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(src))
	}
	return b.String()
}
