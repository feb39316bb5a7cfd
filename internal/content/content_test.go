package content

import (
	"strings"
	"testing"

	"golang.org/x/text/language"
)

func TestDetectShape(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Shape
	}{
		{name: "plain", raw: "Just some words. Nothing else.", want: ShapePlain},
		{name: "html document", raw: "<html><body><p>Hi</p></body></html>", want: ShapeMarkup},
		{name: "html fragment", raw: "Text with <b>bold</b> words", want: ShapeMarkup},
		{name: "markdown heading", raw: "# Title\n\nBody text.", want: ShapeMarkdown},
		{name: "markdown image", raw: "See ![a cat](cat.png) here", want: ShapeMarkdown},
		{name: "markdown with inline html", raw: "# Title\n\nSome <br> text", want: ShapeMarkdown},
		{name: "less than is not a tag", raw: "a < b and c > d", want: ShapePlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectShape(tt.raw); got != tt.want {
				t.Errorf("DetectShape() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize_Plain(t *testing.T) {
	got := Normalize("Hello   world.\n\nThis is a test.")
	if got != "Hello world. This is a test." {
		t.Errorf("Normalize() = %q", got)
	}
}

func TestNormalize_Markup(t *testing.T) {
	raw := `<html><head><title>ignored</title><style>p{}</style></head><body>
<h1>Deep Dive</h1>
<p>Intro with a <a href="https://example.com/x">useful link</a>.</p>
<video src="a.mp4"><source src="a.webm">Your browser does not support video.</video>
<img src="cat.png" alt="cat.png">
<img src="chart.png" alt="A bar chart of monthly revenue">
<pre><code>line one
line two
line three
line four
line five</code></pre>
<pre>x = 1</pre>
<script>alert("hi")</script>
<p>Contact me at someone@example.com or visit https://example.org today.</p>
</body></html>`

	doc := Parse(raw)

	if doc.Shape != ShapeMarkup {
		t.Fatalf("Shape = %v, want markup", doc.Shape)
	}
	if doc.Title != "Deep Dive" {
		t.Errorf("Title = %q, want %q", doc.Title, "Deep Dive")
	}

	mustContain := []string{
		"Deep Dive.",
		"Intro with a useful link.",
		"A bar chart of monthly revenue.",
		"Code block with 5 lines.",
		"Contact me at or visit today.",
	}
	for _, s := range mustContain {
		if !strings.Contains(doc.Text, s) {
			t.Errorf("text missing %q\ngot: %q", s, doc.Text)
		}
	}

	mustNotContain := []string{
		"ignored", "example.com", "browser", "cat.png", "x = 1", "alert", "@", "<", "https",
	}
	for _, s := range mustNotContain {
		if strings.Contains(doc.Text, s) {
			t.Errorf("text contains %q\ngot: %q", s, doc.Text)
		}
	}

	if !strings.HasPrefix(doc.Text, "Deep Dive.") {
		t.Errorf("title duplicated or missing at start: %q", doc.Text)
	}
}

func TestNormalize_Markdown(t *testing.T) {
	raw := "---\ntitle: Front Title\n---\n# My Post\n\nRead [the docs](https://example.com) now!!!\n\n" +
		"![logo](logo.png)\n\n![Diagram of the request pipeline](pipe.svg)\n\n" +
		"```go\nfunc main() {\n\tfmt.Println(1)\n\treturn\n}\n```\n\n" +
		"- first item\n- second item\n\nVisit <https://example.org>.\n"

	doc := Parse(raw)

	if doc.Shape != ShapeMarkdown {
		t.Fatalf("Shape = %v, want markdown", doc.Shape)
	}
	if doc.Title != "My Post" {
		t.Errorf("Title = %q, want %q", doc.Title, "My Post")
	}
	for _, s := range []string{
		"My Post.",
		"Read the docs now!",
		"Diagram of the request pipeline.",
		"Code block with 4 lines.",
		"first item",
		"second item",
	} {
		if !strings.Contains(doc.Text, s) {
			t.Errorf("text missing %q\ngot: %q", s, doc.Text)
		}
	}
	for _, s := range []string{"logo", "https", "Front Title", "fmt.Println", "!!"} {
		if strings.Contains(doc.Text, s) {
			t.Errorf("text contains %q\ngot: %q", s, doc.Text)
		}
	}
}

func TestNormalize_TitlePrepended(t *testing.T) {
	raw := "<p>Opening paragraph.</p><h1>Late Title</h1><p>More.</p>"
	doc := Parse(raw)
	if !strings.HasPrefix(doc.Text, "Late Title. Opening paragraph.") {
		t.Errorf("Text = %q, want title prepended", doc.Text)
	}
}

func TestNormalize_FrontMatterTitleForPlain(t *testing.T) {
	doc := Parse("---\ntitle: \"Notes\"\n---\nPlain body here.")
	if doc.Title != "Notes" {
		t.Errorf("Title = %q", doc.Title)
	}
	if doc.Text != "Notes. Plain body here." {
		t.Errorf("Text = %q", doc.Text)
	}
}

func TestNormalize_Cleanup(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: ""},
		{name: "only noise", raw: "→ ★ ✓ ====", want: ""},
		{name: "repeated punctuation", raw: "Wait!!! Really??? Fine.... ok,, yes", want: "Wait! Really? Fine... ok, yes"},
		{name: "emoji", raw: "Great job 🎉 team", want: "Great job team"},
		{name: "currency kept", raw: "It costs $5 or €4.", want: "It costs $5 or €4."},
		{name: "dangling stops", raw: "One. . Two", want: "One. Two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDocument_Describe(t *testing.T) {
	if got := (Document{Shape: ShapeMarkdown, Title: "T"}).Describe(); got != `markdown document "T"` {
		t.Errorf("Describe() = %q", got)
	}
	if got := (Document{}).Describe(); got != "plain document" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestParseLang(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "en-US", want: "en-US"},
		{in: "auto", want: LangAuto},
		{in: "AUTO", want: LangAuto},
		{in: "not a tag!", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLang(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLang(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLang(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	fallback := language.AmericanEnglish

	if got := DetectLanguage("hi", fallback); got != fallback {
		t.Errorf("short text = %v, want fallback", got)
	}

	german := "Der schnelle braune Fuchs springt über den faulen Hund und läuft dann schnell nach Hause."
	if got := DetectLanguage(german, fallback); got != language.German {
		t.Errorf("DetectLanguage(german) = %v, want de", got)
	}

	if got := ResolveLang("fr-FR", german, "en-US"); got != "fr-FR" {
		t.Errorf("ResolveLang(explicit) = %q", got)
	}
}
