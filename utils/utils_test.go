package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRemoveFrontmatter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"none", "# Title\n\nBody\n", "# Title\n\nBody\n"},
		{"yaml", "---\ntitle: x\n---\n# Title\n", "# Title\n"},
		{"not at start", "text\n---\na: b\n---\nmore", "text\n---\na: b\n---\nmore"},
		{"unterminated", "---\ntitle: x\n# Title\n", "---\ntitle: x\n# Title\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(RemoveFrontmatter([]byte(tt.in))); got != tt.want {
				t.Errorf("RemoveFrontmatter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMarkdownFile(t *testing.T) {
	tests := map[string]bool{
		"README":       true,
		"notes.md":     true,
		"notes.MD":     true,
		"doc.markdown": true,
		"main.go":      false,
		"page.html":    false,
	}
	for name, want := range tests {
		if got := IsMarkdownFile(name); got != want {
			t.Errorf("IsMarkdownFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsReadableFile(t *testing.T) {
	tests := map[string]bool{
		"article.html": true,
		"story.txt":    true,
		"notes.md":     true,
		"main.go":      false,
		"image.png":    false,
	}
	for name, want := range tests {
		if got := IsReadableFile(name); got != want {
			t.Errorf("IsReadableFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("READALOUD_TEST_DIR", "voices")
	if got, want := ExpandPath("~/models/$READALOUD_TEST_DIR"), filepath.Join(home, "models", "voices"); got != want {
		t.Errorf("ExpandPath() = %q, want %q", got, want)
	}
}

func TestWrapCodeBlock(t *testing.T) {
	if got := WrapCodeBlock("x := 1\n", "go"); got != "```go\nx := 1\n```" {
		t.Errorf("WrapCodeBlock() = %q", got)
	}
}
