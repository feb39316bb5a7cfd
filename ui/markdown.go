package ui

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

type markdown struct {
	// Full path of a local file. Empty when the document came from
	// elsewhere.
	localPath string

	// Value we display in the status bar.
	Note    string
	Body    string
	Modtime time.Time
}

func newLocalMarkdown(path string) markdown {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cwd, _ := os.Getwd()
	return markdown{localPath: abs, Note: stripAbsolutePath(abs, cwd)}
}

// source is what a bookmark records as the document's origin.
func (m markdown) source() string {
	if m.localPath != "" {
		return m.localPath
	}
	return m.Note
}

type fetchedMarkdownMsg struct {
	doc    *markdown
	reload bool
}

func loadLocalMarkdown(md *markdown, reload bool) tea.Cmd {
	return func() tea.Msg {
		if md.localPath == "" {
			return errMsg{errNoLocalPath}
		}

		data, err := os.ReadFile(md.localPath)
		if err != nil {
			log.Debug("error reading local markdown", "path", md.localPath, "error", err)
			return errMsg{err}
		}

		doc := *md
		doc.Body = string(data)
		if info, err := os.Stat(md.localPath); err == nil {
			doc.Modtime = info.ModTime()
		}
		return fetchedMarkdownMsg{doc: &doc, reload: reload}
	}
}

func stripAbsolutePath(fullPath, cwd string) string {
	fp, _ := filepath.EvalSymlinks(fullPath)
	cp, _ := filepath.EvalSymlinks(cwd)
	if fp == "" || cp == "" {
		return filepath.Base(fullPath)
	}
	return strings.ReplaceAll(fp, cp+string(os.PathSeparator), "")
}
