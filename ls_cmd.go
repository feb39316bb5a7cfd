package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/muesli/gitcha"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/content"
	"github.com/dgnsrekt/readaloud/internal/estimate"
)

var readableExtensions = []string{
	"*.md", "*.mdown", "*.mkdn", "*.mkd", "*.markdown",
	"*.html", "*.htm", "*.txt",
}

// maxListBytes skips files too large to be articles.
const maxListBytes = 4 << 20

var (
	listAll    bool
	listFilter string

	lsCmd = &cobra.Command{
		Use:   "ls [DIR]",
		Short: "List documents with their listening time",
		Long: paragraph(fmt.Sprintf("\n%s the documents under a directory with estimated listening time "+
			"and how far you got. .gitignore rules are honored unless --all is given.", keyword("List"))),
		Example: paragraph("readaloud ls\nreadaloud ls ~/notes --filter golang"),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			marks, err := openBookmarks(ctx)
			if err != nil {
				log.Warn("Bookmarks disabled", "err", err)
				marks = bookmark.NewMemory()
			}
			defer marks.Close() //nolint:errcheck

			cfg, err := playbackConfig()
			if err != nil {
				return err
			}
			docs, err := discover(ctx, dir, listAll, marks, cfg.WordsPerMinute*cfg.Rate)
			if err != nil {
				return err
			}
			docs = filterDocs(docs, listFilter)
			if len(docs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No documents found.")
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), docTable(docs, time.Now()))
			return err
		},
	}
)

func init() {
	lsCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include ignored and hidden files")
	lsCmd.Flags().StringVarP(&listFilter, "filter", "f", "", "fuzzy filter on path and title")
}

// docEntry is one listed document.
type docEntry struct {
	Path     string
	Title    string
	Words    int
	Seconds  float64
	Modtime  time.Time
	Progress float64
	Saved    bool
}

func (d docEntry) filterValue() string {
	return d.Path + " " + d.Title
}

// discover finds readable documents under dir, newest first.
func discover(ctx context.Context, dir string, all bool, marks bookmark.Store, wpm float64) ([]docEntry, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(root); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	// Switch between FindFiles and FindAllFiles to bypass .gitignore rules
	var ch chan gitcha.SearchResult
	if all {
		ch, err = gitcha.FindAllFilesExcept(root, readableExtensions, nil)
	} else {
		ch, err = gitcha.FindFilesExcept(root, readableExtensions, []string{"node_modules", "vendor"})
	}
	if err != nil {
		return nil, fmt.Errorf("error finding local files: %w", err)
	}

	var docs []docEntry
	for res := range ch {
		if res.Info == nil || res.Info.IsDir() || res.Info.Size() > maxListBytes {
			continue
		}
		b, err := os.ReadFile(res.Path)
		if err != nil {
			log.Debug("skipping unreadable file", "path", res.Path, "err", err)
			continue
		}
		doc := content.Parse(string(b))
		words := estimate.WordCount(doc.Text)
		rel, _ := filepath.Rel(root, res.Path)
		e := docEntry{
			Path:    rel,
			Title:   doc.Title,
			Words:   words,
			Seconds: estimate.Seconds(words, wpm),
			Modtime: res.Info.ModTime(),
		}
		if doc.Text != "" {
			bm, err := marks.Get(ctx, bookmark.DocID(doc.Text))
			switch {
			case err == nil:
				e.Progress, e.Saved = bm.Progress, true
			case !errors.Is(err, bookmark.ErrNotFound):
				log.Debug("bookmark lookup failed", "path", res.Path, "err", err)
			}
		}
		docs = append(docs, e)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Modtime.After(docs[j].Modtime)
	})
	return docs, nil
}

// filterDocs keeps fuzzy matches for query, best first.
func filterDocs(docs []docEntry, query string) []docEntry {
	query = strings.TrimSpace(query)
	if query == "" {
		return docs
	}
	targets := make([]string, len(docs))
	for i, d := range docs {
		targets[i] = d.filterValue()
	}
	ranks := fuzzy.Find(query, targets)
	sort.Stable(ranks)

	out := make([]docEntry, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, docs[r.Index])
	}
	return out
}

func docTable(docs []docEntry, now time.Time) string {
	rows := make([][]string, 0, len(docs))
	var total float64
	for _, d := range docs {
		total += d.Seconds
		progress := "-"
		if d.Saved {
			progress = fmt.Sprintf("%.0f%%", d.Progress*100)
		}
		rows = append(rows, []string{
			d.Path,
			preview(d.Title, 32),
			formatClock(d.Seconds),
			progress,
			humanize.RelTime(d.Modtime, now, "ago", "from now"),
		})
	}
	return renderTable(tableSpec{
		headers: []string{"Document", "Title", "Listen", "Read", "Modified"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		footer:  []string{fmt.Sprintf("%d documents", len(docs)), "", formatClock(total), "", ""},
	})
}
