package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
)

var errAmbiguousID = errors.New("ambiguous bookmark id")

var (
	bookmarkLimit int

	bookmarksCmd = &cobra.Command{
		Use:     "bookmarks",
		Aliases: []string{"bm"},
		Short:   "List saved reading positions",
		Long: paragraph(fmt.Sprintf("\n%s where you stopped listening in each document. "+
			"Positions are saved on pause, stop and quit; use --resume to continue.", keyword("Show"))),
		Example: paragraph("readaloud bookmarks\nreadaloud bookmarks export > bookmarks.toml"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBookmarks(cmd, func(ctx context.Context, marks bookmark.Store) error {
				bs, err := marks.List(ctx, bookmarkLimit)
				if err != nil {
					return err
				}
				if len(bs) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "No bookmarks yet.")
					return nil
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), bookmarkTable(bs, time.Now()))
				return err
			})
		},
	}

	bookmarksExportCmd = &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write bookmarks as TOML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBookmarks(cmd, func(ctx context.Context, marks bookmark.Store) error {
				bs, err := marks.List(ctx, 0)
				if err != nil {
					return err
				}
				var w io.Writer = cmd.OutOrStdout()
				if len(args) > 0 && args[0] != "-" {
					f, err := os.Create(args[0])
					if err != nil {
						return fmt.Errorf("unable to create file: %w", err)
					}
					defer f.Close() //nolint:errcheck
					w = f
				}
				return bookmark.ExportTOML(w, bs)
			})
		},
	}

	bookmarksImportCmd = &cobra.Command{
		Use:   "import FILE",
		Short: "Read bookmarks from TOML",
		Long:  paragraph("\nRead bookmarks written by export. Newer positions already saved are kept."),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("unable to open file: %w", err)
				}
				defer f.Close() //nolint:errcheck
				r = f
			}
			return withBookmarks(cmd, func(ctx context.Context, marks bookmark.Store) error {
				n, err := importBookmarks(ctx, marks, r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Imported %d bookmarks.\n", n)
				return nil
			})
		},
	}

	bookmarksRmCmd = &cobra.Command{
		Use:   "rm DOC_ID...",
		Short: "Forget saved positions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBookmarks(cmd, func(ctx context.Context, marks bookmark.Store) error {
				for _, prefix := range args {
					id, err := resolveDocID(ctx, marks, prefix)
					if err != nil {
						return err
					}
					if err := marks.Delete(ctx, id); err != nil {
						return fmt.Errorf("%s: %w", prefix, err)
					}
				}
				return nil
			})
		},
	}
)

func init() {
	bookmarksCmd.Flags().IntVarP(&bookmarkLimit, "limit", "n", 20, "how many to show (0 for all)")
	bookmarksCmd.AddCommand(bookmarksExportCmd, bookmarksImportCmd, bookmarksRmCmd)
}

func withBookmarks(cmd *cobra.Command, fn func(context.Context, bookmark.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	marks, err := openBookmarks(ctx)
	if err != nil {
		return err
	}
	defer marks.Close() //nolint:errcheck
	return fn(ctx, marks)
}

// resolveDocID expands an ID prefix, as shown by the list, to a full one.
func resolveDocID(ctx context.Context, marks bookmark.Store, prefix string) (string, error) {
	bs, err := marks.List(ctx, 0)
	if err != nil {
		return "", err
	}
	var match string
	for _, b := range bs {
		if !strings.HasPrefix(b.DocID, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%s: %w", prefix, errAmbiguousID)
		}
		match = b.DocID
	}
	if match == "" {
		return "", fmt.Errorf("%s: %w", prefix, bookmark.ErrNotFound)
	}
	return match, nil
}

// importBookmarks saves each imported bookmark unless the store already has
// a newer one for the document.
func importBookmarks(ctx context.Context, marks bookmark.Store, r io.Reader) (int, error) {
	bs, err := bookmark.ImportTOML(r)
	if err != nil {
		return 0, fmt.Errorf("unable to read bookmarks: %w", err)
	}
	n := 0
	for _, b := range bs {
		if b.DocID == "" {
			continue
		}
		if cur, err := marks.Get(ctx, b.DocID); err == nil && !cur.UpdatedAt.Before(b.UpdatedAt) {
			continue
		}
		if err := marks.Save(ctx, b); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func bookmarkTable(bs []bookmark.Bookmark, now time.Time) string {
	rows := make([][]string, 0, len(bs))
	for _, b := range bs {
		title := b.Title
		if title == "" {
			title = "-"
		}
		rows = append(rows, []string{
			b.DocID[:min(8, len(b.DocID))],
			preview(title, 32),
			preview(b.Source, 40),
			fmt.Sprintf("%d/%d", min(b.Chunk+1, b.Chunks), b.Chunks),
			fmt.Sprintf("%.0f%%", b.Progress*100),
			humanize.RelTime(b.UpdatedAt, now, "ago", "from now"),
		})
	}
	return renderTable(tableSpec{
		headers: []string{"ID", "Title", "Source", "Chunk", "Read", "Saved"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	})
}
