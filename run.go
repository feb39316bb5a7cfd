package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/ui"
)

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}

func execute(cmd *cobra.Command, args []string) error {
	src, err := openInput(args)
	if err != nil {
		return err
	}
	body, err := readSource(src)
	if err != nil {
		return err
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

	sess, err := openSession(sessionOptions{engine: engineName})
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("Could not close session", "err", err)
		}
	}()

	if !isTerminal(os.Stdout) {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runHeadless(ctx, sess.engine, marks, body, sourceLabel(src), cmd.OutOrStdout())
	}
	return runTUI(sess.engine, marks, src, body)
}

func sourceLabel(src *source) string {
	switch {
	case fromClipboard:
		return "clipboard"
	case src.URL == "":
		return "stdin"
	}
	return src.URL
}

func runTUI(p ui.Player, marks bookmark.Store, src *source, body string) error {
	// Read environment to get debugging stuff
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or auto if unset
	if err := validateStyle(cfg.GlamourStyle); err != nil {
		cfg.GlamourStyle = style
	}

	cfg.ShowLineNumbers = showLineNumbers
	cfg.GlamourMaxWidth = width
	cfg.EnableMouse = mouse
	cfg.PreserveNewLines = preserveNewLines
	cfg.Engine = engineName
	cfg.AutoPlay = autoplay
	cfg.Resume = resume
	cfg.Visualizer = cfg.Visualizer && !noVisualizer

	// Local files are loaded by the TUI itself so it can watch them.
	content := body
	if src.local() {
		cfg.Path = src.URL
		content = ""
	} else {
		cfg.Note = sourceLabel(src)
	}

	if _, err := ui.NewProgram(cfg, p, marks, content).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

// runHeadless reads body to the end without a TUI, printing each chunk as
// it is spoken. An interrupted read is bookmarked.
func runHeadless(ctx context.Context, e *playback.Engine, marks bookmark.Store, body, source string, w io.Writer) error {
	if err := e.LoadText(body); err != nil {
		return err
	}
	if err := e.Err(); err != nil {
		return err
	}
	if resume {
		if b, err := marks.Get(ctx, bookmark.DocID(e.Text())); err == nil {
			log.Debug("Resuming", "chunk", b.Chunk, "progress", b.Progress)
			if err := e.Seek(b.Progress); err != nil {
				return err
			}
		}
	}

	err := readThrough(ctx, e, w)
	if errors.Is(err, context.Canceled) {
		saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if serr := savePosition(saveCtx, marks, e, source); serr != nil {
			log.Warn("Could not save bookmark", "err", serr)
		}
		return nil
	}
	return err
}

// readThrough plays the loaded document and writes each chunk to w when it
// starts. It returns when playback ends or fails, or when ctx is done.
func readThrough(ctx context.Context, e *playback.Engine, w io.Writer) error {
	chunks := e.Chunks()
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	var (
		mu      sync.Mutex
		printed = -1
		started bool
	)
	unsubscribe := e.Subscribe(func(st playback.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.IsPlaying && st.Chunk != printed && st.Chunk < len(chunks) {
			printed = st.Chunk
			started = true
			if _, err := fmt.Fprintln(w, chunks[st.Chunk]); err != nil {
				finish(err)
			}
		}
		switch {
		case st.Error != "":
			finish(errors.New(st.Error))
		case started && st.Phase == playback.PhaseIdle:
			finish(nil)
		}
	})
	defer unsubscribe()

	if err := e.Play(); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = e.Pause()
		return ctx.Err()
	}
}

func savePosition(ctx context.Context, marks bookmark.Store, e *playback.Engine, source string) error {
	st := e.GetState()
	if st.Chunks == 0 {
		return nil
	}
	return marks.Save(ctx, bookmark.Bookmark{
		DocID:     bookmark.DocID(e.Text()),
		Title:     st.Title,
		Source:    source,
		Chunk:     st.Chunk,
		Chunks:    st.Chunks,
		Progress:  st.Progress,
		UpdatedAt: time.Now(),
	})
}
