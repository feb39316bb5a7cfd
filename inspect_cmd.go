package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/clock"
	"github.com/dgnsrekt/readaloud/internal/content"
	"github.com/dgnsrekt/readaloud/internal/estimate"
	"github.com/dgnsrekt/readaloud/internal/speech"
)

// previewWidth is how much of each chunk the chunks table shows.
const previewWidth = 56

var (
	chunkLen int

	textCmd = &cobra.Command{
		Use:   "text [SOURCE]",
		Short: "Print the speakable text of a document",
		Long: paragraph(fmt.Sprintf("\n%s a document exactly as it will be spoken: markup removed, "+
			"headings and list items closed with punctuation, symbols spelled out.", keyword("Print"))),
		Example: paragraph("readaloud text README.md\ncurl -s https://example.com | readaloud text -"),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseInput(args)
			if err != nil {
				return err
			}
			return writeText(cmd.OutOrStdout(), doc, writerIsTerminal(cmd.OutOrStdout()))
		},
	}

	chunksCmd = &cobra.Command{
		Use:     "chunks [SOURCE]",
		Short:   "Show how a document is split for speech",
		Long:    paragraph(fmt.Sprintf("\n%s the chunks a document is spoken in, with word counts and estimated durations.", keyword("List"))),
		Example: paragraph("readaloud chunks README.md --max-len 300"),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseInput(args)
			if err != nil {
				return err
			}
			cfg, err := playbackConfig()
			if err != nil {
				return err
			}
			maxLen := cfg.MaxChunkLen
			if cmd.Flags().Changed("max-len") {
				maxLen = chunkLen
			}
			chunks := chunk.Split(doc.Text, maxLen)
			if chunks.Len() == 0 {
				return fmt.Errorf("%s has nothing to say", doc.Describe())
			}
			est := estimate.New(chunks, cfg.WordsPerMinute*cfg.Rate)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), chunkTable(chunks, est))
			return err
		},
	}

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Check which speech engines can run here",
		Long: paragraph(fmt.Sprintf("\n%s each speech engine: whether its binary, credentials and the audio device are available. "+
			"Only the selected engine is probed unless --all is given.", keyword("Probe"))),
		Example: paragraph("readaloud probe --all\nreadaloud probe -e piper"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engines := []string{engineName}
			if all, _ := cmd.Flags().GetBool("all"); all {
				engines = engineNames
			}
			rows := make([][]string, 0, len(engines))
			for _, name := range engines {
				rows = append(rows, probeRow(name, probeEngine(name)))
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), renderTable(tableSpec{
				headers:   []string{"Engine", "Speech", "Audio graph", "Backend", "Reason"},
				rows:      rows,
				maxWidths: []int{0, 0, 0, 0, 48},
			}))
			return err
		},
	}
)

func init() {
	chunksCmd.Flags().IntVar(&chunkLen, "max-len", 0, "longest chunk in characters (default from config)")
	probeCmd.Flags().BoolP("all", "a", false, "probe every engine")
}

func parseInput(args []string) (content.Document, error) {
	src, err := openInput(args)
	if err != nil {
		return content.Document{}, err
	}
	raw, err := readSource(src)
	if err != nil {
		return content.Document{}, err
	}
	return content.Parse(raw), nil
}

func writeText(w io.Writer, doc content.Document, decorate bool) error {
	if decorate {
		lang := content.ResolveLang("auto", doc.Text, "und")
		words := estimate.WordCount(doc.Text)
		header := fmt.Sprintf("%s · %s · %s words", doc.Describe(), lang, humanize.Comma(int64(words)))
		if _, err := fmt.Fprintln(w, faint(header)+"\n"); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, doc.Text)
	return err
}

func chunkTable(chunks chunk.List, est *estimate.Estimator) string {
	rows := make([][]string, 0, chunks.Len())
	words := 0
	for i, c := range chunks {
		n := estimate.WordCount(c)
		words += n
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			formatClock(est.ChunkStart(i)),
			humanize.Comma(int64(n)),
			humanize.Comma(int64(utf8.RuneCountInString(c))),
			formatClock(est.ChunkDuration(i)),
			preview(c, previewWidth),
		})
	}
	return renderTable(tableSpec{
		headers: []string{"#", "Start", "Words", "Chars", "Length", "Text"},
		rows:    rows,
		aligns:  []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
		footer: []string{
			"", "",
			humanize.Comma(int64(words)),
			humanize.Comma(int64(chunks.Runes())),
			formatClock(est.Total()),
			fmt.Sprintf("%d chunks", chunks.Len()),
		},
	})
}

// preview flattens s onto one line and truncates it to width cells.
func preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "…")
}

// formatClock renders seconds as m:ss, or h:mm:ss past the hour.
func formatClock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// probeEngine builds the named engine's backend just long enough to probe
// it.
func probeEngine(name string) speech.Capabilities {
	cfg, err := playbackConfig()
	if err != nil {
		return speech.Capabilities{Reason: err.Error()}
	}
	s := &session{}
	defer s.release() //nolint:errcheck
	b, err := s.backend(sessionOptions{engine: name, clock: clock.Real()}, cfg)
	if err != nil {
		return speech.Capabilities{Reason: err.Error()}
	}
	defer speech.Close(b) //nolint:errcheck
	return speech.Probe(b)
}

func probeRow(name string, caps speech.Capabilities) []string {
	yes := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	backend := caps.Backend
	if backend == "" {
		backend = "-"
	}
	return []string{name, yes(caps.Speech), yes(caps.AudioGraph), backend, caps.Reason}
}
