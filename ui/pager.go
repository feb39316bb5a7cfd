package ui

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/termenv"

	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/utils"
)

const (
	statusBarHeight = 1
	playerBarHeight = 1
	lineNumberWidth = 4
	gutterWidth     = 2
)

var (
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}

	lineNumberFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}

	statusBarNoteFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	statusBarBg     = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}

	statusBarScrollPosStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#949494", Dark: "#5A5A5A"}).
				Background(statusBarBg).
				Render

	statusBarNoteStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(statusBarBg).
				Render

	statusBarHelpStyle = lipgloss.NewStyle().
				Foreground(statusBarNoteFg).
				Background(lipgloss.AdaptiveColor{Light: "#DCDCDC", Dark: "#323232"}).
				Render

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen).
				Render

	statusBarErrorStyle = lipgloss.NewStyle().
				Foreground(cream).
				Background(red).
				Render

	helpViewStyle = lipgloss.NewStyle().
			Foreground(statusBarNoteFg).
			Background(lipgloss.AdaptiveColor{Light: "#f2f2f2", Dark: "#1B1B1B"})

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(lineNumberFg).
			Render
)

type (
	contentRenderedMsg string
	reloadMsg          struct{}
)

type pagerState int

const (
	pagerStateBrowse pagerState = iota
	pagerStateStatusMessage
)

type pagerStatusMessage struct {
	message string
	isError bool
}

type pagerModel struct {
	common   *commonModel
	viewport viewport.Model
	state    pagerState
	showHelp bool

	statusMessage      pagerStatusMessage
	statusMessageTimer *time.Timer

	// Current document being rendered, sans-glamour rendering. We cache
	// it here so we can re-render it on resize.
	currentDocument markdown

	// Rendered document and the index used to place the reading marker.
	rendered   string
	index      lineIndex
	markerLine int
	markerWord int
	markedFor  int // chunk the marker was last placed for

	// Latest player snapshot and the chunks it refers to.
	player    playback.State
	chunks    []string
	animating bool

	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	progress progress.Model

	watcher  *fsnotify.Watcher
	watching bool
}

func newPagerModel(common *commonModel) pagerModel {
	vp := viewport.New(0, 0)
	vp.YPosition = 0

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(pausedStyle))
	pr := progress.New(
		progress.WithGradient("#5A56E0", "#EE6FF8"),
		progress.WithoutPercentage(),
	)
	pr.EmptyColor = "#4A4A4A"

	m := pagerModel{
		common:     common,
		state:      pagerStateBrowse,
		viewport:   vp,
		markerLine: -1,
		markedFor:  -1,
		keys:       newKeyMap(),
		help:       help.New(),
		spinner:    sp,
		progress:   pr,
	}
	m.initWatcher()
	return m
}

func (m *pagerModel) setSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h - statusBarHeight - playerBarHeight
	if m.common.cfg.Visualizer {
		m.viewport.Height--
	}
	m.help.Width = w

	if m.showHelp {
		m.viewport.Height -= lipgloss.Height(m.helpView())
	}
	m.viewport.Height = max(m.viewport.Height, 0)
}

func (m *pagerModel) toggleHelp() {
	m.showHelp = !m.showHelp
	m.help.ShowAll = m.showHelp
	m.setSize(m.common.width, m.common.height)
	if m.viewport.PastBottom() {
		m.viewport.GotoBottom()
	}
}

func (m *pagerModel) showStatusMessage(msg pagerStatusMessage) tea.Cmd {
	m.state = pagerStateStatusMessage
	m.statusMessage = msg
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)

	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

func (m *pagerModel) unload() {
	log.Debug("unload")
	if m.showHelp {
		m.toggleHelp()
	}
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.state = pagerStateBrowse
	m.viewport.SetContent("")
	m.viewport.YOffset = 0
	m.unwatchFile()
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
}

// setRendered installs freshly rendered content and places the marker
// again.
func (m *pagerModel) setRendered(s string) {
	m.rendered = s
	m.index = newLineIndex(s)
	m.markerLine, m.markerWord, m.markedFor = -1, 0, -1
	m.placeMarker()
	m.viewport.SetContent(markLine(m.rendered, m.markerLine))
}

// placeMarker finds the chunk being read in the rendered document and,
// when following, scrolls it into view.
func (m *pagerModel) placeMarker() {
	c := m.player.Chunk
	if c == m.markedFor || c < 0 || c >= len(m.chunks) {
		return
	}
	from := m.markerWord
	if c < m.markedFor {
		from = 0
	}
	line, next := m.index.find(m.chunks[c], from)
	m.markedFor = c
	if line < 0 {
		return
	}
	m.markerLine, m.markerWord = line, next
	m.viewport.SetContent(markLine(m.rendered, m.markerLine))

	if !m.common.cfg.FollowReading || !m.player.Active() {
		return
	}
	if line < m.viewport.YOffset || line >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(max(line-m.viewport.Height/3, 0))
	}
}

func (m pagerModel) update(msg tea.Msg) (pagerModel, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", keyEsc:
			if m.state != pagerStateBrowse {
				m.state = pagerStateBrowse
				return m, nil
			}
		case "home", "g":
			m.viewport.GotoTop()
		case "end", "G":
			m.viewport.GotoBottom()
		case "d":
			m.viewport.HalfViewDown()
		case "u":
			m.viewport.HalfViewUp()
		}

		switch {
		case key.Matches(msg, m.keys.Edit):
			if m.currentDocument.localPath == "" {
				break
			}
			lineno := int(math.RoundToEven(float64(m.viewport.TotalLineCount()) * m.viewport.ScrollPercent()))
			if m.viewport.AtTop() {
				lineno = 0
			}
			log.Info(
				"opening editor",
				"file", m.currentDocument.localPath,
				"line", fmt.Sprintf("%d/%d", lineno, m.viewport.TotalLineCount()),
			)
			return m, openEditor(m.currentDocument.localPath, lineno)

		case key.Matches(msg, m.keys.Copy):
			// Copy using OSC 52
			termenv.Copy(m.currentDocument.Body)
			// Copy using native system clipboard
			_ = clipboard.WriteAll(m.currentDocument.Body)
			cmds = append(cmds, m.showStatusMessage(pagerStatusMessage{"Copied contents", false}))

		case key.Matches(msg, m.keys.Reload):
			if m.currentDocument.localPath != "" {
				return m, loadLocalMarkdown(&m.currentDocument, true)
			}

		case key.Matches(msg, m.keys.Help):
			m.toggleHelp()

		case key.Matches(msg, m.keys.Follow):
			m.common.cfg.FollowReading = !m.common.cfg.FollowReading
			note := "Not following"
			if m.common.cfg.FollowReading {
				note = "Following reading position"
				m.markedFor = -1
				m.placeMarker()
			}
			cmds = append(cmds, m.showStatusMessage(pagerStatusMessage{note, false}))

		case key.Matches(msg, m.keys.Visualizer):
			m.common.cfg.Visualizer = !m.common.cfg.Visualizer
			m.setSize(m.common.width, m.common.height)
		}

	case contentRenderedMsg:
		log.Info("content rendered", "state", m.state)
		m.setRendered(string(msg))
		if !m.watching && m.watcher != nil && m.currentDocument.localPath != "" {
			m.watching = true
			cmds = append(cmds, m.watchFile)
		}

	// The file was changed on disk and we're reloading it
	case reloadMsg:
		m.watching = false
		return m, loadLocalMarkdown(&m.currentDocument, true)

	// We've finished editing the document, potentially making changes. Let's
	// retrieve the latest version of the document so that we display
	// up-to-date contents.
	case editorFinishedMsg:
		return m, loadLocalMarkdown(&m.currentDocument, true)

	case tea.WindowSizeMsg:
		return m, renderWithGlamour(m, m.currentDocument.Body)

	case statusMessageTimeoutMsg:
		m.state = pagerStateBrowse

	case spinner.TickMsg:
		if m.player.IsLoading {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m pagerModel) View() string {
	var b strings.Builder
	fmt.Fprint(&b, m.viewport.View()+"\n")

	m.playerBarView(&b)
	if m.common.cfg.Visualizer {
		fmt.Fprint(&b, "\n"+m.visualizer())
	}
	fmt.Fprint(&b, "\n")
	m.statusBarView(&b)

	if m.showHelp {
		fmt.Fprint(&b, "\n"+m.helpView())
	}

	return b.String()
}

func (m pagerModel) visualizer() string {
	if !m.player.IsPlaying {
		return strings.Repeat(" ", max(m.common.width, 0))
	}
	return visualizerView(m.common.frequency, m.common.width)
}

// phaseView is the transport indicator shown at the start of the player
// bar.
func (m pagerModel) phaseView() string {
	st := m.player
	switch {
	case st.Error != "":
		return errorStyle.Render("✗")
	case st.IsLoading:
		return m.spinner.View()
	case st.IsPlaying:
		return playingStyle.Render("▶")
	case st.IsPaused:
		return pausedStyle.Render("⏸")
	default:
		return idleStyle.Render("■")
	}
}

func (m pagerModel) playerBarView(b *strings.Builder) {
	st := m.player
	icon := " " + m.phaseView() + " "

	counter := ""
	if st.Chunks > 0 {
		counter = fmt.Sprintf(" %d/%d", st.Chunk+1, st.Chunks)
	}
	info := subtleStyle.Render(fmt.Sprintf("%s  %s / %s  %.2g×  vol %d%% ",
		counter,
		formatSeconds(st.CurrentTime),
		formatSeconds(st.Duration),
		st.Rate,
		int(math.Round(st.Volume*100)),
	))

	m.progress.Width = max(m.common.width-ansi.PrintableRuneWidth(icon)-ansi.PrintableRuneWidth(info), 0)
	bar := ""
	if m.progress.Width > 0 {
		bar = m.progress.ViewAs(st.Progress)
	}
	fmt.Fprint(b, icon+bar+info)
}

// statusBarView draws the logo, the note stretched over the free width,
// the scroll position and the help hint.
func (m pagerModel) statusBarView(b *strings.Builder) {
	showStatusMessage := m.state == pagerStateStatusMessage
	noteStyle := statusBarNoteStyle
	if showStatusMessage || m.player.Error != "" {
		noteStyle = statusBarMessageStyle
		if m.player.Error != "" || m.statusMessage.isError {
			noteStyle = statusBarErrorStyle
		}
	}

	scrolled := min(max(m.viewport.ScrollPercent(), 0), 1)
	right := statusBarScrollPosStyle(fmt.Sprintf(" %3.f%% ", scrolled*100)) +
		statusBarHelpStyle(" ? Help ")
	left := logoView()

	free := max(m.common.width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	note := truncate.StringWithTail(" "+m.noteText(showStatusMessage)+" ", uint(free), ellipsis) //nolint:gosec
	note += strings.Repeat(" ", max(free-ansi.PrintableRuneWidth(note), 0))

	b.WriteString(left + noteStyle(note) + right)
}

// noteText is the status bar note: a status message, the player error, or
// the document name with the engine.
func (m pagerModel) noteText(showStatusMessage bool) string {
	if showStatusMessage {
		return m.statusMessage.message
	}
	if m.player.Error != "" {
		return m.player.Error
	}
	note := m.currentDocument.Note
	if note == "" {
		note = m.player.Title
	}
	if m.common.cfg.Engine != "" {
		note += " · " + m.common.cfg.Engine
	}
	return note
}

func (m pagerModel) helpView() string {
	s := indent(m.help.View(m.keys), 2)
	if m.common.width <= 0 {
		return helpViewStyle.Render(s)
	}
	// pad every line so the background spans the terminal
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = l + strings.Repeat(" ", max(m.common.width-runewidth.StringWidth(l), 0))
	}
	return helpViewStyle.Render(strings.Join(lines, "\n"))
}

func formatSeconds(s float64) string {
	if s < 0 || math.IsNaN(s) {
		s = 0
	}
	d := time.Duration(s * float64(time.Second))
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// COMMANDS

func renderWithGlamour(m pagerModel, md string) tea.Cmd {
	return func() tea.Msg {
		out, err := renderDocument(m, md)
		if err != nil {
			log.Error("render failed", "doc", m.currentDocument.Note, "err", err)
			return errMsg{err}
		}
		return contentRenderedMsg(out)
	}
}

// renderDocument styles the document for the viewport. HTML shows the
// normalized text that will be spoken and source code is fenced and
// numbered.
func renderDocument(m pagerModel, body string) (string, error) {
	if !m.common.cfg.GlamourEnabled {
		return body, nil
	}

	name := m.currentDocument.Note
	if m.currentDocument.localPath != "" {
		name = m.currentDocument.localPath
	}
	html := isHTMLFile(name)
	code := !html && !utils.IsReadableFile(name)

	wrap := 0
	if !code {
		wrap = max(0, min(int(m.common.cfg.GlamourMaxWidth), m.viewport.Width-gutterWidth)) //nolint:gosec
	}
	opts := []glamour.TermRendererOption{
		utils.GlamourStyle(m.common.cfg.GlamourStyle, code),
		glamour.WithWordWrap(wrap),
	}
	if m.common.cfg.PreserveNewLines {
		opts = append(opts, glamour.WithPreservedNewLines())
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}

	switch {
	case code:
		body = utils.WrapCodeBlock(body, filepath.Ext(name))
	case html:
		body = m.common.text
	}
	out, err := r.Render(body)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	if code {
		return numberLines(strings.TrimSpace(out), m.viewport.Width), nil
	}
	if m.common.cfg.ShowLineNumbers {
		return numberLines(out, m.viewport.Width), nil
	}
	return out, nil
}

// numberLines prefixes each line with its number and clips it to the
// viewport.
func numberLines(s string, width int) string {
	clip := lipgloss.NewStyle().MaxWidth(width - lineNumberWidth - gutterWidth).Render
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = lineNumberStyle(fmt.Sprintf("%*d", lineNumberWidth, i+1)) + clip(l)
	}
	return strings.Join(lines, "\n")
}

func isHTMLFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

func (m *pagerModel) initWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("live reload disabled", "err", err)
		return
	}
	m.watcher = w
}

// watchFile blocks until the open file is written or replaced. Editors that
// save by rename show up as a create in the parent directory, so the
// directory is watched rather than the file.
func (m pagerModel) watchFile() tea.Msg {
	path := m.currentDocument.localPath
	dir := filepath.Dir(path)
	if err := m.watcher.Add(dir); err != nil {
		log.Warn("live reload disabled", "dir", dir, "err", err)
		return nil
	}
	log.Debug("watching for changes", "file", path)

	for {
		select {
		case ev, ok := <-m.watcher.Events:
			switch {
			case !ok:
				return nil
			case ev.Name == path && ev.Has(fsnotify.Write|fsnotify.Create):
				log.Debug("file changed", "file", path, "op", ev.Op)
				return reloadMsg{}
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("watcher error", "dir", dir, "err", err)
		}
	}
}

func (m *pagerModel) unwatchFile() {
	if m.watcher == nil || m.currentDocument.localPath == "" {
		return
	}
	dir := filepath.Dir(m.currentDocument.localPath)
	if err := m.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		log.Debug("unwatch failed", "dir", dir, "err", err)
	}
}
