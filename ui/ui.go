// Package ui provides the reading TUI: the rendered document, a reading
// marker that follows the voice, and the player controls.
package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	te "github.com/muesli/termenv"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/playback"
)

const (
	statusMessageTimeout = time.Second * 3 // how long to show status messages like "copied!"
	ellipsis             = "…"
	keyEsc               = "esc"
)

// NewProgram returns a new Tea program reading content aloud. When content
// is empty the document at cfg.Path is loaded instead.
func NewProgram(cfg Config, p Player, marks bookmark.Store, content string) *tea.Program {
	log.Debug(
		"Starting readaloud",
		"engine", cfg.Engine,
		"glamour", cfg.GlamourEnabled,
		"visualizer", cfg.Visualizer,
	)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	m := newModel(cfg, p, marks, content)
	return tea.NewProgram(m, opts...)
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type statusMessageTimeoutMsg struct{}

// Common stuff we'll need to access in all models.
type commonModel struct {
	cfg    Config
	width  int
	height int

	// Normalized text being read and the latest visualizer frame.
	text      string
	frequency []byte
}

type model struct {
	common   *commonModel
	fatalErr error

	pager  pagerModel
	player Player
	marks  bookmark.Store

	states        <-chan playback.State
	stopListening func()

	// content given up front, loaded on Init instead of cfg.Path
	content string
}

func newModel(cfg Config, p Player, marks bookmark.Store, content string) model {
	if cfg.GlamourStyle == styles.AutoStyle || cfg.GlamourStyle == "" {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}

	common := commonModel{cfg: cfg}
	m := model{
		common:  &common,
		pager:   newPagerModel(&common),
		player:  p,
		marks:   marks,
		content: content,
	}
	m.states, m.stopListening = listen(p)
	m.pager.player = p.GetState()

	switch {
	case content != "":
		m.pager.currentDocument = markdown{Body: content, Note: cfg.Note}
	case cfg.Path != "":
		m.pager.currentDocument = newLocalMarkdown(cfg.Path)
	default:
		m.fatalErr = errors.New("nothing to read")
	}
	return m
}

func (m model) Init() tea.Cmd {
	log.Debug("Init() called", "path", m.common.cfg.Path)
	cmds := []tea.Cmd{waitForState(m.states)}

	if m.content != "" {
		doc := m.pager.currentDocument
		cmds = append(cmds, func() tea.Msg { return fetchedMarkdownMsg{doc: &doc} })
	} else if m.fatalErr == nil {
		cmds = append(cmds, loadLocalMarkdown(&m.pager.currentDocument, false))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// If there's been an error, any key exits
	if m.fatalErr != nil {
		if _, ok := msg.(tea.KeyMsg); ok {
			return m, m.quit()
		}
	}

	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, ok := m.handlePlayerKey(msg); ok {
			return m, cmd
		}
		switch msg.String() {
		case "ctrl+z":
			return m, tea.Suspend
		}

	// Window size is received when starting up and on every resize
	case tea.WindowSizeMsg:
		m.common.width = msg.Width
		m.common.height = msg.Height
		m.pager.setSize(msg.Width, msg.Height)

	case errMsg:
		m.fatalErr = msg.err
		return m, nil

	case fetchedMarkdownMsg:
		// We've loaded a document's contents
		log.Debug("fetchedMarkdownMsg received",
			"bodyLength", len(msg.doc.Body),
			"note", msg.doc.Note,
			"reload", msg.reload)
		m.pager.currentDocument = *msg.doc
		cmds = append(cmds, loadCmd(m.player, m.marks, msg.doc.Body,
			m.common.cfg.Resume, msg.reload, m.pager.player))

	case loadedMsg:
		m.common.text = m.player.Text()
		m.pager.chunks = m.player.Chunks()
		m.pager.markedFor = -1
		cmds = append(cmds, renderWithGlamour(m.pager, m.pager.currentDocument.Body))
		if msg.reload {
			cmds = append(cmds, m.pager.showStatusMessage(pagerStatusMessage{"Reloaded", false}))
		}
		if (msg.reload && msg.playing) || (!msg.reload && m.common.cfg.AutoPlay) {
			cmds = append(cmds, playerCmd(m.player.Play))
		}

	case playerErrMsg:
		log.Warn("player call failed", "error", msg.err)
		cmds = append(cmds, m.pager.showStatusMessage(pagerStatusMessage{msg.err.Error(), true}))

	case stateMsg:
		cmds = append(cmds, m.applyState(playback.State(msg)), waitForState(m.states))
		return m, tea.Batch(cmds...)

	case frameMsg:
		if !m.pager.player.IsPlaying || !m.common.cfg.Visualizer {
			m.pager.animating = false
			m.common.frequency = nil
			return m, nil
		}
		m.common.frequency = m.player.GetFrequencyData()
		return m, frameTick()
	}

	newPagerModel, cmd := m.pager.update(msg)
	m.pager = newPagerModel
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// applyState takes a new snapshot: it moves the marker, keeps the spinner
// and visualizer running, and saves the position when playback settles.
func (m *model) applyState(st playback.State) tea.Cmd {
	prev := m.pager.player
	m.pager.player = st
	if st.Chunks != len(m.pager.chunks) {
		m.pager.chunks = m.player.Chunks()
		m.pager.markedFor = -1
	}
	m.pager.placeMarker()

	var cmds []tea.Cmd
	if st.IsLoading && !prev.IsLoading {
		cmds = append(cmds, m.pager.spinner.Tick)
	}
	if st.IsPlaying && m.common.cfg.Visualizer && !m.pager.animating {
		m.pager.animating = true
		cmds = append(cmds, frameTick())
	}
	settled := (st.IsPaused && !prev.IsPaused) || (prev.Active() && st.Phase == playback.PhaseIdle)
	if settled {
		cmds = append(cmds, m.saveBookmarkCmd())
	}
	if st.Error != "" && st.Error != prev.Error {
		log.Warn("playback error", "kind", st.ErrorKind, "error", st.Error)
	}
	return tea.Batch(cmds...)
}

func (m model) saveBookmarkCmd() tea.Cmd {
	doc := m.pager.currentDocument
	return func() tea.Msg {
		if err := saveBookmark(m.marks, m.player, "", doc.source()); err != nil {
			log.Warn("could not save bookmark", "error", err)
		}
		return nil
	}
}

// handlePlayerKey runs transport keys. It reports false for keys it does
// not own.
func (m *model) handlePlayerKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	k, st, p := m.pager.keys, m.pager.player, m.player
	switch {
	case key.Matches(msg, k.Quit):
		if msg.String() == "q" && m.pager.state != pagerStateBrowse {
			return nil, false
		}
		return m.quit(), true
	case key.Matches(msg, k.PlayPause):
		if st.IsPlaying {
			return playerCmd(p.Pause), true
		}
		return playerCmd(p.Play), true
	case key.Matches(msg, k.Stop):
		return playerCmd(p.Stop), true
	case key.Matches(msg, k.Back):
		pos := seekBy(st, -seekStep)
		return playerCmd(func() error { return p.Seek(pos) }), true
	case key.Matches(msg, k.Forward):
		pos := seekBy(st, seekStep)
		return playerCmd(func() error { return p.Seek(pos) }), true
	case key.Matches(msg, k.Restart):
		return playerCmd(func() error { return p.Seek(0) }), true
	case key.Matches(msg, k.Slower):
		return playerCmd(func() error { return p.SetRate(st.Rate - rateStep) }), true
	case key.Matches(msg, k.Faster):
		return playerCmd(func() error { return p.SetRate(st.Rate + rateStep) }), true
	case key.Matches(msg, k.Quieter):
		return playerCmd(func() error { return p.SetVolume(st.Volume - volumeStep) }), true
	case key.Matches(msg, k.Louder):
		return playerCmd(func() error { return p.SetVolume(st.Volume + volumeStep) }), true
	}
	return nil, false
}

// quit saves the position, stops speech and exits. The engine itself is
// destroyed by whoever created it.
func (m *model) quit() tea.Cmd {
	if err := saveBookmark(m.marks, m.player, "", m.pager.currentDocument.source()); err != nil {
		log.Warn("could not save bookmark", "error", err)
	}
	if err := m.player.Stop(); err != nil && !errors.Is(err, playback.ErrDestroyed) {
		log.Warn("stop on quit failed", "error", err)
	}
	m.stopListening()
	m.pager.unload()
	return tea.Quit
}

func (m model) View() string {
	if m.fatalErr != nil {
		return errorView(m.fatalErr, true)
	}
	return m.pager.View()
}

func errorView(err error, fatal bool) string {
	exitMsg := "press any key to "
	if fatal {
		exitMsg += "exit"
	} else {
		exitMsg += "return"
	}
	s := fmt.Sprintf("%s\n\n%v\n\n%s",
		errorTitleStyle.Render("ERROR"),
		err,
		subtleStyle.Render(exitMsg),
	)
	return "\n" + indent(s, 3)
}

// COMMANDS

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}

// ETC

// Lightweight version of reflow's indent function.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}
