package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/playback"
)

const (
	seekStep   = 10.0 // seconds
	rateStep   = 0.25
	volumeStep = 0.1
	frameRate  = time.Second / 15

	bookmarkTimeout = 2 * time.Second
)

// Player is the part of *playback.Engine the TUI drives.
type Player interface {
	LoadText(raw string) error
	Play() error
	Pause() error
	Stop() error
	Seek(position float64) error
	SetRate(v float64) error
	SetVolume(v float64) error
	GetState() playback.State
	GetFrequencyData() []byte
	Subscribe(fn func(playback.State)) (unsubscribe func())
	Chunks() []string
	Text() string
}

var _ Player = (*playback.Engine)(nil)

type (
	stateMsg     playback.State
	frameMsg     time.Time
	playerErrMsg struct{ err error }
	loadedMsg    struct {
		reload   bool
		progress float64
		playing  bool
	}
)

// listen forwards snapshots to a channel that only ever holds the latest
// one, so a slow frame never blocks the engine.
func listen(p Player) (<-chan playback.State, func()) {
	ch := make(chan playback.State, 1)
	unsubscribe := p.Subscribe(func(s playback.State) {
		for {
			select {
			case ch <- s:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch, unsubscribe
}

func waitForState(ch <-chan playback.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func frameTick() tea.Cmd {
	return tea.Tick(frameRate, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// playerCmd runs a transport call off the update loop.
func playerCmd(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return playerErrMsg{err}
		}
		return nil
	}
}

// loadCmd hands the document to the player. On reload it restores the
// previous relative position and resumes playback.
func loadCmd(p Player, marks bookmark.Store, body string, resume, reload bool, prev playback.State) tea.Cmd {
	return func() tea.Msg {
		if err := p.LoadText(body); err != nil {
			return playerErrMsg{err}
		}
		msg := loadedMsg{reload: reload}
		switch {
		case reload:
			msg.progress, msg.playing = prev.Progress, prev.IsPlaying
		case resume && marks != nil:
			ctx, cancel := context.WithTimeout(context.Background(), bookmarkTimeout)
			defer cancel()
			b, err := marks.Get(ctx, bookmark.DocID(p.Text()))
			if err == nil {
				msg.progress = b.Progress
				log.Debug("resuming from bookmark", "progress", b.Progress, "chunk", b.Chunk)
			}
		}
		if msg.progress > 0 {
			if err := p.Seek(msg.progress); err != nil {
				return playerErrMsg{err}
			}
		}
		return msg
	}
}

// saveBookmark records the position of the loaded document. Nothing is
// saved before playback has moved.
func saveBookmark(marks bookmark.Store, p Player, title, source string) error {
	if marks == nil {
		return nil
	}
	st := p.GetState()
	if st.Chunks == 0 {
		return nil
	}
	if title == "" {
		title = st.Title
	}
	ctx, cancel := context.WithTimeout(context.Background(), bookmarkTimeout)
	defer cancel()
	return marks.Save(ctx, bookmark.Bookmark{
		DocID:     bookmark.DocID(p.Text()),
		Title:     title,
		Source:    source,
		Chunk:     st.Chunk,
		Chunks:    st.Chunks,
		Progress:  st.Progress,
		UpdatedAt: time.Now(),
	})
}

// seekBy moves the position by delta seconds of estimated time.
func seekBy(st playback.State, delta float64) float64 {
	if st.Duration <= 0 {
		return 0
	}
	return min(max((st.CurrentTime+delta)/st.Duration, 0), 1)
}

type keyMap struct {
	PlayPause  key.Binding
	Stop       key.Binding
	Back       key.Binding
	Forward    key.Binding
	Restart    key.Binding
	Slower     key.Binding
	Faster     key.Binding
	Quieter    key.Binding
	Louder     key.Binding
	Follow     key.Binding
	Visualizer key.Binding
	Copy       key.Binding
	Edit       key.Binding
	Reload     key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		PlayPause:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		Stop:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		Back:       key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "back 10s")),
		Forward:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "ahead 10s")),
		Restart:    key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "start over")),
		Slower:     key.NewBinding(key.WithKeys("["), key.WithHelp("[", "slower")),
		Faster:     key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "faster")),
		Quieter:    key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "quieter")),
		Louder:     key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "louder")),
		Follow:     key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow reading")),
		Visualizer: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "visualizer")),
		Copy:       key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy contents")),
		Edit:       key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit this document")),
		Reload:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PlayPause, k.Back, k.Forward, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PlayPause, k.Stop, k.Back, k.Forward, k.Restart},
		{k.Slower, k.Faster, k.Quieter, k.Louder},
		{k.Follow, k.Visualizer, k.Copy, k.Edit, k.Reload},
		{k.Help, k.Quit},
	}
}
