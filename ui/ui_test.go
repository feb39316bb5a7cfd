package ui

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/clock"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/speech/simulated"
)

const article = "# Reading\n\nThe first sentence is here. The second one follows it. And a third closes."

func newTestEngine(t *testing.T) (*playback.Engine, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	cfg := playback.DefaultConfig()
	cfg.MaxChunkLen = 40
	eng, err := playback.New(simulated.New(fc), cfg, playback.WithClock(fc), playback.WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatalf("playback.New() error = %v", err)
	}
	t.Cleanup(func() { _ = eng.Destroy() })
	return eng, fc
}

func testConfig() Config {
	return Config{GlamourEnabled: false, GlamourStyle: "dark", Note: "article", Engine: "sim"}
}

// load runs the initial load the way the program would.
func load(t *testing.T, m model, resume bool) model {
	t.Helper()
	msg := loadCmd(m.player, m.marks, article, resume, false, playback.State{})()
	if e, ok := msg.(playerErrMsg); ok {
		t.Fatalf("load failed: %v", e.err)
	}
	next, _ := m.Update(msg)
	next, _ = next.(model).Update(stateMsg(m.player.GetState()))
	return next.(model)
}

func run(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	return cmd()
}

func TestModel_Transport(t *testing.T) {
	eng, fc := newTestEngine(t)
	cfg := testConfig()
	cfg.Visualizer = true
	m := load(t, newModel(cfg, eng, bookmark.NewMemory(), article), false)

	if got := eng.GetState().Phase; got != playback.PhaseReady {
		t.Fatalf("after load phase = %v, want ready", got)
	}
	if len(m.pager.chunks) != eng.GetState().Chunks {
		t.Fatalf("pager has %d chunks, engine %d", len(m.pager.chunks), eng.GetState().Chunks)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeySpace})
	if msg := run(t, cmd); msg != nil {
		t.Fatalf("play returned %v", msg)
	}
	fc.Advance(10 * time.Millisecond)
	st := eng.GetState()
	if st.Phase != playback.PhasePlaying {
		t.Fatalf("after space phase = %v, want playing", st.Phase)
	}

	next, _ := m.Update(stateMsg(st))
	m = next.(model)
	if !m.pager.animating {
		t.Error("visualizer should animate while playing")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeySpace})
	run(t, cmd)
	if got := eng.GetState().Phase; got != playback.PhasePaused {
		t.Fatalf("second space phase = %v, want paused", got)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("]")})
	run(t, cmd)
	if got := eng.GetState().Rate; got != 1+rateStep {
		t.Errorf("rate = %v, want %v", got, 1+rateStep)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	run(t, cmd)
	if got := eng.GetState().Phase; got != playback.PhaseIdle {
		t.Errorf("after stop phase = %v, want idle", got)
	}
}

func TestModel_QuitSavesBookmark(t *testing.T) {
	eng, _ := newTestEngine(t)
	marks := bookmark.NewMemory()
	m := load(t, newModel(testConfig(), eng, marks, article), false)

	if err := eng.Seek(0.9); err != nil {
		t.Fatal(err)
	}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if _, ok := run(t, cmd).(tea.QuitMsg); !ok {
		t.Fatal("q should quit")
	}

	b, err := marks.Get(context.Background(), bookmark.DocID(eng.Text()))
	if err != nil {
		t.Fatalf("bookmark not saved: %v", err)
	}
	if b.Source != "article" || b.Title != "Reading" || b.Chunks != 3 {
		t.Errorf("bookmark = %+v", b)
	}
	if b.Progress < 0.89 || b.Progress > 0.91 {
		t.Errorf("bookmark progress = %v, want 0.9", b.Progress)
	}
}

func TestModel_Resume(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := eng.LoadText(article); err != nil {
		t.Fatal(err)
	}
	marks := bookmark.NewMemory()
	if err := marks.Save(context.Background(), bookmark.Bookmark{
		DocID: bookmark.DocID(eng.Text()), Chunk: 2, Chunks: 3, Progress: 0.9,
	}); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Resume = true
	load(t, newModel(cfg, eng, marks, article), true)
	if got := eng.GetState().Chunk; got != 2 {
		t.Errorf("resumed at chunk %d, want 2", got)
	}
}

func TestModel_View(t *testing.T) {
	eng, _ := newTestEngine(t)
	m := load(t, newModel(testConfig(), eng, nil, article), false)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 12})
	m = next.(model)
	next, _ = m.Update(contentRenderedMsg(article))
	m = next.(model)

	view := m.View()
	for _, want := range []string{"readaloud", "article · sim", "1/3", "? Help", "The first sentence"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if !strings.Contains(view, "▌") {
		t.Errorf("view should mark the chunk being read:\n%s", view)
	}
}

func TestModel_NothingToRead(t *testing.T) {
	eng, _ := newTestEngine(t)
	m := newModel(testConfig(), eng, nil, "")
	if m.fatalErr == nil {
		t.Fatal("expected an error without content or path")
	}
	if !strings.Contains(m.View(), "nothing to read") {
		t.Errorf("view = %q", m.View())
	}
}

func TestSeekBy(t *testing.T) {
	st := playback.State{CurrentTime: 20, Duration: 100}
	tests := []struct {
		delta float64
		want  float64
	}{
		{10, 0.3},
		{-10, 0.1},
		{-60, 0},
		{200, 1},
	}
	for _, tt := range tests {
		if got := seekBy(st, tt.delta); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("seekBy(%v) = %v, want %v", tt.delta, got, tt.want)
		}
	}
	if got := seekBy(playback.State{}, 10); got != 0 {
		t.Errorf("seekBy with no duration = %v", got)
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := map[float64]string{
		0:      "0:00",
		-3:     "0:00",
		59.9:   "0:59",
		61:     "1:01",
		3600.5: "60:00",
	}
	for in, want := range tests {
		if got := formatSeconds(in); got != want {
			t.Errorf("formatSeconds(%v) = %q, want %q", in, got, want)
		}
	}
}
