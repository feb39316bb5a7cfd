package pcm

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/speech"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

// event is one handler callback.
type event struct {
	name  string
	cause speech.ErrorCause
}

type recorder struct{ ch chan event }

func newRecorder() *recorder { return &recorder{ch: make(chan event, 16)} }

func (r *recorder) OnStart()  { r.ch <- event{name: "start"} }
func (r *recorder) OnEnd()    { r.ch <- event{name: "end"} }
func (r *recorder) OnPause()  { r.ch <- event{name: "pause"} }
func (r *recorder) OnResume() { r.ch <- event{name: "resume"} }
func (r *recorder) OnError(c speech.ErrorCause, _ error) {
	r.ch <- event{name: "error", cause: c}
}

func (r *recorder) expect(t *testing.T, name string, cause speech.ErrorCause) {
	t.Helper()
	select {
	case ev := <-r.ch:
		if ev.name != name || ev.cause != cause {
			t.Fatalf("event = %+v, want %s %s", ev, name, cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", name)
	}
}

func (r *recorder) quiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(60 * time.Millisecond):
	}
}

// fakeSynth returns a short clip, or blocks until ctx ends when block is set.
type fakeSynth struct {
	block bool
	err   error
	valid error
	got   chan synth.Request
}

func (f *fakeSynth) Name() string { return "fake" }
func (f *fakeSynth) Synthesize(ctx context.Context, req synth.Request) (audio.Clip, error) {
	if f.got != nil {
		f.got <- req
	}
	if f.block {
		<-ctx.Done()
		return audio.Clip{}, ctx.Err()
	}
	if f.err != nil {
		return audio.Clip{}, f.err
	}
	return audio.Clip{PCM: make([]int16, 441), SampleRate: 44100, Channels: 1}, nil
}
func (f *fakeSynth) Validate(context.Context) error { return f.valid }

// gatedVoice plays its stream out once the gate opens.
type gatedVoice struct {
	r    io.Reader
	gate chan struct{}

	mu       sync.Mutex
	playing  bool
	drained  bool
	started  bool
	volume   float64
	closeErr error
}

func (v *gatedVoice) Play() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.drained {
		return
	}
	v.playing = true
	if !v.started {
		v.started = true
		go func() {
			<-v.gate
			_, _ = io.ReadAll(v.r)
			v.mu.Lock()
			v.drained, v.playing = true, false
			v.mu.Unlock()
		}()
	}
}
func (v *gatedVoice) Pause() { v.mu.Lock(); v.playing = false; v.mu.Unlock() }
func (v *gatedVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}
func (v *gatedVoice) SetVolume(x float64) { v.mu.Lock(); v.volume = x; v.mu.Unlock() }
func (v *gatedVoice) Close() error        { return v.closeErr }

type gatedSink struct {
	gate chan struct{}
	mu   sync.Mutex
	n    int
}

func (s *gatedSink) NewVoice(r io.Reader) audio.Voice {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return &gatedVoice{r: r, gate: s.gate}
}

func newBackend(t *testing.T, s synth.Synthesizer, gate chan struct{}) (*Backend, *gatedSink) {
	t.Helper()
	sink := &gatedSink{gate: gate}
	g := audio.NewGraphWithSink(sink, audio.DefaultGraphConfig())
	b := New(s, g, WithPollInterval(2*time.Millisecond), WithVoice("amy"), WithLogger(log.New(io.Discard)))
	t.Cleanup(func() { _ = b.Close() })
	return b, sink
}

func openGate() chan struct{} {
	g := make(chan struct{})
	close(g)
	return g
}

func TestBackend_PlaysToEnd(t *testing.T) {
	fs := &fakeSynth{got: make(chan synth.Request, 1)}
	b, _ := newBackend(t, fs, openGate())
	rec := newRecorder()

	u := speech.Utterance{Text: "Hello.", Rate: 1.5, Pitch: 1, Volume: 0.4, Lang: "en-GB"}
	if err := b.Speak(u, rec); err != nil {
		t.Fatal(err)
	}
	req := <-fs.got
	if req.Text != "Hello." || req.Voice != "amy" || req.Lang != "en-GB" || req.Rate != 1.5 {
		t.Errorf("request = %+v", req)
	}
	rec.expect(t, "start", "")
	rec.expect(t, "end", "")
	if b.graph.Gain() != 0.4 {
		t.Errorf("gain = %v", b.graph.Gain())
	}
}

func TestBackend_SynthesisObserver(t *testing.T) {
	lags := make(chan time.Duration, 1)
	g := audio.NewGraphWithSink(&gatedSink{gate: openGate()}, audio.DefaultGraphConfig())
	b := New(&fakeSynth{}, g,
		WithPollInterval(2*time.Millisecond),
		WithLogger(log.New(io.Discard)),
		WithSynthesisObserver(func(d time.Duration) { lags <- d }),
	)
	t.Cleanup(func() { _ = b.Close() })

	rec := newRecorder()
	if err := b.Speak(speech.Utterance{Text: "Hi.", Rate: 1, Volume: 1}, rec); err != nil {
		t.Fatal(err)
	}
	rec.expect(t, "start", "")
	select {
	case d := <-lags:
		if d < 0 {
			t.Errorf("lag = %v", d)
		}
	default:
		t.Fatal("observer not called before start")
	}
}

func TestBackend_CancelDuringSynthesis(t *testing.T) {
	b, sink := newBackend(t, &fakeSynth{block: true}, openGate())
	rec := newRecorder()

	_ = b.Speak(speech.Utterance{Text: "Slow."}, rec)
	done := make(chan struct{})
	go func() { _ = b.Cancel(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Cancel blocked on synthesis")
	}
	rec.expect(t, "error", speech.CauseCanceled)
	rec.quiet(t)
	if sink.n != 0 {
		t.Error("canceled utterance reached the graph")
	}
}

func TestBackend_PauseResumeInterrupt(t *testing.T) {
	gate := make(chan struct{})
	b, _ := newBackend(t, &fakeSynth{}, gate)
	rec := newRecorder()

	_ = b.Speak(speech.Utterance{Text: "Long."}, rec)
	rec.expect(t, "start", "")

	_ = b.Pause()
	rec.expect(t, "pause", "")
	_ = b.Pause()
	_ = b.Resume()
	rec.expect(t, "resume", "")

	_ = b.Cancel()
	rec.expect(t, "error", speech.CauseInterrupted)
	close(gate)
	rec.quiet(t)
}

func TestBackend_SpeakReplaces(t *testing.T) {
	gate := make(chan struct{})
	b, _ := newBackend(t, &fakeSynth{}, gate)
	first, second := newRecorder(), newRecorder()

	_ = b.Speak(speech.Utterance{Text: "One."}, first)
	first.expect(t, "start", "")
	_ = b.Speak(speech.Utterance{Text: "Two."}, second)
	first.expect(t, "error", speech.CauseInterrupted)
	second.expect(t, "start", "")
	close(gate)
	second.expect(t, "end", "")
	first.quiet(t)
}

func TestBackend_SynthesisErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want speech.ErrorCause
	}{
		{"missing binary", synth.ErrNotInstalled, speech.CauseSynthesisUnavailable},
		{"too long", synth.ErrTextTooLong, speech.CauseTextTooLong},
		{"timeout", context.DeadlineExceeded, speech.CauseNetwork},
		{"other", errors.New("boom"), speech.CauseSynthesisFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBackend(t, &fakeSynth{err: tt.err}, openGate())
			rec := newRecorder()
			_ = b.Speak(speech.Utterance{Text: "x"}, rec)
			rec.expect(t, "error", tt.want)
		})
	}
}

func TestBackend_ProbeAndClose(t *testing.T) {
	b, _ := newBackend(t, &fakeSynth{valid: synth.ErrNotInstalled}, openGate())
	caps := b.Probe()
	if caps.Supported() || !caps.AudioGraph || caps.Backend != "fake" || caps.Reason == "" {
		t.Errorf("Probe() = %+v", caps)
	}
	if _, ok := b.Analyser().(*audio.Analyser); !ok {
		t.Error("Analyser() is not the graph analyser")
	}

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Speak(speech.Utterance{Text: "x"}, newRecorder()); !errors.Is(err, ErrClosed) {
		t.Errorf("Speak() after Close = %v", err)
	}
}
