// Package pcm is a speech backend that synthesizes each utterance to a clip
// and plays it through an audio graph.
package pcm

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/speech"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

// ErrClosed is returned by Speak after Close.
var ErrClosed = errors.New("pcm backend closed")

// DefaultPollInterval is how often a playing stream is checked for its end.
const DefaultPollInterval = 20 * time.Millisecond

type state int

const (
	synthesizing state = iota
	playing
	paused
)

type job struct {
	u      speech.Utterance
	h      speech.Handler
	cancel context.CancelFunc
	state  state
	stream *audio.Stream
}

// Backend implements speech.Backend on a Synthesizer and a Graph.
type Backend struct {
	synth  synth.Synthesizer
	graph  *audio.Graph
	logger *log.Logger
	voice  string
	poll   time.Duration
	onLag  func(time.Duration)

	mu     sync.Mutex
	cur    *job
	closed bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(b *Backend) { b.logger = l } }

// WithVoice selects the engine voice sent with every request.
func WithVoice(v string) Option { return func(b *Backend) { b.voice = v } }

// WithPollInterval changes how often playback completion is checked.
func WithPollInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.poll = d
		}
	}
}

// WithSynthesisObserver reports how long each utterance waited for audio.
func WithSynthesisObserver(f func(time.Duration)) Option {
	return func(b *Backend) { b.onLag = f }
}

// New returns a backend. The backend owns g and closes it on Close.
func New(s synth.Synthesizer, g *audio.Graph, opts ...Option) *Backend {
	b := &Backend{synth: s, graph: g, poll: DefaultPollInterval}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = log.Default().WithPrefix("pcm")
	}
	return b
}

// Speak cancels the current utterance and starts synthesizing u. Events are
// delivered from the worker goroutine.
func (b *Backend) Speak(u speech.Utterance, h speech.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.cancelLocked()

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{u: u, h: h, cancel: cancel}
	b.cur = j
	b.graph.SetGain(u.Volume)
	go b.run(ctx, j)
	return nil
}

func (b *Backend) run(ctx context.Context, j *job) {
	began := time.Now()
	clip, err := b.synth.Synthesize(ctx, synth.Request{
		Text:  j.u.Text,
		Voice: b.voice,
		Lang:  j.u.Lang,
		Rate:  j.u.Rate,
		Pitch: j.u.Pitch,
	})

	b.mu.Lock()
	if b.cur != j {
		// Canceled while synthesizing; Cancel already reported it.
		b.mu.Unlock()
		return
	}
	if err != nil {
		b.cur = nil
		b.mu.Unlock()
		cause := causeOf(err)
		b.logger.Debug("synthesis failed", "cause", cause, "err", err)
		j.h.OnError(cause, err)
		return
	}
	stream, err := b.graph.Play(clip)
	if err != nil {
		b.cur = nil
		b.mu.Unlock()
		j.h.OnError(speech.CauseAudioHardware, err)
		return
	}
	j.stream = stream
	j.state = playing
	b.mu.Unlock()

	if b.onLag != nil {
		b.onLag(time.Since(began))
	}
	j.h.OnStart()
	b.watch(ctx, j)
}

// watch waits for the stream to drain.
func (b *Backend) watch(ctx context.Context, j *job) {
	t := time.NewTicker(b.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		b.mu.Lock()
		if b.cur != j {
			b.mu.Unlock()
			return
		}
		if j.state != playing || !j.stream.Finished() {
			b.mu.Unlock()
			continue
		}
		b.cur = nil
		j.cancel()
		b.mu.Unlock()
		j.h.OnEnd()
		return
	}
}

// Pause pauses a playing utterance. It does nothing while synthesizing.
func (b *Backend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.cur
	if j == nil || j.state != playing {
		return nil
	}
	j.stream.Pause()
	j.state = paused
	go j.h.OnPause()
	return nil
}

// Resume continues a paused utterance.
func (b *Backend) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.cur
	if j == nil || j.state != paused {
		return nil
	}
	j.stream.Resume()
	j.state = playing
	go j.h.OnResume()
	return nil
}

// Cancel aborts the current utterance. It reports canceled when no audio
// had started yet and interrupted otherwise. It never waits for the
// synthesizer.
func (b *Backend) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelLocked()
	return nil
}

func (b *Backend) cancelLocked() {
	j := b.cur
	if j == nil {
		return
	}
	b.cur = nil
	j.cancel()
	cause := speech.CauseCanceled
	if j.stream != nil {
		j.stream.Stop()
		cause = speech.CauseInterrupted
	}
	go j.h.OnError(cause, nil)
}

// SetVolume changes the output gain of the playing utterance.
func (b *Backend) SetVolume(v float64) { b.graph.SetGain(v) }

// Analyser returns the graph analyser.
func (b *Backend) Analyser() speech.Analyser { return b.graph.Analyser() }

// Probe validates the synthesizer.
func (b *Backend) Probe() speech.Capabilities {
	caps := speech.Capabilities{Backend: b.synth.Name(), AudioGraph: true}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.synth.Validate(ctx); err != nil {
		caps.Reason = err.Error()
		return caps
	}
	caps.Speech = true
	return caps
}

// Close cancels playback, closes the graph and the synthesizer.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancelLocked()
	b.mu.Unlock()

	err := b.graph.Close()
	if c, ok := b.synth.(interface{ Close() error }); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

func causeOf(err error) speech.ErrorCause {
	var netErr net.Error
	switch {
	case errors.Is(err, synth.ErrNotInstalled):
		return speech.CauseSynthesisUnavailable
	case errors.Is(err, synth.ErrTextTooLong):
		return speech.CauseTextTooLong
	case errors.Is(err, synth.ErrEmptyText):
		return speech.CauseInvalidArgument
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return speech.CauseNetwork
	}
	return speech.CauseSynthesisFailed
}
