// Package simulated provides a silent speech backend driven by a clock.
//
// Utterances "speak" for an estimated duration derived from their word count
// and rate. All events are delivered through clock timers, never on the
// caller's goroutine, which matches how a real synthesizer reports back.
package simulated

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/readaloud/internal/clock"
	"github.com/dgnsrekt/readaloud/internal/speech"
)

// DefaultWordsPerMinute is the speaking speed at rate 1.0.
const DefaultWordsPerMinute = 150

// Calls counts the backend operations requested so far.
type Calls struct {
	Speak  int
	Pause  int
	Resume int
	Cancel int
}

// Total returns the number of calls of any kind.
func (c Calls) Total() int { return c.Speak + c.Pause + c.Resume + c.Cancel }

type phase int

const (
	queued phase = iota
	speaking
	paused
	finished
)

type utterance struct {
	u         speech.Utterance
	h         speech.Handler
	phase     phase
	remaining time.Duration
	startedAt time.Time
	timer     clock.Timer
}

// Backend is a silent speech.Backend. The zero value is not usable; call New.
type Backend struct {
	clock   clock.Clock
	wpm     float64
	latency time.Duration

	mu       sync.Mutex
	current  *utterance
	calls    Calls
	history  []speech.Utterance
	volume   float64
	startErr error
	failNext speech.ErrorCause
	analyser speech.Analyser
	closed   bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithWordsPerMinute sets the speaking speed at rate 1.0.
func WithWordsPerMinute(wpm float64) Option {
	return func(b *Backend) {
		if wpm > 0 {
			b.wpm = wpm
		}
	}
}

// WithLatency delays the start event of every utterance.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithAnalyser attaches an analyser reported through speech.AnalyserProvider.
func WithAnalyser(a speech.Analyser) Option {
	return func(b *Backend) { b.analyser = a }
}

// New creates a simulated backend on c.
func New(c clock.Clock, opts ...Option) *Backend {
	if c == nil {
		c = clock.Real()
	}
	b := &Backend{clock: c, wpm: DefaultWordsPerMinute, volume: 1}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ErrClosed is returned by Speak after Close.
var ErrClosed = errors.New("simulated backend closed")

// Duration returns how long u takes to speak.
func (b *Backend) Duration(u speech.Utterance) time.Duration {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	words := float64(len(strings.Fields(u.Text)))
	return time.Duration(words / b.wpm * 60 / rate * float64(time.Second))
}

// Speak replaces the current utterance with u.
func (b *Backend) Speak(u speech.Utterance, h speech.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls.Speak++
	if b.closed {
		return ErrClosed
	}
	if b.startErr != nil {
		return b.startErr
	}
	b.cancelLocked()

	b.history = append(b.history, u)
	utt := &utterance{u: u, h: h, phase: queued, remaining: b.Duration(u)}
	b.current = utt

	fail := b.failNext
	b.failNext = ""
	utt.timer = b.clock.AfterFunc(b.latency, func() { b.start(utt, fail) })
	return nil
}

func (b *Backend) start(utt *utterance, fail speech.ErrorCause) {
	b.mu.Lock()
	if b.current != utt || utt.phase != queued {
		b.mu.Unlock()
		return
	}
	utt.phase = speaking
	utt.startedAt = b.clock.Now()
	if fail != "" {
		utt.timer = b.clock.AfterFunc(0, func() { b.fail(utt, fail) })
	} else {
		utt.timer = b.clock.AfterFunc(utt.remaining, func() { b.end(utt) })
	}
	b.mu.Unlock()

	utt.h.OnStart()
}

func (b *Backend) end(utt *utterance) {
	b.mu.Lock()
	if b.current != utt || utt.phase != speaking {
		b.mu.Unlock()
		return
	}
	utt.phase = finished
	b.current = nil
	b.mu.Unlock()

	utt.h.OnEnd()
}

func (b *Backend) fail(utt *utterance, cause speech.ErrorCause) {
	b.mu.Lock()
	if b.current != utt || utt.phase == finished {
		b.mu.Unlock()
		return
	}
	utt.phase = finished
	b.current = nil
	b.mu.Unlock()

	utt.h.OnError(cause, errors.New("simulated "+string(cause)))
}

// Pause suspends the current utterance.
func (b *Backend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls.Pause++
	utt := b.current
	if utt == nil || utt.phase != speaking {
		return nil
	}
	utt.timer.Stop()
	utt.remaining -= b.clock.Now().Sub(utt.startedAt)
	if utt.remaining < 0 {
		utt.remaining = 0
	}
	utt.phase = paused
	b.clock.AfterFunc(0, utt.h.OnPause)
	return nil
}

// Resume continues a paused utterance.
func (b *Backend) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls.Resume++
	utt := b.current
	if utt == nil || utt.phase != paused {
		return nil
	}
	utt.phase = speaking
	utt.startedAt = b.clock.Now()
	utt.timer = b.clock.AfterFunc(utt.remaining, func() { b.end(utt) })
	b.clock.AfterFunc(0, utt.h.OnResume)
	return nil
}

// Cancel drops the current utterance. Its handler receives "interrupted" if
// it had started and "canceled" otherwise.
func (b *Backend) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls.Cancel++
	b.cancelLocked()
	return nil
}

func (b *Backend) cancelLocked() {
	utt := b.current
	if utt == nil {
		return
	}
	b.current = nil
	if utt.timer != nil {
		utt.timer.Stop()
	}
	cause := speech.CauseInterrupted
	if utt.phase == queued {
		cause = speech.CauseCanceled
	}
	utt.phase = finished
	b.clock.AfterFunc(0, func() { utt.h.OnError(cause, nil) })
}

// SetVolume records the live output gain.
func (b *Backend) SetVolume(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = v
}

// Analyser returns the attached analyser, if any.
func (b *Backend) Analyser() speech.Analyser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.analyser
}

// Probe reports the backend as always available.
func (b *Backend) Probe() speech.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return speech.Capabilities{
		Speech:     !b.closed,
		AudioGraph: b.analyser != nil,
		Backend:    "simulated",
	}
}

// Close cancels any utterance and rejects further Speak calls.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelLocked()
	b.closed = true
	return nil
}

// Test control methods

// SetStartError makes every Speak call fail with err until cleared with nil.
func (b *Backend) SetStartError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startErr = err
}

// FailNext makes the next utterance report cause right after it starts.
func (b *Backend) FailNext(cause speech.ErrorCause) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = cause
}

// Emit delivers an error with cause to the current utterance's handler on
// the next clock tick without ending it, the way a backend reports a
// spurious interruption.
func (b *Backend) Emit(cause speech.ErrorCause) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return
	}
	h := b.current.h
	b.clock.AfterFunc(0, func() { h.OnError(cause, nil) })
}

// Calls returns the operation counters.
func (b *Backend) Calls() Calls {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Spoken returns every utterance passed to Speak, oldest first.
func (b *Backend) Spoken() []speech.Utterance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]speech.Utterance(nil), b.history...)
}

// Volume returns the last live volume set.
func (b *Backend) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

// Speaking reports whether an utterance is currently audible.
func (b *Backend) Speaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil && b.current.phase == speaking
}

// Reset clears counters, history and injected failures.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = Calls{}
	b.history = nil
	b.startErr = nil
	b.failNext = ""
}
