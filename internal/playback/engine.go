// Package playback turns a coarse speech backend, which can only speak,
// pause, resume and cancel whole utterances, into a seekable player with a
// continuous timeline.
//
// Text is normalized, split into chunks and spoken one utterance per chunk.
// Durations are estimated from word counts. Every state change is published
// to subscribers as a full State snapshot.
package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/readaloud/internal/broadcast"
	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/clock"
	"github.com/dgnsrekt/readaloud/internal/content"
	"github.com/dgnsrekt/readaloud/internal/estimate"
	"github.com/dgnsrekt/readaloud/internal/speech"
	"github.com/dgnsrekt/readaloud/internal/visual"
)

const fallbackLang = "en-US"

// Observer receives engine events. Calls are made while the engine lock is
// held and must not call back into the engine.
type Observer interface {
	PhaseChanged(from, to Phase)
	UtteranceStarted(chunk int)
	BackendError(cause speech.ErrorCause, swallowed bool)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for timers and elapsed time.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithVisual sets the visualization source.
func WithVisual(v *visual.Source) Option {
	return func(e *Engine) { e.visual = v }
}

// WithObserver registers an observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine is the transport state machine. All methods are safe for
// concurrent use. Listeners run after the engine lock is released and may
// call back into the engine.
type Engine struct {
	backend  speech.Backend
	clock    clock.Clock
	log      *log.Logger
	visual   *visual.Source
	observer Observer
	subs     *broadcast.Broadcaster[State]

	mu     sync.Mutex
	cfg    Config
	lang   string // resolved tag handed to the backend
	phase  Phase
	text   string
	title  string
	chunks chunk.List
	est    *estimate.Estimator

	cursor     int
	chunkStart time.Time
	elapsed    float64 // seconds of the current chunk spoken before chunkStart
	uttRate    float64 // rate of the utterance in flight
	speaking   bool    // started and not yet ended
	inFlight   bool    // submitted to the backend and not yet finished
	gen        uint64  // current utterance generation
	restart    bool    // resume must re-speak the chunk at the cursor
	progress   float64
	position   float64 // seconds
	err        *Error

	lastAction action
	// intent and intentAt record the latest action that interrupts the
	// backend. A later play does not clear them, since the interruption it
	// caused may be reported after the resume.
	intent   action
	intentAt time.Time

	gapTimer  clock.Timer
	seekTimer clock.Timer
	seekSeq   uint64
	tickTimer clock.Timer
	tickSeq   uint64

	destroyed bool
	seq       uint64

	outMu    sync.Mutex
	outbox   []State
	draining bool
}

// New creates an engine speaking through backend. It fails with
// ErrUnsupportedEnvironment when the backend's capability probe fails.
func New(backend speech.Backend, cfg Config, opts ...Option) (*Engine, error) {
	caps := speech.Probe(backend)
	if !caps.Supported() {
		reason := caps.Reason
		if reason == "" {
			reason = "speech synthesis unavailable"
		}
		return nil, &Error{Kind: ErrorUnsupportedEnvironment, Op: "new", Err: errors.New(reason)}
	}

	cfg = cfg.normalized()
	e := &Engine{
		backend: backend,
		clock:   clock.Real(),
		log:     log.Default().WithPrefix("playback"),
		subs:    broadcast.New[State](),
		cfg:     cfg,
		est:     estimate.New(nil, cfg.WordsPerMinute),
		uttRate: cfg.Rate,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.visual == nil {
		e.visual = visual.New(e.clock)
	}
	if ap, ok := backend.(speech.AnalyserProvider); ok {
		if a := ap.Analyser(); a != nil {
			e.visual.Attach(a)
		}
	}
	e.lang = content.ResolveLang(cfg.Lang, "", fallbackLang)

	e.log.Debug("player created", "backend", caps.Backend, "audio_graph", caps.AudioGraph)
	return e, nil
}

// LoadText replaces the loaded text. An input with nothing speakable leaves
// the engine Idle with ErrorEmptyContent in the state.
func (e *Engine) LoadText(raw string) error {
	return e.locked(func() error {
		e.markLocked(actLoad)
		e.stopTimersLocked()
		e.abandonLocked()
		e.err = nil
		e.setPhaseLocked(PhaseLoading)
		e.emitLocked()

		doc := content.Parse(raw)
		e.text, e.title = doc.Text, doc.Title
		e.chunks = chunk.Split(doc.Text, e.cfg.MaxChunkLen)
		e.est = estimate.New(e.chunks, e.cfg.WordsPerMinute)
		e.lang = content.ResolveLang(e.cfg.Lang, doc.Text, fallbackLang)
		e.resetCursorLocked()

		if len(e.chunks) == 0 {
			e.err = &Error{Kind: ErrorEmptyContent, Op: "load"}
			e.log.Info("nothing to read", "shape", doc.Shape)
			e.setPhaseLocked(PhaseIdle)
		} else {
			e.log.Debug("loaded", "doc", doc.Describe(), "chunks", len(e.chunks),
				"duration", e.est.Total(), "lang", e.lang)
			e.setPhaseLocked(PhaseReady)
		}
		e.emitLocked()
		return nil
	})
}

// Play starts playback at the cursor or resumes a pause. It does nothing
// while already playing or starting.
func (e *Engine) Play() error {
	return e.locked(func() error {
		switch e.phase {
		case PhasePlaying, PhaseLoading:
			return nil
		case PhasePaused:
			e.markLocked(actPlay)
			if e.restart || !e.inFlight {
				e.speakLocked()
				return nil
			}
			if err := e.backend.Resume(); err != nil {
				e.failLocked(ErrorBackendStart, "resume", "", err)
				return nil
			}
			e.chunkStart = e.clock.Now()
			e.setPhaseLocked(PhasePlaying)
			e.emitLocked()
			return nil
		}

		if len(e.chunks) == 0 {
			e.err = &Error{Kind: ErrorEmptyContent, Op: "play"}
			e.emitLocked()
			return nil
		}
		e.markLocked(actPlay)
		e.err = nil
		// Another player may still own the backend queue.
		if err := e.backend.Cancel(); err != nil {
			e.log.Warn("cancel before play failed", "err", err)
		}
		e.gen++
		e.inFlight, e.speaking = false, false
		e.speakLocked()
		return nil
	})
}

// Pause suspends playback. It only has an effect while playing or while a
// start is pending.
func (e *Engine) Pause() error {
	return e.locked(func() error {
		pending := e.phase == PhaseLoading && (e.inFlight || e.seekTimer != nil)
		if e.phase != PhasePlaying && !pending {
			return nil
		}
		e.markLocked(actPause)
		e.stopTimersLocked()

		if e.phase == PhasePlaying && e.speaking {
			e.elapsed = e.elapsedLocked()
			e.chunkStart = e.clock.Now()
			if err := e.backend.Pause(); err != nil {
				e.failLocked(ErrorBackendRuntime, "pause", "", err)
				return nil
			}
		} else {
			// Between utterances or before the backend started: nothing
			// audible to pause, so the chunk is spoken again on resume.
			e.abandonLocked()
			e.restart = true
		}
		e.updateProgressLocked()
		e.setPhaseLocked(PhasePaused)
		e.emitLocked()
		return nil
	})
}

// Stop cancels playback, rewinds to the start and clears any error. It is
// safe to call repeatedly.
func (e *Engine) Stop() error {
	return e.locked(func() error {
		e.stopLocked()
		return nil
	})
}

// Seek moves to position in [0, 1]; out of range values are clamped and NaN
// is treated as 0.
//
// At rest only the display and the cursor move. While active, a target
// within one chunk of the cursor only moves the displayed timeline, because
// the backend cannot seek inside an utterance. Farther targets cancel the
// utterance and, when playing, restart at the target chunk once seeks stop
// arriving for Config.SeekDebounce.
func (e *Engine) Seek(position float64) error {
	return e.locked(func() error {
		p := estimate.Clamp(position)
		target := e.est.ChunkAt(p)
		active := e.phase == PhasePlaying || e.phase == PhasePaused ||
			(e.phase == PhaseLoading && (e.inFlight || e.seekTimer != nil))

		e.progress, e.position = p, p*e.est.Total()

		if !active {
			e.cursor = target
			e.elapsed = 0
			e.emitLocked()
			return nil
		}

		if d := target - e.cursor; d >= -1 && d <= 1 {
			e.rebaseLocked(p)
			e.emitLocked()
			return nil
		}

		e.markLocked(actSeek)
		e.stopTimersLocked()
		e.abandonLocked()
		e.cursor = target
		e.elapsed = 0

		if e.phase == PhasePaused {
			e.restart = false
			e.setPhaseLocked(PhaseReady)
			e.emitLocked()
			return nil
		}

		e.setPhaseLocked(PhaseLoading)
		e.seekSeq++
		seq := e.seekSeq
		e.seekTimer = e.clock.AfterFunc(e.cfg.SeekDebounce, func() { e.restartAfterSeek(seq) })
		e.emitLocked()
		return nil
	})
}

// Tick recomputes progress. The engine ticks itself every
// Config.TickInterval while playing; Tick lets a redraw loop do it too.
func (e *Engine) Tick() error {
	return e.locked(func() error {
		e.tickLocked()
		return nil
	})
}

// SetRate sets the speaking rate, clamped to [MinRate, MaxRate]. It applies
// from the next utterance.
func (e *Engine) SetRate(rate float64) error {
	if math.IsNaN(rate) {
		return fmt.Errorf("%w: rate %v", ErrInvalidSetting, rate)
	}
	return e.locked(func() error {
		e.cfg.Rate = clamp(rate, MinRate, MaxRate)
		e.emitLocked()
		return nil
	})
}

// SetPitch sets the pitch, clamped to [MinPitch, MaxPitch]. It applies from
// the next utterance.
func (e *Engine) SetPitch(pitch float64) error {
	if math.IsNaN(pitch) {
		return fmt.Errorf("%w: pitch %v", ErrInvalidSetting, pitch)
	}
	return e.locked(func() error {
		e.cfg.Pitch = clamp(pitch, MinPitch, MaxPitch)
		e.emitLocked()
		return nil
	})
}

// SetVolume sets the volume, clamped to [0, 1]. Backends that implement
// speech.VolumeSetter change gain immediately.
func (e *Engine) SetVolume(volume float64) error {
	if math.IsNaN(volume) {
		return fmt.Errorf("%w: volume %v", ErrInvalidSetting, volume)
	}
	return e.locked(func() error {
		e.cfg.Volume = clamp(volume, MinVolume, MaxVolume)
		if vs, ok := e.backend.(speech.VolumeSetter); ok {
			vs.SetVolume(e.cfg.Volume)
		}
		e.emitLocked()
		return nil
	})
}

// SetLang sets the language as a BCP 47 tag or "auto". It applies from the
// next utterance.
func (e *Engine) SetLang(tag string) error {
	lang, err := content.ParseLang(tag)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSetting, err)
	}
	return e.locked(func() error {
		e.cfg.Lang = lang
		e.lang = content.ResolveLang(lang, e.text, fallbackLang)
		e.emitLocked()
		return nil
	})
}

// GetState returns the current snapshot.
func (e *Engine) GetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Config returns the current settings.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Text returns the normalized text of the current load.
func (e *Engine) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

// Chunks returns a copy of the current chunk list.
func (e *Engine) Chunks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.chunks...)
}

// Err returns the error currently surfaced in the state, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		return nil
	}
	return e.err
}

// Subscribe registers fn for every state snapshot and returns a function
// that removes it.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	return e.subs.Subscribe(fn)
}

// GetFrequencyData returns visualizer frequency data, or nil when not
// playing or when visualization is disabled.
func (e *Engine) GetFrequencyData() []byte {
	return e.visual.Frequency(e.playing())
}

// GetTimeDomainData returns visualizer waveform data, or nil when not
// playing or when visualization is disabled.
func (e *Engine) GetTimeDomainData() []byte {
	return e.visual.TimeDomain(e.playing())
}

// SetVisualizationEnabled turns visualization data on or off.
func (e *Engine) SetVisualizationEnabled(enabled bool) {
	e.visual.SetEnabled(enabled)
}

// Destroy cancels backend activity, drops listeners and text, and closes the
// backend if it holds resources. Further calls return ErrDestroyed; Destroy
// itself is idempotent.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.markLocked(actDestroy)
	e.stopTimersLocked()
	e.abandonLocked()
	e.setPhaseLocked(PhaseIdle)
	e.destroyed = true
	e.chunks, e.text, e.title = nil, "", ""
	e.est = estimate.New(nil, e.cfg.WordsPerMinute)
	e.mu.Unlock()

	e.outMu.Lock()
	e.outbox = nil
	e.outMu.Unlock()

	e.subs.Close()
	e.visual.Attach(nil)
	e.log.Debug("player destroyed")
	return speech.Close(e.backend)
}

func (e *Engine) playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase == PhasePlaying && !e.destroyed
}

// locked runs fn under the engine lock and then delivers queued snapshots.
func (e *Engine) locked(fn func() error) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	err := fn()
	e.mu.Unlock()
	e.flush()
	return err
}

// run is locked for backend and timer callbacks.
func (e *Engine) run(fn func()) {
	_ = e.locked(func() error {
		fn()
		return nil
	})
}

func (e *Engine) markLocked(a action) {
	e.lastAction = a
	if a.intentional() {
		e.intent = a
		e.intentAt = e.clock.Now()
	}
}

func (e *Engine) setPhaseLocked(p Phase) {
	if p == PhasePlaying {
		e.armTickLocked()
	} else {
		e.stopTickLocked()
	}
	if e.phase == p {
		return
	}
	from := e.phase
	e.phase = p
	e.log.Debug("transition", "from", from, "to", p, "chunk", e.cursor)
	if e.observer != nil {
		e.observer.PhaseChanged(from, p)
	}
}

func (e *Engine) resetCursorLocked() {
	e.cursor = 0
	e.elapsed = 0
	e.progress = 0
	e.position = 0
	e.restart = false
}

func (e *Engine) stopLocked() {
	e.markLocked(actStop)
	e.stopTimersLocked()
	e.abandonLocked()
	e.resetCursorLocked()
	e.err = nil
	e.setPhaseLocked(PhaseIdle)
	e.emitLocked()
}

// abandonLocked cancels the utterance in flight, if any, and moves to a new
// generation so its late callbacks are ignored.
func (e *Engine) abandonLocked() {
	e.gen++
	if e.inFlight {
		if err := e.backend.Cancel(); err != nil {
			e.log.Warn("cancel failed", "err", err)
		}
	}
	e.inFlight, e.speaking = false, false
}

func (e *Engine) stopTimersLocked() {
	if e.gapTimer != nil {
		e.gapTimer.Stop()
		e.gapTimer = nil
	}
	if e.seekTimer != nil {
		e.seekTimer.Stop()
		e.seekTimer = nil
	}
	e.seekSeq++
}

func (e *Engine) failLocked(kind ErrorKind, op string, cause speech.ErrorCause, err error) {
	e.stopTimersLocked()
	e.abandonLocked()
	e.restart = false
	e.err = &Error{Kind: kind, Op: op, Chunk: e.cursor, Cause: cause, Err: err}
	e.log.Error("playback failed", "op", op, "chunk", e.cursor, "err", e.err)
	e.setPhaseLocked(PhaseIdle)
	e.emitLocked()
}

// speakLocked submits the chunk at the cursor.
func (e *Engine) speakLocked() {
	if e.cursor >= len(e.chunks) {
		e.cursor = len(e.chunks) - 1
	}
	e.gen++
	e.restart = false
	e.speaking = false
	e.elapsed = 0

	u := speech.Utterance{
		Text:   e.chunks[e.cursor],
		Rate:   e.cfg.Rate,
		Pitch:  e.cfg.Pitch,
		Volume: e.cfg.Volume,
		Lang:   e.lang,
	}
	if err := e.backend.Speak(u, &utteranceHandler{e: e, gen: e.gen}); err != nil {
		e.failLocked(ErrorBackendStart, "speak", "", err)
		return
	}
	e.inFlight = true
	e.uttRate = u.Rate
	if e.phase != PhasePlaying {
		e.setPhaseLocked(PhaseLoading)
	}
	e.emitLocked()
}

func (e *Engine) restartAfterSeek(seq uint64) {
	e.run(func() {
		if seq != e.seekSeq || e.phase != PhaseLoading {
			return
		}
		e.seekTimer = nil
		e.speakLocked()
	})
}

func (e *Engine) nextChunk(gen uint64) {
	e.run(func() {
		if gen != e.gen || e.phase != PhasePlaying || e.inFlight {
			return
		}
		e.gapTimer = nil
		e.speakLocked()
	})
}

// elapsedLocked returns the seconds of the current chunk spoken so far,
// scaled by the rate of the utterance in flight.
func (e *Engine) elapsedLocked() float64 {
	if e.phase != PhasePlaying || !e.speaking {
		return e.elapsed
	}
	wall := e.clock.Now().Sub(e.chunkStart).Seconds()
	if wall < 0 {
		wall = 0
	}
	return e.elapsed + wall*e.uttRate
}

func (e *Engine) updateProgressLocked() {
	e.progress = e.est.Progress(e.cursor, e.elapsedLocked())
	e.position = e.progress * e.est.Total()
}

// rebaseLocked moves the displayed timeline to p without touching the
// backend. The in-chunk offset is clamped to the current chunk.
func (e *Engine) rebaseLocked(p float64) {
	n := float64(len(e.chunks))
	frac := clamp(p*n-float64(e.cursor), 0, 1)
	e.elapsed = frac * e.est.ChunkDuration(e.cursor)
	e.chunkStart = e.clock.Now()
}

func (e *Engine) tickLocked() {
	if e.phase != PhasePlaying || !e.speaking {
		return
	}
	before := e.progress
	e.updateProgressLocked()
	if e.progress != before {
		e.emitLocked()
	}
}

func (e *Engine) armTickLocked() {
	if e.cfg.TickInterval <= 0 || e.tickTimer != nil {
		return
	}
	e.tickSeq++
	seq := e.tickSeq
	e.tickTimer = e.clock.AfterFunc(e.cfg.TickInterval, func() { e.onTick(seq) })
}

func (e *Engine) stopTickLocked() {
	if e.tickTimer != nil {
		e.tickTimer.Stop()
		e.tickTimer = nil
	}
	e.tickSeq++
}

func (e *Engine) onTick(seq uint64) {
	e.run(func() {
		if seq != e.tickSeq {
			return
		}
		e.tickTimer = nil
		if e.phase != PhasePlaying {
			return
		}
		e.tickLocked()
		e.armTickLocked()
	})
}

// intentionalLocked reports whether an interruption reported now was caused
// by the engine itself.
func (e *Engine) intentionalLocked() bool {
	if e.phase == PhasePaused && e.lastAction.intentional() {
		return true
	}
	return e.intent != actNone && e.clock.Now().Sub(e.intentAt) <= e.cfg.IntentGrace
}

func (e *Engine) snapshotLocked() State {
	s := State{
		IsPlaying:   e.phase == PhasePlaying,
		IsPaused:    e.phase == PhasePaused,
		IsLoading:   e.phase == PhaseLoading,
		CurrentTime: e.position,
		Duration:    e.est.Total(),
		Volume:      e.cfg.Volume,
		Rate:        e.cfg.Rate,
		Progress:    e.progress,
		Phase:       e.phase,
		Chunk:       e.cursor,
		Chunks:      len(e.chunks),
		Title:       e.title,
		Lang:        e.lang,
		Seq:         e.seq,
	}
	if e.err != nil {
		s.Error = e.err.Error()
		s.ErrorKind = e.err.Kind
	}
	return s
}

// emitLocked queues a snapshot for delivery once the lock is released.
func (e *Engine) emitLocked() {
	e.seq++
	s := e.snapshotLocked()
	e.outMu.Lock()
	e.outbox = append(e.outbox, s)
	e.outMu.Unlock()
}

// flush delivers queued snapshots in order. Only one goroutine drains at a
// time; snapshots queued meanwhile, including by listeners calling back into
// the engine, are picked up by the drainer.
func (e *Engine) flush() {
	e.outMu.Lock()
	if e.draining {
		e.outMu.Unlock()
		return
	}
	e.draining = true
	for len(e.outbox) > 0 {
		s := e.outbox[0]
		e.outbox = e.outbox[1:]
		e.outMu.Unlock()
		e.subs.Publish(s)
		e.outMu.Lock()
	}
	e.draining = false
	e.outMu.Unlock()
}
