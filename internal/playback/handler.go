package playback

import "github.com/dgnsrekt/readaloud/internal/speech"

// action is the last transport request, consulted only when classifying
// backend errors.
type action int

const (
	actNone action = iota
	actLoad
	actPlay
	actPause
	actStop
	actSeek
	actDestroy
)

func (a action) String() string {
	switch a {
	case actLoad:
		return "load"
	case actPlay:
		return "play"
	case actPause:
		return "pause"
	case actStop:
		return "stop"
	case actSeek:
		return "seek"
	case actDestroy:
		return "destroy"
	default:
		return "none"
	}
}

// intentional reports whether the action makes the backend interrupt or
// cancel the current utterance.
func (a action) intentional() bool {
	switch a {
	case actLoad, actPause, actStop, actSeek, actDestroy:
		return true
	}
	return false
}

// utteranceHandler binds backend events to the generation of the utterance
// they belong to.
type utteranceHandler struct {
	e   *Engine
	gen uint64
}

func (h *utteranceHandler) OnStart()  { h.e.onStart(h.gen) }
func (h *utteranceHandler) OnEnd()    { h.e.onEnd(h.gen) }
func (h *utteranceHandler) OnPause()  { h.e.onBackendEvent(h.gen, "pause") }
func (h *utteranceHandler) OnResume() { h.e.onBackendEvent(h.gen, "resume") }

func (h *utteranceHandler) OnError(cause speech.ErrorCause, err error) {
	h.e.onError(h.gen, cause, err)
}

// currentLocked reports whether gen is the utterance in flight.
func (e *Engine) currentLocked(gen uint64, event string) bool {
	if gen != e.gen || !e.inFlight {
		e.log.Debug("stale utterance event", "event", event, "gen", gen, "current", e.gen)
		return false
	}
	return true
}

func (e *Engine) onStart(gen uint64) {
	e.run(func() {
		if !e.currentLocked(gen, "start") {
			return
		}
		// elapsed is zeroed when the utterance is submitted; a fine seek
		// made while it was loading is kept.
		e.speaking = true
		e.chunkStart = e.clock.Now()
		if e.observer != nil {
			e.observer.UtteranceStarted(e.cursor)
		}
		e.setPhaseLocked(PhasePlaying)
		e.updateProgressLocked()
		e.emitLocked()
	})
}

func (e *Engine) onEnd(gen uint64) {
	e.run(func() {
		if !e.currentLocked(gen, "end") {
			return
		}
		e.inFlight, e.speaking = false, false

		if e.cursor+1 >= len(e.chunks) {
			e.log.Debug("finished", "chunks", len(e.chunks))
			e.stopLocked()
			return
		}

		e.cursor++
		e.elapsed = 0
		e.updateProgressLocked()

		if e.phase == PhasePaused {
			// The utterance ran out as the pause arrived.
			e.restart = true
			e.emitLocked()
			return
		}
		g := e.gen
		e.gapTimer = e.clock.AfterFunc(e.cfg.InterChunkDelay, func() { e.nextChunk(g) })
		e.emitLocked()
	})
}

func (e *Engine) onError(gen uint64, cause speech.ErrorCause, err error) {
	e.run(func() {
		if !e.currentLocked(gen, "error") {
			if e.observer != nil {
				e.observer.BackendError(cause, true)
			}
			return
		}
		if cause.Expected() && e.intentionalLocked() {
			e.log.Debug("interruption after intentional action", "cause", cause, "action", e.intent)
			if e.observer != nil {
				e.observer.BackendError(cause, true)
			}
			if e.phase == PhasePaused {
				e.inFlight, e.speaking = false, false
				e.restart = true
			}
			return
		}
		if e.observer != nil {
			e.observer.BackendError(cause, false)
		}
		e.inFlight, e.speaking = false, false
		e.failLocked(ErrorBackendRuntime, "speak", cause, err)
	})
}

func (e *Engine) onBackendEvent(gen uint64, event string) {
	e.run(func() {
		if e.currentLocked(gen, event) {
			e.log.Debug("backend event", "event", event, "chunk", e.cursor)
		}
	})
}
