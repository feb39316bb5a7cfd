// Package speech defines the contract between the playback engine and a
// speech backend. A backend only knows how to speak one utterance at a time
// and offers pause, resume and cancel. It reports no durations and cannot
// seek.
package speech

import (
	"errors"
	"io"
)

// Utterance is one discrete unit of text submitted for synthesis.
type Utterance struct {
	Text   string
	Rate   float64 // 1.0 is normal speed
	Pitch  float64 // 1.0 is normal pitch
	Volume float64 // [0, 1]
	Lang   string  // BCP 47
}

// ErrorCause classifies a backend failure. The values mirror the Web Speech
// API error codes.
type ErrorCause string

const (
	CauseCanceled             ErrorCause = "canceled"
	CauseInterrupted          ErrorCause = "interrupted"
	CauseAudioBusy            ErrorCause = "audio-busy"
	CauseAudioHardware        ErrorCause = "audio-hardware"
	CauseNetwork              ErrorCause = "network"
	CauseSynthesisUnavailable ErrorCause = "synthesis-unavailable"
	CauseSynthesisFailed      ErrorCause = "synthesis-failed"
	CauseLanguageUnavailable  ErrorCause = "language-unavailable"
	CauseVoiceUnavailable     ErrorCause = "voice-unavailable"
	CauseTextTooLong          ErrorCause = "text-too-long"
	CauseInvalidArgument      ErrorCause = "invalid-argument"
	CauseNotAllowed           ErrorCause = "not-allowed"
)

// Expected reports whether the cause is the normal consequence of a cancel
// or pause request rather than a synthesis failure.
func (c ErrorCause) Expected() bool {
	return c == CauseInterrupted || c == CauseCanceled
}

// Handler receives the events of a single utterance. Callbacks may arrive on
// any goroutine, and may arrive after the utterance was canceled. Backends
// must not invoke a handler from inside Speak, Pause, Resume or Cancel.
type Handler interface {
	OnStart()
	OnEnd()
	OnError(cause ErrorCause, err error)
	OnPause()
	OnResume()
}

// Backend is a coarse speech synthesizer. Speak replaces whatever the
// backend was doing; only the most recent utterance is ever audible.
type Backend interface {
	Speak(u Utterance, h Handler) error
	Pause() error
	Resume() error
	Cancel() error
}

// VolumeSetter is implemented by backends whose output gain can change
// while an utterance is playing.
type VolumeSetter interface {
	SetVolume(v float64)
}

// Analyser exposes live audio analysis, modelled on a Web Audio analyser
// node.
type Analyser interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
	ByteTimeDomainData(dst []byte)
}

// AnalyserProvider is implemented by backends routed through an audio graph.
type AnalyserProvider interface {
	Analyser() Analyser
}

// Capabilities is the result of a capability probe.
type Capabilities struct {
	Speech     bool   `json:"speech"`
	AudioGraph bool   `json:"audio_graph"`
	Backend    string `json:"backend"`
	Reason     string `json:"reason,omitempty"`
}

// Supported reports whether a player can be mounted at all.
func (c Capabilities) Supported() bool { return c.Speech }

// Prober is implemented by backends that can check their own environment.
type Prober interface {
	Probe() Capabilities
}

// ErrUnavailable is returned by backends whose environment is missing a
// required binary, device or credential.
var ErrUnavailable = errors.New("speech backend unavailable")

// Probe reports what b can do. Backends that do not implement Prober are
// assumed to speak without an audio graph.
func Probe(b Backend) Capabilities {
	if b == nil {
		return Capabilities{Reason: "no speech backend configured"}
	}
	if p, ok := b.(Prober); ok {
		return p.Probe()
	}
	_, graph := b.(AnalyserProvider)
	return Capabilities{Speech: true, AudioGraph: graph}
}

// Close releases b when it holds resources.
func Close(b Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
