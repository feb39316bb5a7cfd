package playback

import "fmt"

// Phase is the transport state of the engine.
type Phase int

const (
	// PhaseIdle indicates nothing is loaded or playback was stopped.
	PhaseIdle Phase = iota
	// PhaseLoading indicates text is being prepared or an utterance is
	// waiting to start.
	PhaseLoading
	// PhaseReady indicates text is loaded and playback can start.
	PhaseReady
	// PhasePlaying indicates an utterance is audible or the next chunk is
	// about to start.
	PhasePlaying
	// PhasePaused indicates playback is suspended.
	PhasePaused
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is an immutable snapshot of the player. Every emission is a full
// snapshot, never a delta.
type State struct {
	IsPlaying   bool    `json:"isPlaying"`
	IsPaused    bool    `json:"isPaused"`
	IsLoading   bool    `json:"isLoading"`
	CurrentTime float64 `json:"currentTime"` // seconds
	Duration    float64 `json:"duration"`    // seconds, estimated
	Volume      float64 `json:"volume"`
	Rate        float64 `json:"rate"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`

	Phase     Phase     `json:"phase"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Chunk     int       `json:"chunk"`
	Chunks    int       `json:"chunks"`
	Title     string    `json:"title,omitempty"`
	Lang      string    `json:"lang"`
	Seq       uint64    `json:"seq"`
}

// Active reports whether playback is running or suspended.
func (s State) Active() bool {
	return s.IsPlaying || s.IsPaused
}

// CanPlay reports whether Play would start or resume playback.
func (s State) CanPlay() bool {
	return s.Chunks > 0 && (s.Phase == PhaseReady || s.Phase == PhasePaused || s.Phase == PhaseIdle)
}

// CanPause reports whether Pause would take effect.
func (s State) CanPause() bool {
	return s.Phase == PhasePlaying
}

// Remaining returns the estimated seconds left.
func (s State) Remaining() float64 {
	if r := s.Duration - s.CurrentTime; r > 0 {
		return r
	}
	return 0
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	for c := PhaseIdle; c <= PhasePaused; c++ {
		if c.String() == string(text) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}
