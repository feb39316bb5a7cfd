package playback

import (
	"math"
	"time"

	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/estimate"
)

// Setting limits.
const (
	MinRate   = 0.1
	MaxRate   = 10.0
	MinPitch  = 0.0
	MaxPitch  = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0
)

// Config holds the engine configuration. Start from DefaultConfig; a zero
// Volume or Pitch is a legitimate setting and is not replaced.
type Config struct {
	Rate   float64 `mapstructure:"rate"`
	Pitch  float64 `mapstructure:"pitch"`
	Volume float64 `mapstructure:"volume"`
	Lang   string  `mapstructure:"lang"` // BCP 47 tag or "auto"

	MaxChunkLen    int     `mapstructure:"max_chunk_len"`
	WordsPerMinute float64 `mapstructure:"wpm"`

	// InterChunkDelay separates consecutive utterances.
	InterChunkDelay time.Duration `mapstructure:"inter_chunk_delay"`
	// SeekDebounce coalesces rapid coarse seeks into one restart.
	SeekDebounce time.Duration `mapstructure:"seek_debounce"`
	// IntentGrace is how long after pause, stop, seek or load an
	// interruption from the backend is still attributed to that action.
	IntentGrace time.Duration `mapstructure:"intent_grace"`
	// TickInterval is how often progress is recomputed while playing. Zero
	// disables the internal ticker; callers then drive Tick themselves.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Rate:            1.0,
		Pitch:           1.0,
		Volume:          0.8,
		Lang:            "en-US",
		MaxChunkLen:     chunk.DefaultMaxLen,
		WordsPerMinute:  estimate.DefaultWordsPerMinute,
		InterChunkDelay: 100 * time.Millisecond,
		SeekDebounce:    300 * time.Millisecond,
		IntentGrace:     500 * time.Millisecond,
		TickInterval:    100 * time.Millisecond,
	}
}

// normalized returns c with unusable values replaced or clamped.
func (c Config) normalized() Config {
	if c.Rate == 0 || math.IsNaN(c.Rate) {
		c.Rate = 1
	}
	if math.IsNaN(c.Pitch) {
		c.Pitch = 1
	}
	if math.IsNaN(c.Volume) {
		c.Volume = 0.8
	}
	c.Rate = clamp(c.Rate, MinRate, MaxRate)
	c.Pitch = clamp(c.Pitch, MinPitch, MaxPitch)
	c.Volume = clamp(c.Volume, MinVolume, MaxVolume)
	if c.Lang == "" {
		c.Lang = "en-US"
	}
	if c.MaxChunkLen <= 0 {
		c.MaxChunkLen = chunk.DefaultMaxLen
	}
	if c.WordsPerMinute <= 0 {
		c.WordsPerMinute = estimate.DefaultWordsPerMinute
	}
	for _, d := range []*time.Duration{&c.InterChunkDelay, &c.SeekDebounce, &c.IntentGrace, &c.TickInterval} {
		if *d < 0 {
			*d = 0
		}
	}
	return c
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
