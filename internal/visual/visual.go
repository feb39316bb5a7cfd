// Package visual produces frequency and waveform data for a visualizer.
//
// When a live analyser is attached and reports signal, its data is used.
// Otherwise a speech-like spectrum is synthesized. Either way fresh data is
// produced at most once per Interval, however often the caller polls.
package visual

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dgnsrekt/readaloud/internal/clock"
	"github.com/dgnsrekt/readaloud/internal/speech"
	"golang.org/x/time/rate"
)

const (
	// Bins is the number of values in every synthesized array.
	Bins = 128
	// Interval is the minimum time between two refreshes.
	Interval = 33 * time.Millisecond
)

// Source is the visualization data source. It is safe for concurrent use.
type Source struct {
	clock clock.Clock
	start time.Time

	mu       sync.Mutex
	enabled  bool
	analyser speech.Analyser
	rng      *rand.Rand
	freq     series
	wave     series
}

type series struct {
	limiter *rate.Limiter
	data    []byte
}

// Option configures a Source.
type Option func(*Source)

// WithSeed makes the synthetic jitter reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Source) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithAnalyser attaches a live analyser.
func WithAnalyser(a speech.Analyser) Option {
	return func(s *Source) { s.analyser = a }
}

// New returns an enabled Source driven by c.
func New(c clock.Clock, opts ...Option) *Source {
	if c == nil {
		c = clock.Real()
	}
	s := &Source{
		clock:   c,
		start:   c.Now(),
		enabled: true,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		freq:    series{limiter: newLimiter()},
		wave:    series{limiter: newLimiter()},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(Interval), 1)
}

// Attach sets or, with nil, removes the live analyser.
func (s *Source) Attach(a speech.Analyser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyser = a
}

// SetEnabled turns the source on or off. A disabled source returns nil.
func (s *Source) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	if !enabled {
		s.freq.data, s.wave.data = nil, nil
	}
}

// Enabled reports whether the source produces data.
func (s *Source) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Frequency returns frequency-bin magnitudes in [0, 255], or nil when not
// playing or disabled.
func (s *Source) Frequency(playing bool) []byte {
	return s.sample(playing, &s.freq, s.readFrequency, s.synthFrequency)
}

// TimeDomain returns waveform samples centred on 128, or nil when not
// playing or disabled.
func (s *Source) TimeDomain(playing bool) []byte {
	return s.sample(playing, &s.wave, s.readWaveform, s.synthWaveform)
}

func (s *Source) sample(playing bool, ser *series, live func() []byte, synth func(float64) []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !playing || !s.enabled {
		return nil
	}
	now := s.clock.Now()
	if allowed := ser.limiter.AllowN(now, 1); allowed || ser.data == nil {
		data := live()
		if data == nil {
			data = synth(now.Sub(s.start).Seconds())
		}
		ser.data = data
	}
	return append([]byte(nil), ser.data...)
}

func (s *Source) readFrequency() []byte {
	if s.analyser == nil {
		return nil
	}
	n := s.analyser.FrequencyBinCount()
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	s.analyser.ByteFrequencyData(buf)
	if silent(buf, 0) {
		return nil
	}
	return buf
}

func (s *Source) readWaveform() []byte {
	if s.analyser == nil {
		return nil
	}
	n := s.analyser.FrequencyBinCount()
	if n <= 0 {
		return nil
	}
	buf := make([]byte, 2*n)
	s.analyser.ByteTimeDomainData(buf)
	if silent(buf, 128) {
		return nil
	}
	return buf
}

// silent reports whether every value in buf equals rest.
func silent(buf []byte, rest byte) bool {
	for _, v := range buf {
		if v != rest {
			return false
		}
	}
	return true
}

// synthFrequency approximates a voice: strong energy below ~300 Hz, moderate
// mid band, little above.
func (s *Source) synthFrequency(t float64) []byte {
	out := make([]byte, Bins)
	lowEnd, midEnd := Bins/10, Bins/2
	for i := range out {
		var v float64
		switch {
		case i < lowEnd:
			v = 180 + 60*math.Sin(t*4*math.Pi+float64(i)*0.3) + s.jitter(20)
		case i < midEnd:
			v = 100 + 40*math.Sin(t*2.6*math.Pi+float64(i)*0.15) + s.jitter(15)
		default:
			v = 20 + s.jitter(8)
		}
		out[i] = clampByte(v)
	}
	return out
}

func (s *Source) synthWaveform(t float64) []byte {
	out := make([]byte, Bins)
	amp := 40 + 20*math.Sin(t*3)
	for i := range out {
		x := float64(i) / Bins
		v := 128 + amp*math.Sin(2*math.Pi*4*x+t*10) + s.jitter(4)
		out[i] = clampByte(v)
	}
	return out
}

// jitter returns a value in [-n, n).
func (s *Source) jitter(n float64) float64 {
	return (s.rng.Float64()*2 - 1) * n
}

func clampByte(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}
