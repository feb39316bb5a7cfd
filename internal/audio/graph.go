package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Graph errors.
var (
	ErrGraphClosed = errors.New("audio graph is closed")
	ErrNoDevice    = errors.New("no audio output device")
)

// Voice is one playing stream on a Sink. *oto.Player implements it.
type Voice interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Close() error
}

// Sink creates voices reading PCM in the graph's format.
type Sink interface {
	NewVoice(r io.Reader) Voice
}

// GraphConfig contains configuration for the output graph.
type GraphConfig struct {
	SampleRate int // 44100 or 48000 Hz only
	Channels   int // 1 = mono, 2 = stereo
	BufferSize int // device buffer in bytes
	FFTSize    int // analyser window
}

// DefaultGraphConfig returns the default graph configuration.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		SampleRate: 44100,
		Channels:   1,
		BufferSize: 4096,
		FFTSize:    DefaultFFTSize,
	}
}

func (c GraphConfig) validate() error {
	// oto only supports these rates reliably across platforms.
	if c.SampleRate != 44100 && c.SampleRate != 48000 {
		return fmt.Errorf("%w: must be 44100 or 48000 Hz, got %d", ErrInvalidSampleRate, c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("%w: must be 1 or 2, got %d", ErrInvalidChannels, c.Channels)
	}
	if c.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	return nil
}

type otoSink struct{ ctx *oto.Context }

func (s otoSink) NewVoice(r io.Reader) Voice { return s.ctx.NewPlayer(r) }

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoOpts oto.NewContextOptions
)

func sharedContext(cfg GraphConfig) (*oto.Context, error) {
	otoOnce.Do(func() {
		otoOpts = oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(cfg.BufferSize) * time.Second / time.Duration(cfg.SampleRate*cfg.Channels*2),
		}
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&otoOpts)
		if otoErr != nil {
			otoErr = fmt.Errorf("%w: %v", ErrNoDevice, otoErr)
			return
		}
		<-ready
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoOpts.SampleRate != cfg.SampleRate || otoOpts.ChannelCount != cfg.Channels {
		return nil, fmt.Errorf("audio device already opened at %d Hz, %d channels", otoOpts.SampleRate, otoOpts.ChannelCount)
	}
	return otoCtx, nil
}

// Graph routes clips through a gain stage and an analyser to a Sink.
type Graph struct {
	sink       Sink
	sampleRate int
	channels   int
	analyser   *Analyser

	gain   atomic.Uint64 // float64 bits
	mu     sync.Mutex
	stream *Stream
	closed bool
}

// NewGraph opens the audio device.
func NewGraph(cfg GraphConfig) (*Graph, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ctx, err := sharedContext(cfg)
	if err != nil {
		return nil, err
	}
	return NewGraphWithSink(otoSink{ctx: ctx}, cfg), nil
}

// NewGraphWithSink builds a graph on an arbitrary sink.
func NewGraphWithSink(sink Sink, cfg GraphConfig) *Graph {
	g := &Graph{
		sink:       sink,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		analyser:   NewAnalyser(cfg.FFTSize),
	}
	g.SetGain(1)
	return g
}

// SampleRate returns the output rate of the graph.
func (g *Graph) SampleRate() int { return g.sampleRate }

// Analyser returns the graph's analyser.
func (g *Graph) Analyser() *Analyser { return g.analyser }

// SetGain sets the output gain in [0, 1], applied to the playing stream
// immediately.
func (g *Graph) SetGain(v float64) {
	v = math.Max(0, math.Min(1, v))
	g.gain.Store(math.Float64bits(v))

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stream != nil {
		g.stream.voice.SetVolume(v)
	}
}

// Gain returns the current output gain.
func (g *Graph) Gain() float64 {
	return math.Float64frombits(g.gain.Load())
}

// Play converts c to the graph format and starts it, replacing any stream
// already playing.
func (g *Graph) Play(c Clip) (*Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c = g.convert(c)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGraphClosed
	}
	g.stopLocked()

	// The stream keeps the PCM bytes alive until the voice is closed.
	s := &Stream{graph: g, data: c.Bytes(), duration: c.Duration()}
	s.tap = &tap{r: bytes.NewReader(s.data), analyser: g.analyser, channels: g.channels}
	s.voice = g.sink.NewVoice(s.tap)
	s.voice.SetVolume(g.Gain())
	g.stream = s
	s.voice.Play()
	return s, nil
}

func (g *Graph) convert(c Clip) Clip {
	c = c.Mono().Resample(g.sampleRate)
	if g.channels == 1 {
		return c
	}
	out := make([]int16, 2*len(c.PCM))
	for i, s := range c.PCM {
		out[2*i], out[2*i+1] = s, s
	}
	return Clip{PCM: out, SampleRate: c.SampleRate, Channels: 2}
}

// Stop stops the current stream, if any.
func (g *Graph) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *Graph) stopLocked() {
	if g.stream == nil {
		return
	}
	g.stream.closeVoice()
	g.stream = nil
	g.analyser.Reset()
}

// Close stops playback and rejects further clips. The shared device stays
// open for the life of the process.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.closed = true
	return nil
}

// Stream is one clip playing on a Graph.
type Stream struct {
	graph    *Graph
	data     []byte
	duration time.Duration
	tap      *tap
	voice    Voice

	mu     sync.Mutex
	paused bool
	closed bool
}

// Duration returns the playing time of the stream.
func (s *Stream) Duration() time.Duration { return s.duration }

// Pause suspends the stream.
func (s *Stream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.paused {
		return
	}
	s.paused = true
	s.voice.Pause()
}

// Resume continues a paused stream.
func (s *Stream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.paused {
		return
	}
	s.paused = false
	s.voice.Play()
}

// Finished reports whether every sample was handed to the device and the
// device has drained.
func (s *Stream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	return !s.paused && s.tap.done() && !s.voice.IsPlaying()
}

// Stop stops the stream if it is still the graph's current one.
func (s *Stream) Stop() {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	if s.graph.stream == s {
		s.graph.stopLocked()
		return
	}
	s.closeVoice()
}

func (s *Stream) closeVoice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.voice.Pause()
	_ = s.voice.Close()
	s.data = nil
}

// tap copies everything the device reads into the analyser.
type tap struct {
	r        io.Reader
	analyser *Analyser
	channels int
	eof      atomic.Bool
	carry    []byte
}

func (t *tap) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		buf := append(t.carry, p[:n]...)
		even := len(buf) &^ 1
		t.analyser.WritePCM(FromBytes(buf[:even], 0, t.channels).PCM, t.channels)
		t.carry = append(t.carry[:0], buf[even:]...)
	}
	if errors.Is(err, io.EOF) {
		t.eof.Store(true)
	}
	return n, err
}

func (t *tap) done() bool { return t.eof.Load() }
