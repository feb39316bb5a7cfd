package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Common errors for audio data.
var (
	ErrEmptyClip         = errors.New("audio clip is empty")
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	ErrInvalidChannels   = errors.New("invalid number of channels")
	ErrInvalidWAV        = errors.New("invalid WAV data")
)

// Clip is decoded 16-bit PCM audio. Samples are interleaved when Channels
// is greater than one.
type Clip struct {
	PCM        []int16
	SampleRate int
	Channels   int
}

// FromBytes decodes signed 16-bit little endian PCM.
func FromBytes(data []byte, sampleRate, channels int) Clip {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return Clip{PCM: pcm, SampleRate: sampleRate, Channels: channels}
}

// Bytes encodes the clip as signed 16-bit little endian PCM.
func (c Clip) Bytes() []byte {
	out := make([]byte, 2*len(c.PCM))
	for i, s := range c.PCM {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// Validate checks that the clip can be played.
func (c Clip) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, c.SampleRate)
	case c.Channels < 1 || c.Channels > 2:
		return fmt.Errorf("%w: %d", ErrInvalidChannels, c.Channels)
	case len(c.PCM) == 0:
		return ErrEmptyClip
	}
	return nil
}

// Frames returns the number of sample frames.
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.PCM) / c.Channels
}

// Duration returns the playing time of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Mono averages all channels into one.
func (c Clip) Mono() Clip {
	if c.Channels <= 1 {
		return c
	}
	frames := c.Frames()
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for ch := 0; ch < c.Channels; ch++ {
			sum += int(c.PCM[f*c.Channels+ch])
		}
		out[f] = int16(sum / c.Channels)
	}
	return Clip{PCM: out, SampleRate: c.SampleRate, Channels: 1}
}

// Resample converts a mono clip to rate by linear interpolation.
func (c Clip) Resample(rate int) Clip {
	if rate <= 0 || rate == c.SampleRate || len(c.PCM) == 0 {
		return c
	}
	c = c.Mono()
	n := int(int64(len(c.PCM)) * int64(rate) / int64(c.SampleRate))
	out := make([]int16, n)
	step := float64(c.SampleRate) / float64(rate)
	last := len(c.PCM) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = c.PCM[last]
			continue
		}
		frac := pos - float64(j)
		a, b := float64(c.PCM[j]), float64(c.PCM[j+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return Clip{PCM: out, SampleRate: rate, Channels: 1}
}

// Scale multiplies every sample by gain, saturating at the int16 range.
func (c Clip) Scale(gain float64) Clip {
	out := make([]int16, len(c.PCM))
	for i, s := range c.PCM {
		out[i] = saturate(float64(s) * gain)
	}
	return Clip{PCM: out, SampleRate: c.SampleRate, Channels: c.Channels}
}

func saturate(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
