package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser defaults, matching a Web Audio AnalyserNode.
const (
	DefaultFFTSize        = 256
	DefaultSmoothing      = 0.8
	DefaultMinDecibels    = -100.0
	DefaultMaxDecibels    = -30.0
	analyserSampleDivisor = 32768.0
)

// Analyser keeps the most recent samples that passed through the graph and
// derives byte frequency and waveform data from them.
type Analyser struct {
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	mu       sync.Mutex
	ring     []float64
	pos      int
	fft      *fourier.FFT
	window   []float64
	smoothed []float64
	frame    []float64
	coeffs   []complex128
}

// NewAnalyser returns an analyser with an FFT of size samples. size must be
// a power of two; other values fall back to DefaultFFTSize.
func NewAnalyser(size int) *Analyser {
	if size < 32 || size&(size-1) != 0 {
		size = DefaultFFTSize
	}
	a := &Analyser{
		size:      size,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		ring:      make([]float64, size),
		fft:       fourier.NewFFT(size),
		window:    blackman(size),
		smoothed:  make([]float64, size/2),
		frame:     make([]float64, size),
	}
	return a
}

// blackman returns the Blackman window used by Web Audio analysers.
func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// FrequencyBinCount returns half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.size / 2 }

// WritePCM feeds interleaved 16-bit samples, averaged to mono.
func (a *Analyser) WritePCM(pcm []int16, channels int) {
	if channels < 1 {
		channels = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+channels <= len(pcm); i += channels {
		sum := 0.0
		for ch := 0; ch < channels; ch++ {
			sum += float64(pcm[i+ch])
		}
		a.ring[a.pos] = sum / float64(channels) / analyserSampleDivisor
		a.pos = (a.pos + 1) % a.size
	}
}

// Reset clears buffered samples and smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// ByteFrequencyData fills dst with magnitudes scaled from [minDB, maxDB] to
// [0, 255].
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.frame {
		a.frame[i] = a.ring[(a.pos+i)%a.size] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	span := a.maxDB - a.minDB
	for k := range a.smoothed {
		c := a.coeffs[k]
		mag := math.Hypot(real(c), imag(c)) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if k >= len(dst) {
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		v := (db - a.minDB) / span * 255
		switch {
		case math.IsInf(db, -1) || math.IsNaN(v) || v <= 0:
			dst[k] = 0
		case v >= 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
}

// ByteTimeDomainData fills dst with the most recent samples, centred on 128.
func (a *Analyser) ByteTimeDomainData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(dst)
	if n > a.size {
		n = a.size
	}
	start := a.pos - n
	for i := 0; i < n; i++ {
		s := a.ring[((start+i)%a.size+a.size)%a.size]
		v := 128 * (1 + s)
		switch {
		case v <= 0:
			dst[i] = 0
		case v >= 255:
			dst[i] = 255
		default:
			dst[i] = byte(v)
		}
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 128
	}
}
