package visual

import (
	"bytes"
	"testing"
	"time"

	"github.com/dgnsrekt/readaloud/internal/clock"
)

type fakeAnalyser struct {
	freq []byte
	wave []byte
}

func (a *fakeAnalyser) FrequencyBinCount() int { return len(a.freq) }

func (a *fakeAnalyser) ByteFrequencyData(dst []byte) { copy(dst, a.freq) }

func (a *fakeAnalyser) ByteTimeDomainData(dst []byte) { copy(dst, a.wave) }

func newSource(opts ...Option) (*clock.Fake, *Source) {
	fc := clock.NewFake(time.Unix(1000, 0))
	return fc, New(fc, append([]Option{WithSeed(7)}, opts...)...)
}

func TestFrequency_Throttled(t *testing.T) {
	fc, s := newSource()

	first := s.Frequency(true)
	if len(first) != Bins {
		t.Fatalf("len = %d, want %d", len(first), Bins)
	}

	for i := 0; i < 5; i++ {
		fc.Advance(2 * time.Millisecond)
		if got := s.Frequency(true); !bytes.Equal(got, first) {
			t.Fatalf("call %d within interval returned new data", i)
		}
	}

	fc.Advance(35 * time.Millisecond)
	if got := s.Frequency(true); bytes.Equal(got, first) {
		t.Error("expected fresh data after the interval")
	}
}

func TestFrequency_ReturnsCopy(t *testing.T) {
	_, s := newSource()
	a := s.Frequency(true)
	a[0] = 0xAA
	a[1] = 0xAB
	if b := s.Frequency(true); b[0] == 0xAA && b[1] == 0xAB {
		t.Error("caller mutation leaked into cache")
	}
}

func TestFrequency_NilWhenIdleOrDisabled(t *testing.T) {
	_, s := newSource()
	if got := s.Frequency(false); got != nil {
		t.Errorf("not playing: got %d values", len(got))
	}
	s.SetEnabled(false)
	if got := s.Frequency(true); got != nil {
		t.Errorf("disabled: got %d values", len(got))
	}
	if got := s.TimeDomain(true); got != nil {
		t.Errorf("disabled waveform: got %d values", len(got))
	}
	s.SetEnabled(true)
	if got := s.Frequency(true); got == nil {
		t.Error("re-enabled: got nil")
	}
}

func TestFrequency_SpeechShape(t *testing.T) {
	_, s := newSource()
	data := s.Frequency(true)

	avg := func(from, to int) float64 {
		sum := 0
		for _, v := range data[from:to] {
			sum += int(v)
		}
		return float64(sum) / float64(to-from)
	}
	low, mid, high := avg(0, Bins/10), avg(Bins/10, Bins/2), avg(Bins/2, Bins)
	if !(low > mid && mid > high) {
		t.Errorf("band averages low=%.1f mid=%.1f high=%.1f, want decreasing", low, mid, high)
	}
	if high > 30 {
		t.Errorf("high band = %.1f, want minimal", high)
	}
}

func TestAnalyserPreferred(t *testing.T) {
	live := &fakeAnalyser{freq: make([]byte, 64), wave: make([]byte, 128)}
	for i := range live.wave {
		live.wave[i] = 128
	}
	fc, s := newSource(WithAnalyser(live))

	// Silent analyser falls back to the synthetic spectrum.
	if got := s.Frequency(true); len(got) != Bins {
		t.Fatalf("silent analyser: len = %d, want synthetic %d", len(got), Bins)
	}
	if got := s.TimeDomain(true); len(got) != Bins {
		t.Fatalf("silent analyser waveform: len = %d, want %d", len(got), Bins)
	}

	for i := range live.freq {
		live.freq[i] = byte(i + 1)
	}
	fc.Advance(Interval + time.Millisecond)
	got := s.Frequency(true)
	if !bytes.Equal(got, live.freq) {
		t.Errorf("live data not used: %v", got[:4])
	}

	s.Attach(nil)
	fc.Advance(Interval + time.Millisecond)
	if got := s.Frequency(true); len(got) != Bins {
		t.Errorf("after detach len = %d", len(got))
	}
}

func TestTimeDomain_Centered(t *testing.T) {
	_, s := newSource()
	data := s.TimeDomain(true)
	sum := 0
	for _, v := range data {
		sum += int(v)
	}
	mean := float64(sum) / float64(len(data))
	if mean < 110 || mean > 146 {
		t.Errorf("mean = %.1f, want near 128", mean)
	}
}
