// Package estimate derives a deterministic timeline for text whose speech
// backend reports no durations. Every figure comes from word counts at a
// configurable speaking rate.
package estimate

import (
	"math"
	"strings"
)

// DefaultWordsPerMinute is the reference speaking rate.
const DefaultWordsPerMinute = 150

// Estimator holds per-chunk and total duration estimates for one load.
type Estimator struct {
	wpm       float64
	durations []float64
	starts    []float64
	total     float64
}

// WordCount returns the number of whitespace-separated words in s.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Seconds converts a word count to seconds at wpm words per minute.
func Seconds(words int, wpm float64) float64 {
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	return float64(words) / wpm * 60
}

// New builds an estimator for chunks. A non-positive wpm selects
// DefaultWordsPerMinute.
func New(chunks []string, wpm float64) *Estimator {
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	e := &Estimator{
		wpm:       wpm,
		durations: make([]float64, len(chunks)),
		starts:    make([]float64, len(chunks)),
	}
	for i, c := range chunks {
		e.starts[i] = e.total
		e.durations[i] = Seconds(WordCount(c), wpm)
		e.total += e.durations[i]
	}
	return e
}

// WordsPerMinute returns the rate the estimates were computed with.
func (e *Estimator) WordsPerMinute() float64 { return e.wpm }

// Chunks returns the number of chunks covered.
func (e *Estimator) Chunks() int { return len(e.durations) }

// Total returns the estimated duration of the whole text in seconds.
func (e *Estimator) Total() float64 { return e.total }

// ChunkDuration returns the estimated duration of chunk i in seconds, or 0
// when i is out of range.
func (e *Estimator) ChunkDuration(i int) float64 {
	if i < 0 || i >= len(e.durations) {
		return 0
	}
	return e.durations[i]
}

// ChunkStart returns the estimated offset of chunk i in seconds.
func (e *Estimator) ChunkStart(i int) float64 {
	switch {
	case i <= 0 || len(e.starts) == 0:
		return 0
	case i >= len(e.starts):
		return e.total
	}
	return e.starts[i]
}

// Progress returns the playback fraction while chunk i has been speaking for
// elapsed seconds: i/n plus the in-chunk fraction scaled by 1/n. The
// in-chunk fraction saturates at 1 and the result is clamped to [0, 1].
func (e *Estimator) Progress(i int, elapsed float64) float64 {
	n := len(e.durations)
	if n == 0 {
		return 0
	}
	frac := 0.0
	if d := e.ChunkDuration(i); d > 0 && elapsed > 0 {
		frac = math.Min(elapsed/d, 1)
	}
	return Clamp((float64(i) + frac) / float64(n))
}

// ChunkAt maps a position in [0, 1] to a chunk index, floor(p*n), clamped to
// the valid range.
func (e *Estimator) ChunkAt(position float64) int {
	n := len(e.durations)
	if n == 0 {
		return 0
	}
	i := int(math.Floor(Clamp(position) * float64(n)))
	if i >= n {
		i = n - 1
	}
	return i
}

// Clamp limits p to [0, 1], mapping NaN to 0.
func Clamp(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
