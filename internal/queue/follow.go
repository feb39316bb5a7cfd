package queue

import (
	"sync"

	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

// Source is the part of a playback engine the prefetcher watches.
type Source interface {
	Subscribe(fn func(playback.State)) (unsubscribe func())
	Chunks() []string
	Config() playback.Config
}

// target is what the pending jobs were built for.
type target struct {
	chunk  int
	chunks int
	rate   float64
	pitch  float64
	lang   string
}

// Follow schedules the chunks after the one src is speaking whenever the
// cursor or the voice settings change, and clears the queue when playback
// stops. voice must match the voice the backend synthesizes with so the
// prefetched clips share its cache keys. The returned function stops
// following.
func Follow(src Source, q *Queue, voice string) (stop func()) {
	var (
		mu   sync.Mutex
		last *target
	)
	unsubscribe := src.Subscribe(func(st playback.State) {
		if !st.IsPlaying && !st.IsLoading {
			mu.Lock()
			last = nil
			mu.Unlock()
			if !st.IsPaused {
				q.Clear()
			}
			return
		}

		cfg := src.Config()
		t := target{chunk: st.Chunk, chunks: st.Chunks, rate: cfg.Rate, pitch: cfg.Pitch, lang: st.Lang}
		mu.Lock()
		if last != nil && *last == t {
			mu.Unlock()
			return
		}
		last = &t
		mu.Unlock()

		if err := q.Schedule(upcoming(src.Chunks(), t, voice, q.Lookahead())...); err != nil {
			q.logger.Debug("prefetch not scheduled", "chunk", t.chunk, "err", err)
		}
	})
	return unsubscribe
}

// upcoming builds jobs for the n chunks after t.chunk.
func upcoming(chunks []string, t target, voice string, n int) []Job {
	var jobs []Job
	for i := t.chunk + 1; i < len(chunks) && i <= t.chunk+n; i++ {
		jobs = append(jobs, Job{
			Index: i,
			Request: synth.Request{
				Text:  chunks[i],
				Voice: voice,
				Lang:  t.lang,
				Rate:  t.rate,
				Pitch: t.pitch,
			},
		})
	}
	return jobs
}
