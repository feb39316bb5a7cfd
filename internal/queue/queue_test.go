package queue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/synth"
)

// recordingSynth records requests. When gate is set each call blocks until
// it is closed or the job is canceled.
type recordingSynth struct {
	mu      sync.Mutex
	reqs    []synth.Request
	gate    chan struct{}
	entered chan struct{}
}

func (r *recordingSynth) Name() string { return "recording" }

func (r *recordingSynth) Synthesize(ctx context.Context, req synth.Request) (audio.Clip, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.entered != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}
	return audio.Clip{PCM: []int16{0}, SampleRate: 16000, Channels: 1}, nil
}

func (r *recordingSynth) Validate(context.Context) error { return nil }

func (r *recordingSynth) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, req := range r.reqs {
		out = append(out, req.Text)
	}
	return out
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

func job(i int, text string) Job {
	return Job{Index: i, Request: synth.Request{Text: text, Rate: 1}}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestQueue_RunsInIndexOrder(t *testing.T) {
	s := &recordingSynth{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	q := New(s, WithLogger(quietLogger()))
	defer q.Close()

	if err := q.Schedule(job(0, "zero")); err != nil {
		t.Fatal(err)
	}
	<-s.entered

	// the worker is busy with zero, so these wait in the heap
	if err := q.Schedule(job(3, "three"), job(1, "one"), job(2, "two")); err != nil {
		t.Fatal(err)
	}
	close(s.gate)
	waitFor(t, func() bool { return q.Stats().Done == 4 })

	want := []string{"zero", "one", "two", "three"}
	if got := s.texts(); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestQueue_ScheduleReplacesPending(t *testing.T) {
	s := &recordingSynth{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	q := New(s, WithLogger(quietLogger()))
	defer q.Close()

	_ = q.Schedule(job(0, "zero"))
	<-s.entered
	_ = q.Schedule(job(1, "one"), job(2, "two"))
	_ = q.Schedule(job(7, "seven"))
	close(s.gate)
	waitFor(t, func() bool { return q.Stats().Done == 2 })

	if got := s.texts(); !slices.Equal(got, []string{"zero", "seven"}) {
		t.Errorf("ran %v", got)
	}
	st := q.Stats()
	if st.Dropped != 2 || st.Scheduled != 4 || st.Pending != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestQueue_Clear(t *testing.T) {
	s := &recordingSynth{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	q := New(s, WithLogger(quietLogger()))
	defer q.Close()

	_ = q.Schedule(job(0, "zero"))
	<-s.entered
	_ = q.Schedule(job(1, "one"), job(2, "two"))
	q.Clear()
	if st := q.Stats(); st.Pending != 0 || st.Dropped != 2 || st.Running != 1 {
		t.Errorf("stats after clear = %+v", st)
	}
	close(s.gate)
	waitFor(t, func() bool { return q.Stats().Done == 1 })
}

func TestQueue_CloseCancelsRunning(t *testing.T) {
	s := &recordingSynth{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	q := New(s, WithLogger(quietLogger()), WithWorkers(2))

	_ = q.Schedule(job(0, "zero"), job(1, "one"), job(2, "two"))
	<-s.entered

	done := make(chan struct{})
	go func() {
		_ = q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}

	st := q.Stats()
	if st.Done != 0 || st.Running != 0 {
		t.Errorf("stats after close = %+v", st)
	}
	if st.Dropped != 3 {
		t.Errorf("dropped = %d, want 3", st.Dropped)
	}
	if err := q.Schedule(job(3, "three")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Schedule after Close = %v, want ErrQueueClosed", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestQueue_Options(t *testing.T) {
	l := quietLogger()
	q := New(&recordingSynth{}, WithLookahead(5), WithWorkers(0), WithTimeout(-1), WithLogger(l))
	defer q.Close()
	if q.Lookahead() != 5 || q.workers != defaultWorkers || q.timeout != defaultTimeout {
		t.Errorf("lookahead=%d workers=%d timeout=%v", q.Lookahead(), q.workers, q.timeout)
	}
	if q.logger != l {
		t.Error("WithLogger did not set the logger")
	}
}

// fakeSource publishes states by hand.
type fakeSource struct {
	mu     sync.Mutex
	fns    []func(playback.State)
	chunks []string
	cfg    playback.Config
}

func (f *fakeSource) Subscribe(fn func(playback.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	i := len(f.fns) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fns[i] = nil
	}
}

func (f *fakeSource) Chunks() []string        { return f.chunks }
func (f *fakeSource) Config() playback.Config { return f.cfg }

func (f *fakeSource) publish(st playback.State) {
	f.mu.Lock()
	fns := slices.Clone(f.fns)
	f.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(st)
		}
	}
}

func TestFollow(t *testing.T) {
	src := &fakeSource{
		chunks: []string{"c0", "c1", "c2", "c3", "c4"},
		cfg:    playback.Config{Rate: 1.25, Pitch: 0.9},
	}
	s := &recordingSynth{}
	q := New(s, WithLookahead(2), WithLogger(quietLogger()))
	defer q.Close()

	stop := Follow(src, q, "amy")
	playing := playback.State{IsPlaying: true, Phase: playback.PhasePlaying, Chunk: 0, Chunks: 5, Lang: "en-US"}
	src.publish(playing)
	waitFor(t, func() bool { return q.Stats().Done == 2 })

	s.mu.Lock()
	got := slices.Clone(s.reqs)
	s.mu.Unlock()
	want := []synth.Request{
		{Text: "c1", Voice: "amy", Lang: "en-US", Rate: 1.25, Pitch: 0.9},
		{Text: "c2", Voice: "amy", Lang: "en-US", Rate: 1.25, Pitch: 0.9},
	}
	if !slices.Equal(got, want) {
		t.Errorf("requests = %+v, want %+v", got, want)
	}

	// an identical snapshot, such as a progress tick, schedules nothing
	src.publish(playing)
	if n := q.Stats().Scheduled; n != 2 {
		t.Errorf("scheduled = %d after repeat, want 2", n)
	}

	// the last chunk has nothing after it
	playing.Chunk = 4
	src.publish(playing)
	if n := q.Stats().Scheduled; n != 2 {
		t.Errorf("scheduled = %d at last chunk, want 2", n)
	}

	stop()
	playing.Chunk = 1
	src.publish(playing)
	if n := q.Stats().Scheduled; n != 2 {
		t.Errorf("scheduled = %d after stop, want 2", n)
	}
}

func TestFollow_ClearsWhenStopped(t *testing.T) {
	src := &fakeSource{chunks: []string{"c0", "c1", "c2", "c3"}, cfg: playback.Config{Rate: 1, Pitch: 1}}
	s := &recordingSynth{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	q := New(s, WithLookahead(3), WithLogger(quietLogger()))
	defer q.Close()
	defer close(s.gate)

	Follow(src, q, "")
	src.publish(playback.State{IsLoading: true, Phase: playback.PhaseLoading, Chunks: 4})
	<-s.entered
	if st := q.Stats(); st.Pending != 2 {
		t.Fatalf("pending = %d, want 2", st.Pending)
	}

	// pausing keeps the pending work
	src.publish(playback.State{IsPaused: true, Phase: playback.PhasePaused, Chunks: 4})
	if st := q.Stats(); st.Pending != 2 {
		t.Errorf("pending after pause = %d, want 2", st.Pending)
	}

	src.publish(playback.State{Phase: playback.PhaseIdle, Chunks: 4})
	if st := q.Stats(); st.Pending != 0 {
		t.Errorf("pending after stop = %d, want 0", st.Pending)
	}
}

func TestFollow_LogsClosedQueue(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&buf)
	l.SetLevel(log.DebugLevel)

	src := &fakeSource{chunks: []string{"c0", "c1"}, cfg: playback.Config{Rate: 1, Pitch: 1}}
	q := New(&recordingSynth{}, WithLogger(l))
	_ = q.Close()

	Follow(src, q, "")
	src.publish(playback.State{IsPlaying: true, Phase: playback.PhasePlaying, Chunks: 2})

	out := buf.String()
	if !strings.Contains(out, "prefetch not scheduled") || !strings.Contains(out, ErrQueueClosed.Error()) {
		t.Errorf("log = %q, want the closed queue reported", out)
	}
	if n := q.Stats().Scheduled; n != 0 {
		t.Errorf("scheduled = %d on a closed queue", n)
	}
}
