package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/synth"
)

// ErrQueueClosed is returned when work is scheduled on a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

const (
	defaultLookahead = 2
	defaultWorkers   = 1
	defaultTimeout   = time.Minute
)

// Job is one clip to synthesize ahead of time.
type Job struct {
	// Index is the chunk position; lower indexes run first.
	Index   int
	Request synth.Request
}

// Stats counts jobs by outcome.
type Stats struct {
	Scheduled int64
	Done      int64
	Failed    int64
	// Dropped counts pending jobs replaced before they ran.
	Dropped int64
	Pending int
	Running int
}

// Queue runs prefetch jobs against a synthesizer. It is safe for
// concurrent use.
type Queue struct {
	synth     synth.Synthesizer
	lookahead int
	workers   int
	timeout   time.Duration
	logger    *log.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	pending  jobHeap
	closed   bool
	stats    Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithLookahead sets how many chunks past the current one are prefetched.
func WithLookahead(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.lookahead = n
		}
	}
}

// WithWorkers sets how many jobs may synthesize at once.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithTimeout bounds each job.
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New starts a queue feeding s. Close stops it.
func New(s synth.Synthesizer, opts ...Option) *Queue {
	q := &Queue{
		synth:     s,
		lookahead: defaultLookahead,
		workers:   defaultWorkers,
		timeout:   defaultTimeout,
		logger:    log.Default().WithPrefix("prefetch"),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	heap.Init(&q.pending)

	q.wg.Add(q.workers)
	for range q.workers {
		go q.work()
	}
	return q
}

// Lookahead returns how many chunks ahead the queue prefetches.
func (q *Queue) Lookahead() int {
	return q.lookahead
}

// Schedule replaces the pending jobs with jobs. Jobs already running are
// left to finish.
func (q *Queue) Schedule(jobs ...Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.stats.Dropped += int64(len(q.pending))
	q.pending = q.pending[:0]
	for _, j := range jobs {
		heap.Push(&q.pending, j)
	}
	q.stats.Scheduled += int64(len(jobs))
	q.notEmpty.Broadcast()
	return nil
}

// Clear drops all pending jobs.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.Dropped += int64(len(q.pending))
	q.pending = q.pending[:0]
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

// Close cancels running jobs, drops pending ones and waits for the workers
// to exit. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.stats.Dropped += int64(len(q.pending))
	q.pending = q.pending[:0]
	q.notEmpty.Broadcast()
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.notEmpty.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		j := heap.Pop(&q.pending).(Job)
		q.stats.Running++
		q.mu.Unlock()

		err := q.run(j)

		q.mu.Lock()
		q.stats.Running--
		switch {
		case err == nil:
			q.stats.Done++
		case errors.Is(err, context.Canceled):
			q.stats.Dropped++
		default:
			q.stats.Failed++
		}
		q.mu.Unlock()
	}
}

func (q *Queue) run(j Job) error {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	began := time.Now()
	_, err := q.synth.Synthesize(ctx, j.Request)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			q.logger.Debug("prefetch failed", "chunk", j.Index, "err", err)
		}
		return err
	}
	q.logger.Debug("prefetched", "chunk", j.Index, "took", time.Since(began))
	return nil
}

// jobHeap orders jobs by chunk index.
type jobHeap []Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].Index < h[j].Index }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(Job))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	*h = old[:n-1]
	return j
}
