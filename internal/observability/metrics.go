// Package observability exposes playback metrics to Prometheus.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/speech"
)

// Metrics groups the instruments. It implements playback.Observer.
type Metrics struct {
	reg *prometheus.Registry

	Phase          *prometheus.GaugeVec
	Transitions    *prometheus.CounterVec
	Utterances     prometheus.Counter
	BackendErrors  *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
	WSMessages     *prometheus.CounterVec
	WSConnections  prometheus.Gauge
	SynthesisDelay prometheus.Histogram
}

var _ playback.Observer = (*Metrics)(nil)

// NewMetrics registers every instrument on a fresh registry, so tests can
// create as many as they like.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		Phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "1 for the current transport phase, 0 otherwise.",
		}, []string{"phase"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Transport phase transitions.",
		}, []string{"from", "to"}),
		Utterances: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_started_total",
			Help:      "Utterances that started speaking.",
		}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend error signals by cause and whether they were swallowed.",
		}, []string{"cause", "swallowed"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Control API requests by route and status.",
		}, []string{"route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open WebSocket connections.",
		}),
		SynthesisDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Time from speak to first audio in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 5000},
		}),
	}
	for _, p := range []playback.Phase{playback.PhaseIdle, playback.PhaseLoading, playback.PhaseReady, playback.PhasePlaying, playback.PhasePaused} {
		m.Phase.WithLabelValues(p.String()).Set(0)
	}
	m.Phase.WithLabelValues(playback.PhaseIdle.String()).Set(1)
	return m
}

func (m *Metrics) PhaseChanged(from, to playback.Phase) {
	m.Phase.WithLabelValues(from.String()).Set(0)
	m.Phase.WithLabelValues(to.String()).Set(1)
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) UtteranceStarted(int) { m.Utterances.Inc() }

func (m *Metrics) BackendError(cause speech.ErrorCause, swallowed bool) {
	m.BackendErrors.WithLabelValues(string(cause), strconv.FormatBool(swallowed)).Inc()
}

// ObserveSynthesis records the delay between a speak request and audio.
func (m *Metrics) ObserveSynthesis(d time.Duration) {
	m.SynthesisDelay.Observe(float64(d.Milliseconds()))
}

// ObserveHTTP records one control API request.
func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}

// WatchCache exports the store's counters, read at scrape time.
func (m *Metrics) WatchCache(namespace string, s *cache.Store) {
	f := promauto.With(m.reg)
	gauge := func(name, help string, fn func(cache.Summary) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(s.Stats()) })
	}
	gauge("hits", "Clip cache hits.", func(x cache.Summary) float64 { return float64(x.Hits) })
	gauge("misses", "Clip cache misses.", func(x cache.Summary) float64 { return float64(x.Misses) })
	gauge("memory_bytes", "Bytes held in memory.", func(x cache.Summary) float64 { return float64(x.Memory.Size) })
	gauge("disk_bytes", "Bytes held on disk.", func(x cache.Summary) float64 { return float64(x.Disk.Size) })
}

// Registry returns the registry backing the instruments.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
