package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/speech"
)

func TestMetrics_Observer(t *testing.T) {
	m := NewMetrics("readaloud")

	m.PhaseChanged(playback.PhaseIdle, playback.PhaseReady)
	m.PhaseChanged(playback.PhaseReady, playback.PhaseLoading)
	m.PhaseChanged(playback.PhaseLoading, playback.PhasePlaying)
	m.UtteranceStarted(0)
	m.UtteranceStarted(1)
	m.BackendError(speech.CauseInterrupted, true)
	m.BackendError(speech.CauseNetwork, false)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"playing", testutil.ToFloat64(m.Phase.WithLabelValues("playing")), 1},
		{"idle", testutil.ToFloat64(m.Phase.WithLabelValues("idle")), 0},
		{"loading", testutil.ToFloat64(m.Phase.WithLabelValues("loading")), 0},
		{"transition", testutil.ToFloat64(m.Transitions.WithLabelValues("loading", "playing")), 1},
		{"utterances", testutil.ToFloat64(m.Utterances), 2},
		{"swallowed", testutil.ToFloat64(m.BackendErrors.WithLabelValues("interrupted", "true")), 1},
		{"network", testutil.ToFloat64(m.BackendErrors.WithLabelValues("network", "false")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("readaloud")
	m.ObserveHTTP("/v1/play", 204, 3*time.Millisecond)
	m.ObserveSynthesis(250 * time.Millisecond)

	store, err := cache.Open(cache.Config{MemoryBytes: 1 << 20}, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	_ = store.Put("k", audio.Clip{PCM: []int16{1}, SampleRate: 8000, Channels: 1})
	store.Get("k")
	m.WatchCache("readaloud", store)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`readaloud_http_requests_total{route="/v1/play",status="204"} 1`,
		`readaloud_cache_hits 1`,
		`readaloud_synthesis_latency_ms_count 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
