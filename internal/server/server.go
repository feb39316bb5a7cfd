// Package server exposes a player over HTTP and WebSocket so other programs
// can drive it and follow its state.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/observability"
	"github.com/dgnsrekt/readaloud/internal/playback"
)

// Player is the part of *playback.Engine the server drives.
type Player interface {
	LoadText(raw string) error
	Play() error
	Pause() error
	Stop() error
	Seek(position float64) error
	SetRate(v float64) error
	SetPitch(v float64) error
	SetVolume(v float64) error
	SetLang(tag string) error
	SetVisualizationEnabled(enabled bool)
	GetState() playback.State
	GetFrequencyData() []byte
	GetTimeDomainData() []byte
	Subscribe(fn func(playback.State)) (unsubscribe func())
}

var _ Player = (*playback.Engine)(nil)

// Server routes control requests to a Player.
type Server struct {
	player    Player
	metrics   *observability.Metrics
	bookmarks bookmark.Store
	logger    *log.Logger
	upgrader  websocket.Upgrader
	anyOrigin bool
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records requests and serves /metrics.
func WithMetrics(m *observability.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithBookmarks serves /v1/bookmarks from store.
func WithBookmarks(store bookmark.Store) Option { return func(s *Server) { s.bookmarks = store } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(s *Server) { s.logger = l } }

// WithAnyOrigin accepts WebSocket connections from any browser origin.
func WithAnyOrigin() Option { return func(s *Server) { s.anyOrigin = true } }

// New returns a server for p.
func New(p Player, opts ...Option) *Server {
	s := &Server{player: p}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = log.Default().WithPrefix("server")
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows non-browser clients and same-host pages.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.anyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/load", s.handleLoad)
		r.Post("/play", s.command(s.player.Play))
		r.Post("/pause", s.command(s.player.Pause))
		r.Post("/stop", s.command(s.player.Stop))
		r.Post("/seek", s.handleSeek)
		r.Post("/settings", s.handleSettings)
		r.Get("/visual", s.handleVisual)
		r.Get("/ws", s.handleWS)
		if s.bookmarks != nil {
			r.Get("/bookmarks", s.handleBookmarks)
		}
	})
	return r
}

// observe tags each request with an id and records metrics by route.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, status, time.Since(start))
		}
		s.logger.Debug("request", "id", id, "method", r.Method, "route", route, "status", status)
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.player.GetState())
}

type loadRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.player.LoadText(req.Text); err != nil {
		respondPlayerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.player.GetState())
}

func (s *Server) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			respondPlayerError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s.player.GetState())
	}
}

type seekRequest struct {
	Position *float64 `json:"position"`
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Position == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "position is required")
		return
	}
	if err := s.player.Seek(*req.Position); err != nil {
		respondPlayerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.player.GetState())
}

// Settings carries optional setting changes; nil fields are left alone.
type Settings struct {
	Rate          *float64 `json:"rate,omitempty"`
	Pitch         *float64 `json:"pitch,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Lang          *string  `json:"lang,omitempty"`
	Visualization *bool    `json:"visualization,omitempty"`
}

func (s *Server) apply(set Settings) error {
	if set.Rate != nil {
		if err := s.player.SetRate(*set.Rate); err != nil {
			return err
		}
	}
	if set.Pitch != nil {
		if err := s.player.SetPitch(*set.Pitch); err != nil {
			return err
		}
	}
	if set.Volume != nil {
		if err := s.player.SetVolume(*set.Volume); err != nil {
			return err
		}
	}
	if set.Lang != nil {
		if err := s.player.SetLang(*set.Lang); err != nil {
			return err
		}
	}
	if set.Visualization != nil {
		s.player.SetVisualizationEnabled(*set.Visualization)
	}
	return nil
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var set Settings
	if err := decodeJSON(w, r, &set); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.apply(set); err != nil {
		respondPlayerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.player.GetState())
}

type visualResponse struct {
	Kind string `json:"kind"`
	Data []int  `json:"data"` // null when nothing is playing
}

func (s *Server) handleVisual(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	var data []byte
	switch kind {
	case "", "frequency":
		kind = "frequency"
		data = s.player.GetFrequencyData()
	case "waveform":
		data = s.player.GetTimeDomainData()
	default:
		respondError(w, http.StatusBadRequest, "invalid_kind", "kind must be frequency or waveform")
		return
	}
	resp := visualResponse{Kind: kind}
	if data != nil {
		resp.Data = make([]int, len(data))
		for i, b := range data {
			resp.Data[i] = int(b)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.bookmarks.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "bookmarks_unavailable", err.Error())
		return
	}
	if list == nil {
		list = []bookmark.Bookmark{}
	}
	respondJSON(w, http.StatusOK, list)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const maxBodyBytes = 8 << 20

var errEmptyBody = errors.New("empty body")

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondPlayerError(w http.ResponseWriter, err error) {
	status, code := playerErrorStatus(err)
	respondError(w, status, code, err.Error())
}

func playerErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, playback.ErrDestroyed):
		return http.StatusGone, "destroyed"
	case errors.Is(err, playback.ErrInvalidSetting):
		return http.StatusBadRequest, "invalid_setting"
	}
	return http.StatusInternalServerError, "player_error"
}
