package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/readaloud/internal/playback"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 120 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 1 << 20
	wsBacklog    = 64
)

// Message is the envelope for every WebSocket frame in both directions.
//
// Clients send commands: load (text), play, pause, stop, seek (position),
// settings (settings). The server answers with hello once, state for every
// snapshot, and error when a command fails.
type Message struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Text     string          `json:"text,omitempty"`
	Position *float64        `json:"position,omitempty"`
	Settings *Settings       `json:"settings,omitempty"`
	State    *playback.State `json:"state,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     string          `json:"code,omitempty"`
}

var errUnknownCommand = errors.New("unknown command")

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	id := uuid.NewString()
	logger := s.logger.With("conn", id)
	logger.Debug("websocket connected", "remote", r.RemoteAddr)
	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
		defer s.metrics.WSConnections.Dec()
	}

	out := make(chan Message, wsBacklog)
	done := make(chan struct{})

	// Snapshots are pushed from the engine goroutine and must never block
	// it; a client that falls this far behind is disconnected.
	send := func(m Message) bool {
		select {
		case out <- m:
			return true
		case <-done:
			return false
		default:
			logger.Warn("websocket backlog full, closing")
			_ = conn.Close()
			return false
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case m := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(m); err != nil {
					logger.Debug("websocket write failed", "err", err)
					_ = conn.Close()
					return
				}
				s.countWS("out", m.Type)
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	send(Message{Type: "hello", ID: id})
	st := s.player.GetState()
	send(Message{Type: "state", State: &st})
	unsubscribe := s.player.Subscribe(func(st playback.State) {
		send(Message{Type: "state", State: &st})
	})
	defer func() {
		unsubscribe()
		close(done)
		<-writerDone
		_ = conn.Close()
		logger.Debug("websocket closed")
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read failed", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if kind != websocket.TextMessage {
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			send(Message{Type: "error", Code: "invalid_message", Error: err.Error()})
			continue
		}
		s.countWS("in", m.Type)
		if err := s.dispatch(m); err != nil {
			code := "player_error"
			switch {
			case errors.Is(err, errUnknownCommand):
				code = "unknown_command"
			case errors.Is(err, errMissingPosition):
				code = "invalid_request"
			default:
				_, code = playerErrorStatus(err)
			}
			send(Message{Type: "error", ID: m.ID, Code: code, Error: err.Error()})
		}
	}
}

var errMissingPosition = errors.New("position is required")

func (s *Server) dispatch(m Message) error {
	switch m.Type {
	case "load":
		return s.player.LoadText(m.Text)
	case "play":
		return s.player.Play()
	case "pause":
		return s.player.Pause()
	case "stop":
		return s.player.Stop()
	case "seek":
		if m.Position == nil {
			return errMissingPosition
		}
		return s.player.Seek(*m.Position)
	case "settings":
		if m.Settings == nil {
			return nil
		}
		return s.apply(*m.Settings)
	}
	return errUnknownCommand
}

func (s *Server) countWS(direction, typ string) {
	if s.metrics == nil {
		return
	}
	switch typ {
	case "hello", "state", "error", "load", "play", "pause", "stop", "seek", "settings":
	default:
		typ = "other"
	}
	s.metrics.WSMessages.WithLabelValues(direction, typ).Inc()
}
