package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/session-coordinator/internal/observability"
	"github.com/example/session-coordinator/internal/protocol"
)

// Session is one websocket connection.
type Session struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSession(h *Hub, id, userID string, conn *websocket.Conn) *Session {
	return &Session{
		id:     id,
		userID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// deliver queues a frame without blocking. A peer that cannot keep up is
// disconnected.
func (s *Session) deliver(frame []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- frame:
	default:
		observability.SendDropped.Inc()
		s.hub.logger.Warn("send buffer full, closing connection", "conn_id", s.id)
		s.close()
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// readPump turns frames into engine events. When the socket ends, the
// session is dropped and the engine is told exactly once.
func (s *Session) readPump() {
	defer func() {
		s.close()
		if s.hub.unregister(s) {
			if err := s.hub.engine.Disconnect(context.Background(), s.id); err != nil {
				s.hub.logger.Warn("disconnect not delivered", "conn_id", s.id, "error", err)
			}
			s.hub.logger.Info("connection closed", "conn_id", s.id)
		}
	}()

	s.conn.SetReadLimit(s.hub.opts.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.hub.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.hub.opts.PongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Debug("websocket read error", "conn_id", s.id, "error", err)
			}
			return
		}
		ev, err := protocol.DecodeFrame(s.id, s.userID, raw)
		if err != nil {
			observability.EventsTotal.WithLabelValues("unknown", "malformed").Inc()
			s.hub.logger.Warn("bad frame", "conn_id", s.id, "error", err)
			continue
		}
		if err := s.hub.engine.Submit(context.Background(), ev); err != nil {
			if errors.Is(err, protocol.ErrEngineStopped) {
				return
			}
			s.hub.logger.Warn("event not queued", "conn_id", s.id, "event", ev.Event, "error", err)
		}
	}
}

func (s *Session) writePump() {
	pingPeriod := (s.hub.opts.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
