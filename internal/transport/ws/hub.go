// Package ws is the websocket transport. Hub implements protocol.Router:
// it tracks live sessions and which groups each is subscribed to, and turns
// inbound frames into engine events.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/session-coordinator/internal/observability"
	"github.com/example/session-coordinator/internal/protocol"
)

// Engine is what the hub feeds inbound events into.
type Engine interface {
	Submit(ctx context.Context, ev protocol.Inbound) error
	Disconnect(ctx context.Context, connID string) error
}

type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	PongWait        time.Duration
	WriteWait       time.Duration
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

func (o *Options) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	groups   map[string]map[string]struct{}

	engine   Engine
	logger   *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func NewHub(engine Engine, logger *slog.Logger, opts Options) *Hub {
	opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		groups:   make(map[string]map[string]struct{}),
		engine:   engine,
		logger:   logger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// SetEngine wires the engine after construction; the engine needs the hub
// as its router, so one of the two has to come second.
func (h *Hub) SetEngine(e Engine) { h.engine = e }

// ServeHTTP upgrades the request. The client's stable id comes from the
// userId query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s := newSession(h, uuid.NewString(), r.URL.Query().Get("userId"), conn)
	h.register(s)
	go s.writePump()
	go s.readPump()
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()
	observability.ConnectionsOpen.Inc()
	h.logger.Info("connection opened", "conn_id", s.id, "user_id", s.userID, "open", n)
}

// unregister drops the session and all of its subscriptions. It reports
// whether the session was still registered.
func (h *Hub) unregister(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.id]; !ok {
		return false
	}
	delete(h.sessions, s.id)
	for gid, members := range h.groups {
		delete(members, s.id)
		if len(members) == 0 {
			delete(h.groups, gid)
		}
	}
	observability.ConnectionsOpen.Dec()
	return true
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close terminates every session.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()
	for _, s := range all {
		s.close()
	}
}

func (h *Hub) Join(connID, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[connID]; !ok {
		return
	}
	members, ok := h.groups[groupID]
	if !ok {
		members = make(map[string]struct{})
		h.groups[groupID] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) Leave(connID, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[groupID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, groupID)
		}
	}
}

func (h *Hub) Emit(connID, event string, payload any) {
	h.mu.RLock()
	s, ok := h.sessions[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if frame, ok := h.encode(event, payload); ok {
		s.deliver(frame)
	}
}

func (h *Hub) EmitGroup(groupID, event string, payload any) {
	h.EmitGroupExcept(groupID, "", event, payload)
}

func (h *Hub) EmitGroupExcept(groupID, exceptConnID, event string, payload any) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.groups[groupID]))
	for id := range h.groups[groupID] {
		if id == exceptConnID {
			continue
		}
		if s, ok := h.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	h.fanOut(targets, event, payload)
}

func (h *Hub) EmitAll(event string, payload any) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	h.fanOut(targets, event, payload)
}

func (h *Hub) fanOut(targets []*Session, event string, payload any) {
	if len(targets) == 0 {
		return
	}
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	for _, s := range targets {
		s.deliver(frame)
	}
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	frame, err := protocol.EncodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to encode frame", "event", event, "error", err)
		return nil, false
	}
	return frame, true
}

func (h *Hub) subscribers(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}
