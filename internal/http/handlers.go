package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/session-coordinator/internal/models"
	"github.com/example/session-coordinator/internal/protocol"
	"github.com/example/session-coordinator/internal/registry"
	"github.com/example/session-coordinator/internal/storage"
)

// Engine is the part of the session engine the HTTP surface calls into.
type Engine interface {
	CreateRoom(ctx context.Context, groupID, host string) (models.Group, error)
	Groups(ctx context.Context) ([]models.Group, error)
}

// HistoryReader serves archived ride events.
type HistoryReader interface {
	History(ctx context.Context, rideID string) ([]models.RideEvent, error)
}

// Pinger is a backend the readiness endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Engine      Engine
	WS          http.Handler
	History     HistoryReader     // optional
	Checks      map[string]Pinger // optional
	Logger      *slog.Logger
	CORSOrigins []string
}

type Server struct {
	engine  Engine
	ws      http.Handler
	history HistoryReader
	checks  map[string]Pinger
	logger  *slog.Logger
	mux     *mux.Router
	handler http.Handler
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}
	s := &Server{
		engine:  d.Engine,
		ws:      d.WS,
		history: d.History,
		checks:  d.Checks,
		logger:  d.Logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	s.handler = handlers.CORS(
		handlers.AllowedOrigins(d.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
	)(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/create-group", s.handleCreateGroup).Methods(http.MethodPost)
	s.mux.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
	s.mux.HandleFunc("/rides/{id}/history", s.handleRideHistory).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.ws != nil {
		s.mux.Handle("/ws", s.ws)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

type createGroupRequest struct {
	GroupID      string `json:"groupId"`
	HostIdentity string `json:"hostIdentity"`
}

type result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, result{Message: "invalid body: " + err.Error()})
		return
	}
	req.GroupID = strings.TrimSpace(req.GroupID)
	if req.GroupID == "" {
		writeJSON(w, http.StatusBadRequest, result{Message: "groupId is required"})
		return
	}

	_, err := s.engine.CreateRoom(r.Context(), req.GroupID, req.HostIdentity)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, result{Success: true})
	case errors.Is(err, registry.ErrDuplicateGroup):
		writeJSON(w, http.StatusConflict, result{Message: "group already exists"})
	case errors.Is(err, protocol.ErrEngineStopped):
		writeJSON(w, http.StatusServiceUnavailable, result{Message: "shutting down"})
	default:
		s.logger.Error("create group failed", "group_id", req.GroupID, "error", err)
		writeJSON(w, http.StatusInternalServerError, result{Message: "internal error"})
	}
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.engine.Groups(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "ride history is not served by this instance", http.StatusNotImplemented)
		return
	}
	id := mux.Vars(r)["id"]
	events, err := s.history.History(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrRideNotFound):
		http.Error(w, "ride not found", http.StatusNotFound)
	case err != nil:
		s.logger.Error("ride history failed", "ride_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"rideId": id, "events": events})
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	code := http.StatusOK
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
