package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/session-coordinator/internal/logging"
	"github.com/example/session-coordinator/internal/models"
	"github.com/example/session-coordinator/internal/protocol"
	"github.com/example/session-coordinator/internal/registry"
	"github.com/example/session-coordinator/internal/storage"
	"github.com/example/session-coordinator/internal/transport/ws"
)

type fakeEngine struct {
	created map[string]string
	err     error
}

func (f *fakeEngine) CreateRoom(_ context.Context, id, host string) (models.Group, error) {
	if f.err != nil {
		return models.Group{}, f.err
	}
	if _, dup := f.created[id]; dup {
		return models.Group{}, fmt.Errorf("%w: %s", registry.ErrDuplicateGroup, id)
	}
	f.created[id] = host
	return models.Group{ID: id, Kind: models.KindRoom, Host: host}, nil
}

func (f *fakeEngine) Groups(context.Context) ([]models.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []models.Group{}
	for id, host := range f.created {
		out = append(out, models.Group{ID: id, Kind: models.KindRoom, Host: host, Members: []models.Member{}})
	}
	return out, nil
}

type pingerFunc func(context.Context) error

func (p pingerFunc) Ping(ctx context.Context) error { return p(ctx) }

func newTestServer(eng Engine, d Deps) *Server {
	d.Engine = eng
	d.Logger = logging.Discard()
	return NewServer(d)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateGroup(t *testing.T) {
	eng := &fakeEngine{created: map[string]string{}}
	s := newTestServer(eng, Deps{})

	rec := do(t, s, http.MethodPost, "/create-group", `{"groupId":"g1","hostIdentity":"host-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, "host-1", eng.created["g1"])

	rec = do(t, s, http.MethodPost, "/create-group", `{"groupId":"g1","hostIdentity":"host-2"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"success":false,"message":"group already exists"}`, rec.Body.String())
	assert.Equal(t, "host-1", eng.created["g1"], "duplicate must not replace the host")
}

func TestCreateGroupRejectsBadInput(t *testing.T) {
	s := newTestServer(&fakeEngine{created: map[string]string{}}, Deps{})

	cases := map[string]string{
		"not json":   `{`,
		"missing id": `{"hostIdentity":"h"}`,
		"blank id":   `{"groupId":"  "}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/create-group", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := do(t, s, http.MethodGet, "/create-group", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCreateGroupWhileStopping(t *testing.T) {
	s := newTestServer(&fakeEngine{err: protocol.ErrEngineStopped}, Deps{})
	rec := do(t, s, http.MethodPost, "/create-group", `{"groupId":"g1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListGroups(t *testing.T) {
	eng := &fakeEngine{created: map[string]string{"g1": "h"}}
	s := newTestServer(eng, Deps{})

	rec := do(t, s, http.MethodGet, "/groups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Groups []models.Group `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Groups, 1)
	assert.Equal(t, "g1", body.Groups[0].ID)
	assert.Equal(t, models.KindRoom, body.Groups[0].Kind)
}

func TestRideHistory(t *testing.T) {
	mem := storage.NewMemoryStore(0, 0)
	at := time.Date(2024, 5, 4, 9, 30, 0, 0, time.UTC)
	require.NoError(t, mem.RecordRide(context.Background(), models.RideEvent{RideID: "d-r", Kind: "accepted", Status: "accepted", RecordedAt: at}))
	require.NoError(t, mem.RecordRide(context.Background(), models.RideEvent{RideID: "d-r", Kind: "closed", Status: "accepted", RecordedAt: at}))

	s := newTestServer(&fakeEngine{created: map[string]string{}}, Deps{History: mem})

	rec := do(t, s, http.MethodGet, "/rides/d-r/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RideID string             `json:"rideId"`
		Events []models.RideEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "d-r", body.RideID)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "accepted", body.Events[0].Kind)
	assert.Equal(t, "closed", body.Events[1].Kind)

	rec = do(t, s, http.MethodGet, "/rides/nope/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	noHistory := newTestServer(&fakeEngine{created: map[string]string{}}, Deps{})
	rec = do(t, noHistory, http.MethodGet, "/rides/d-r/history", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := pingerFunc(func(context.Context) error { return nil })
	broken := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	s := newTestServer(&fakeEngine{created: map[string]string{}}, Deps{Checks: map[string]Pinger{"redis": healthy}})
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	rec := do(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"redis":"ok"}`, rec.Body.String())

	s = newTestServer(&fakeEngine{created: map[string]string{}}, Deps{Checks: map[string]Pinger{"redis": healthy, "postgres": broken}})
	rec = do(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"redis":"ok","postgres":"connection refused"}`, rec.Body.String())
}

func TestMiddlewareHeaders(t *testing.T) {
	s := newTestServer(&fakeEngine{created: map[string]string{}}, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("Origin", "https://editor.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "a request id is generated when absent")
}

func TestRecoverMiddleware(t *testing.T) {
	s := newTestServer(&fakeEngine{created: map[string]string{}}, Deps{})
	s.mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := do(t, s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// hijackRecorder lets a handler take over the connection the way the
// websocket upgrader does.
type hijackRecorder struct {
	*httptest.ResponseRecorder
}

func (h hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestObservabilityLogsUpgradedSessionsSeparately(t *testing.T) {
	var buf bytes.Buffer
	s := NewServer(Deps{Engine: &fakeEngine{created: map[string]string{}}, Logger: slog.New(slog.NewJSONHandler(&buf, nil))})

	upgraded := s.observabilityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	upgraded.ServeHTTP(hijackRecorder{httptest.NewRecorder()}, httptest.NewRequest(http.MethodGet, "/ws", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "websocket_closed", entry["msg"])
	assert.Contains(t, entry, "session_ms")
	assert.NotContains(t, entry, "duration_ms")
	assert.NotContains(t, entry, "status")

	buf.Reset()
	s.observabilityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http_request", entry["msg"])
	assert.Contains(t, entry, "duration_ms")
	assert.EqualValues(t, http.StatusNoContent, entry["status"])
}

// End to end: HTTP creates the room, websocket clients join, edit and leave
// through the real engine and hub.
func TestRoomRoundTrip(t *testing.T) {
	logger := logging.Discard()
	hub := ws.NewHub(nil, logger, ws.Options{})
	eng := protocol.New(protocol.NewState(time.Now), protocol.Config{Router: hub, Logger: logger})
	hub.SetEngine(eng)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		hub.Close()
		cancel()
		<-done
	})

	srv := httptest.NewServer(NewServer(Deps{Engine: eng, WS: hub, Logger: logger}))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/create-group", "application/json", strings.NewReader(`{"groupId":"room-1","hostIdentity":"alice"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	alice := dialWS(t, wsURL+"?userId=alice")
	bob := dialWS(t, wsURL+"?userId=bob")

	send(t, alice, `{"event":"join-group","data":{"groupId":"room-1","member":{"id":"alice","name":"Alice"}}}`)
	update := readUntil(t, alice, protocol.EventRoomUpdate)
	assert.Len(t, update.Users, 1)

	send(t, bob, `{"event":"join-room","data":{"groupId":"room-1","member":{"id":"bob","name":"Bob"}}}`)
	update = readUntil(t, alice, protocol.EventRoomUpdate)
	require.Len(t, update.Users, 2)
	assert.Equal(t, "bob", update.Users[1].ID)
	readUntil(t, bob, protocol.EventRoomUpdate)

	send(t, bob, `{"event":"update-code","data":{"groupId":"room-1","code":"print(1)"}}`)
	f := readFrameWS(t, alice)
	require.Equal(t, protocol.EventCodeUpdate, f.Event)
	assert.JSONEq(t, `{"groupId":"room-1","code":"print(1)"}`, string(f.Data))

	require.NoError(t, bob.Close())
	update = readUntil(t, alice, protocol.EventRoomUpdate)
	require.Len(t, update.Users, 1)
	assert.Equal(t, "alice", update.Users[0].ID)
	assert.Equal(t, "print(1)", update.Code)

	resp, err = http.Get(srv.URL + "/groups")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Groups []models.Group `json:"groups"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Groups, 1)
	assert.Equal(t, "alice", body.Groups[0].Host)
	assert.Len(t, body.Groups[0].Members, 1)
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readFrameWS(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f protocol.Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) protocol.RoomUpdateMessage {
	t.Helper()
	for {
		f := readFrameWS(t, conn)
		if f.Event != event {
			continue
		}
		var msg protocol.RoomUpdateMessage
		require.NoError(t, json.Unmarshal(f.Data, &msg))
		return msg
	}
}
