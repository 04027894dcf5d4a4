package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/session-coordinator/internal/logging"
	"github.com/example/session-coordinator/internal/protocol"
)

type recordingEngine struct {
	mu          sync.Mutex
	events      []protocol.Inbound
	disconnects []string
}

func (r *recordingEngine) Submit(_ context.Context, ev protocol.Inbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEngine) Disconnect(_ context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, connID)
	return nil
}

func (r *recordingEngine) snapshot() ([]protocol.Inbound, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Inbound(nil), r.events...), append([]string(nil), r.disconnects...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestHub(t *testing.T) (*Hub, *recordingEngine, string) {
	t.Helper()
	eng := &recordingEngine{}
	hub := NewHub(eng, logging.Discard(), Options{})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, eng, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f protocol.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("bad frame %q: %v", raw, err)
	}
	return f
}

func TestInboundFramesReachEngine(t *testing.T) {
	_, eng, url := newTestHub(t)
	conn := dial(t, url+"?userId=ext-1")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"go-live","data":{"name":"Ada","type":"driver"}}`)); err != nil {
		t.Fatal(err)
	}
	// bad frames are skipped, reserved names are refused
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"disconnect"}`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ready"}`))

	waitFor(t, func() bool { evs, _ := eng.snapshot(); return len(evs) == 2 })
	evs, _ := eng.snapshot()
	if evs[0].Event != "go-live" || evs[0].UserID != "ext-1" || evs[0].ConnID == "" {
		t.Fatalf("unexpected first event %+v", evs[0])
	}
	if evs[1].Event != "ready" || evs[1].ConnID != evs[0].ConnID {
		t.Fatalf("unexpected second event %+v", evs[1])
	}
}

func TestCloseTriggersSingleDisconnect(t *testing.T) {
	hub, eng, url := newTestHub(t)
	conn := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 1 })

	conn.Close()

	waitFor(t, func() bool { _, d := eng.snapshot(); return len(d) == 1 })
	if hub.Count() != 0 {
		t.Fatalf("expected no sessions, got %d", hub.Count())
	}
	time.Sleep(20 * time.Millisecond)
	if _, d := eng.snapshot(); len(d) != 1 {
		t.Fatalf("disconnect delivered %d times", len(d))
	}
}

func sessionIDs(h *Hub) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	return ids
}

func TestGroupEmitReachesOnlySubscribers(t *testing.T) {
	hub, _, url := newTestHub(t)
	a := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 1 })
	aID := sessionIDs(hub)[0]
	b := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 2 })
	var bID string
	for _, id := range sessionIDs(hub) {
		if id != aID {
			bID = id
		}
	}

	hub.Join(aID, "room")
	hub.Join(bID, "room")
	hub.Join("ghost", "room")
	if n := hub.subscribers("room"); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	hub.EmitGroupExcept("room", aID, "code-update", map[string]string{"code": "x"})
	f := readFrame(t, b)
	if f.Event != "code-update" || string(f.Data) != `{"code":"x"}` {
		t.Fatalf("unexpected frame %+v", f)
	}

	hub.Leave(bID, "room")
	hub.EmitGroup("room", "room-update", map[string]int{"n": 1})
	if f := readFrame(t, a); f.Event != "room-update" {
		t.Fatalf("a expected room-update, got %+v", f)
	}

	hub.Emit(bID, "status", map[string]string{"who": "b"})
	if f := readFrame(t, b); f.Event != "status" {
		t.Fatalf("b expected status, got %+v", f)
	}

	hub.EmitAll("roomList", map[string][]string{"rooms": {}})
	if f := readFrame(t, a); f.Event != "roomList" {
		t.Fatalf("a expected roomList, got %+v", f)
	}
	if f := readFrame(t, b); f.Event != "roomList" {
		t.Fatalf("b expected roomList, got %+v", f)
	}
}

func TestUnregisterDropsSubscriptions(t *testing.T) {
	hub := NewHub(&recordingEngine{}, logging.Discard(), Options{})
	s := &Session{id: "c1", hub: hub, send: make(chan []byte, 1), done: make(chan struct{})}
	hub.sessions[s.id] = s
	hub.Join("c1", "g1")
	hub.Join("c1", "g2")

	if !hub.unregister(s) {
		t.Fatal("expected first unregister to report true")
	}
	if hub.unregister(s) {
		t.Fatal("second unregister should be a no-op")
	}
	if len(hub.groups) != 0 {
		t.Fatalf("expected empty groups to be pruned, got %v", hub.groups)
	}
}
