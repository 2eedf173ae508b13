package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"streamengine/internal/logging"
	"streamengine/internal/model"
	"streamengine/internal/runtimesub"
)

type fakeCore struct {
	state model.RuntimeSubscriptionState
}

func (f *fakeCore) GetRuntimeSubscription() model.RuntimeSubscriptionState { return f.state }

func (f *fakeCore) SetRuntimeSubscription(channels []model.Endpoint, users []string) (model.RuntimeSubscriptionState, error) {
	f.state.Channels = channels
	f.state.Users = users
	return f.state, nil
}

type fakeRing struct{ events []model.TwitterEvent }

func (f *fakeRing) Snapshot() []model.TwitterEvent { return f.events }

type fakeStats struct{ stats model.Stats }

func (f *fakeStats) GetStats() model.Stats { return f.stats }

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntilType reads messages off ws until one has the given type,
// skipping over others (notably the "state" snapshot every connect gets).
func readUntilType(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var resp map[string]any
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp["type"] == typ {
			return resp
		}
	}
}

func TestHub_GetRuntimeSubscriptionRoundTrip(t *testing.T) {
	core := &fakeCore{state: model.RuntimeSubscriptionState{Channels: []model.Endpoint{model.EndpointAll}, Mode: model.ModeIdle}}
	rpc := runtimesub.New(core, nil)
	hub := New(rpc, nil, nil)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialWS(t, srv)
	if err := ws.WriteJSON(map[string]string{"type": "getRuntimeSubscription", "id": "req-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readUntilType(t, ws, "ack")
	if resp["id"] != "req-1" || resp["success"] != true {
		t.Fatalf("unexpected ack: %+v", resp)
	}
}

func TestHub_SetRuntimeSubscriptionBroadcasts(t *testing.T) {
	core := &fakeCore{}
	hub := New(nil, nil, nil) // rpc wired below, once hub exists, to close the broadcaster loop
	rpc := runtimesub.New(core, hub)
	hub.rpc = rpc

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialWS(t, srv)
	if err := ws.WriteJSON(map[string]any{
		"type":     "setRuntimeSubscription",
		"id":       "req-2",
		"channels": []string{"tweets"},
		"users":    []string{"alice"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The handler broadcasts before it acks, so the update arrives first.
	update := readUntilType(t, ws, "runtimeSubscriptionUpdated")
	if _, ok := update["data"].(map[string]any); !ok {
		t.Fatalf("expected runtimeSubscriptionUpdated to carry the new state, got %+v", update)
	}

	resp := readUntilType(t, ws, "ack")
	if resp["success"] != true {
		t.Fatalf("unexpected ack: %+v", resp)
	}
}

func TestHub_BroadcastEventReachesConnectedClient(t *testing.T) {
	core := &fakeCore{}
	hub := New(runtimesub.New(core, nil), nil, nil)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialWS(t, srv)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ConnectionCount() != 1 {
		t.Fatalf("expected 1 connection, got %d", hub.ConnectionCount())
	}

	hub.BroadcastEvent(model.TwitterEvent{Type: model.EventPostCreated, PrimaryID: "evt-1"})

	resp := readUntilType(t, ws, "event")
	if resp["type"] != "event" {
		t.Fatalf("unexpected broadcast: %+v", resp)
	}
}

func TestHub_UnrecognisedRequestTypeReturnsError(t *testing.T) {
	core := &fakeCore{}
	hub := New(runtimesub.New(core, nil), nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialWS(t, srv)
	ws.WriteJSON(map[string]string{"type": "bogus", "id": "req-3"})

	resp := readUntilType(t, ws, "error")
	if resp["type"] != "error" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestHub_SendsStateSnapshotOnConnect(t *testing.T) {
	core := &fakeCore{}
	ringEvents := []model.TwitterEvent{{Type: model.EventPostCreated, PrimaryID: "evt-1"}}
	ring := &fakeRing{events: ringEvents}
	stats := &fakeStats{stats: model.Stats{TotalEvents: 5, DeliveredEvents: 3}}
	hub := New(runtimesub.New(core, nil), ring, stats)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialWS(t, srv)

	resp := readUntilType(t, ws, "state")
	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected state data object, got %+v", resp)
	}
	events, ok := data["events"].([]any)
	if !ok || len(events) != 1 {
		t.Fatalf("expected 1 event in state snapshot, got %+v", data["events"])
	}
	statsData, ok := data["stats"].(map[string]any)
	if !ok || statsData["totalEvents"].(float64) != 5 {
		t.Fatalf("unexpected stats in state snapshot: %+v", data["stats"])
	}
}

// TestHub_ServesThroughLoggingMiddleware drives the WebSocket upgrade
// through logging.Middleware, the wrapper hub_test.go's other cases never
// exercise (they hit the Hub's ServeHTTP directly) — this is what would
// have caught the statusResponseWriter missing a Hijack passthrough.
func TestHub_ServesThroughLoggingMiddleware(t *testing.T) {
	core := &fakeCore{}
	hub := New(runtimesub.New(core, nil), nil, nil)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := httptest.NewServer(logging.Middleware(mux))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial through middleware: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]string{"type": "getRuntimeSubscription", "id": "req-mw"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readUntilType(t, ws, "ack")
	if resp["id"] != "req-mw" || resp["success"] != true {
		t.Fatalf("unexpected ack: %+v", resp)
	}
}
