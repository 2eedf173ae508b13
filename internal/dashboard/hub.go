// Package dashboard implements the WebSocket transport the spec treats as
// an external collaborator (§6): a Socket.IO-compatible message shape for
// event/state/runtimeSubscriptionUpdated broadcasts plus
// getRuntimeSubscription/setRuntimeSubscription request/response pairs.
//
// Grounded on relay_pool.go's RelayConn: one reader goroutine per
// connection, a registry of connections guarded by a mutex, and a
// buffered per-connection send channel so one slow client can't block a
// broadcast to the rest.
package dashboard

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"streamengine/internal/model"
	"streamengine/internal/runtimesub"
)

const (
	sendBufferSize = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RingSource supplies the delivered-event ring snapshot sent to a client
// on connect. Backed by *ring.Ring in production wiring.
type RingSource interface {
	Snapshot() []model.TwitterEvent
}

// StatsSource supplies the running-counter snapshot sent alongside the
// ring on connect. Backed by *stream.Core in production wiring.
type StatsSource interface {
	GetStats() model.Stats
}

// stateData is the payload of the "state" message sent to each client right
// after connect (spec §6), and again to every client by BroadcastState.
type stateData struct {
	Events []model.TwitterEvent `json:"events"`
	Stats  model.Stats          `json:"stats"`
}

// inbound is the shape of a client->hub request.
type inbound struct {
	Type     string           `json:"type"`
	ID       string           `json:"id"`
	Channels []model.Endpoint `json:"channels,omitempty"`
	Users    []string         `json:"users,omitempty"`
}

// outbound is the shape of a hub->client message, covering both acks
// (ID set) and broadcasts (ID empty).
type outbound struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type client struct {
	ws   *websocket.Conn
	send chan outbound
}

// Hub registers WebSocket connections and fans broadcasts out to all of
// them, dispatching requests to a runtimesub.Handler.
type Hub struct {
	rpc   *runtimesub.Handler
	ring  RingSource  // may be nil
	stats StatsSource // may be nil

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New builds a Hub backed by rpc for RuntimeSubscription requests. ring
// and stats feed the "state" message sent to each client on connect;
// either may be nil, in which case that part of the snapshot is empty.
func New(rpc *runtimesub.Handler, ring RingSource, stats StatsSource) *Hub {
	return &Hub{rpc: rpc, ring: ring, stats: stats, clients: make(map[*client]struct{})}
}

// ServeHTTP upgrades the request to a WebSocket, sends the initial "state"
// snapshot, and registers the connection until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("dashboard: upgrade failed", "error", err)
		return
	}

	c := &client{ws: ws, send: make(chan outbound, sendBufferSize)}
	h.register(c)
	h.trySend(c, h.stateMessage())

	go h.writePump(c)
	h.readPump(c)
}

// stateMessage builds the "state" snapshot a newly connected client
// receives, closing the spec §6 interface and giving internal/ring a
// production reader.
func (h *Hub) stateMessage() outbound {
	data := stateData{}
	if h.ring != nil {
		data.Events = h.ring.Snapshot()
	}
	if h.stats != nil {
		data.Stats = h.stats.GetStats()
	}
	return outbound{Type: "state", Data: data}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inbound
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		h.handleRequest(c, msg)
	}
}

func (h *Hub) handleRequest(c *client, msg inbound) {
	switch msg.Type {
	case "getRuntimeSubscription":
		resp := h.rpc.GetRuntimeSubscription()
		h.sendAck(c, msg.ID, resp)
	case "setRuntimeSubscription":
		resp := h.rpc.SetRuntimeSubscription(msg.Channels, msg.Users)
		h.sendAck(c, msg.ID, resp)
	default:
		h.trySend(c, outbound{Type: "error", ID: msg.ID, Error: "unrecognised request type"})
	}
}

func (h *Hub) sendAck(c *client, id string, resp runtimesub.Response) {
	h.trySend(c, outbound{Type: "ack", ID: id, Success: resp.Success, Data: resp.Data, Error: resp.Error})
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend is a non-blocking send: a client whose buffer is full is
// dropped rather than allowed to stall the broadcast loop.
func (h *Hub) trySend(c *client, msg outbound) {
	select {
	case c.send <- msg:
	default:
		slog.Warn("dashboard: client send buffer full, dropping connection")
		go h.unregister(c)
	}
}

func (h *Hub) broadcast(msg outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.trySend(c, msg)
	}
}

// BroadcastEvent implements the "event" broadcast fed by EventBus delivery.
func (h *Hub) BroadcastEvent(event model.TwitterEvent) {
	h.broadcast(outbound{Type: "event", Data: event})
}

// BroadcastState implements the periodic "state" broadcast, re-sending
// the same ring+stats snapshot stateMessage gives new connections to
// every already-connected client.
func (h *Hub) BroadcastState() {
	h.broadcast(h.stateMessage())
}

// BroadcastRuntimeSubscriptionUpdated implements runtimesub.UpdateBroadcaster.
func (h *Hub) BroadcastRuntimeSubscriptionUpdated(state model.RuntimeSubscriptionState) {
	h.broadcast(outbound{Type: "runtimeSubscriptionUpdated", Data: state})
}

// ConnectionCount reports the number of registered clients, for tests and
// diagnostics.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
