// Package runtimesub implements the RuntimeSubscription control-plane RPC
// (spec §4.5): request/response pairs carried over the dashboard
// WebSocket, each with a single response callback and a 10s timeout.
// Grounded on batcher.go's waiter/timer pattern — one pending entry per
// in-flight request, removed exactly once whether it resolves or times
// out, so neither the map nor the timer leaks.
package runtimesub

import (
	"fmt"
	"sync"
	"time"

	"streamengine/internal/model"
)

// RequestTimeout is how long a caller waits before the request rejects
// with a timeout error.
const RequestTimeout = 10 * time.Second

// Core is the subset of StreamCore's contract this package depends on.
type Core interface {
	GetRuntimeSubscription() model.RuntimeSubscriptionState
	SetRuntimeSubscription(channels []model.Endpoint, users []string) (model.RuntimeSubscriptionState, error)
}

// Response is the ack-style callback payload: either Data is set (success)
// or Error is non-empty, never both.
type Response struct {
	Success bool   `json:"success,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// UpdateBroadcaster is notified with the full new state after every
// successful mutation, to implement the runtimeSubscriptionUpdated
// broadcast (spec §4.5); typically backed by the dashboard hub.
type UpdateBroadcaster interface {
	BroadcastRuntimeSubscriptionUpdated(model.RuntimeSubscriptionState)
}

type pendingCall struct {
	once sync.Once
	done chan struct{}
}

// Handler dispatches getRuntimeSubscription/setRuntimeSubscription
// requests against a Core and tracks in-flight calls for the timeout
// invariant.
type Handler struct {
	core        Core
	broadcaster UpdateBroadcaster

	mu      sync.Mutex
	pending map[string]*pendingCall
	seq     uint64
}

// New builds a Handler. broadcaster may be nil if no dashboard is wired.
func New(core Core, broadcaster UpdateBroadcaster) *Handler {
	return &Handler{
		core:        core,
		broadcaster: broadcaster,
		pending:     make(map[string]*pendingCall),
	}
}

// SetBroadcaster wires (or replaces) the broadcaster used after a
// successful mutation. Exists because the dashboard hub and this Handler
// each depend on the other at construction time — callers build the
// Handler with a nil broadcaster, construct the hub from it, then call
// SetBroadcaster once the hub exists.
func (h *Handler) SetBroadcaster(b UpdateBroadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = b
}

func (h *Handler) getBroadcaster() UpdateBroadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcaster
}

// PendingCount reports in-flight requests, which lets a caller check the
// "pending map empty after response or timeout" invariant.
func (h *Handler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func (h *Handler) register() (string, *pendingCall) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	id := fmt.Sprintf("rpc-%d", h.seq)
	pc := &pendingCall{done: make(chan struct{})}
	h.pending[id] = pc
	return id, pc
}

func (h *Handler) resolve(id string, pc *pendingCall) {
	pc.once.Do(func() {
		close(pc.done)
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	})
}

// GetRuntimeSubscription handles a getRuntimeSubscription request.
func (h *Handler) GetRuntimeSubscription() Response {
	id, pc := h.register()
	defer h.resolve(id, pc)

	resultCh := make(chan model.RuntimeSubscriptionState, 1)
	go func() { resultCh <- h.core.GetRuntimeSubscription() }()

	select {
	case state := <-resultCh:
		return Response{Success: true, Data: state}
	case <-time.After(RequestTimeout):
		return Response{Error: "timeout after 10000ms"}
	}
}

// SetRuntimeSubscription handles a setRuntimeSubscription request and
// broadcasts runtimeSubscriptionUpdated on success.
func (h *Handler) SetRuntimeSubscription(channels []model.Endpoint, users []string) Response {
	id, pc := h.register()
	defer h.resolve(id, pc)

	type result struct {
		state model.RuntimeSubscriptionState
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		state, err := h.core.SetRuntimeSubscription(channels, users)
		resultCh <- result{state, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return Response{Error: r.err.Error()}
		}
		if b := h.getBroadcaster(); b != nil {
			b.BroadcastRuntimeSubscriptionUpdated(r.state)
		}
		return Response{Success: true, Data: r.state}
	case <-time.After(RequestTimeout):
		return Response{Error: "timeout after 10000ms"}
	}
}
