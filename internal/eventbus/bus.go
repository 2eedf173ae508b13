// Package eventbus implements EventBus: in-process publish/subscribe with
// named channels, error isolation, and synchronous per-publish dispatch
// (spec §4.4). Grounded on the teacher's ConfigReloadBroadcaster/
// CorrectionsBroadcaster pattern in sse.go — a per-topic subscriber map
// guarded by a mutex — generalized from two hardcoded topics to any
// caller-supplied channel name.
package eventbus

import (
	"log/slog"
	"strconv"
	"sync"

	"streamengine/internal/model"
)

// Handler receives one delivered event. A non-nil return or a panic is
// logged and isolated; it never reaches other handlers or the publisher.
type Handler func(model.TwitterEvent) error

type subscription struct {
	id      string
	channel string
	handler Handler
}

// Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscription // channel -> id -> sub
	nextID uint64
}

// Reserved channel names the core publishes on.
const (
	ChannelEvents = "events"
	ChannelAlerts = "alerts"
)

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[string]*subscription)}
}

// Subscribe registers handler on channel and returns a unique opaque id.
func (b *Bus) Subscribe(channel string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := "sub-" + strconv.FormatUint(b.nextID, 36)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[string]*subscription)
	}
	b.subs[channel][id] = &subscription{id: id, channel: channel, handler: handler}
	return id
}

// Unsubscribe removes a subscription by id; a no-op if the id is unknown,
// already removed, or belongs to a now-empty channel. Once this returns,
// that subscription will never receive another event — publish always
// takes its own lock after this one releases, so there is no window where
// a concurrent publish can still see the removed entry.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for channel, m := range b.subs {
		if _, ok := m[id]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(b.subs, channel)
			}
			return
		}
	}
}

// Clear removes every subscription on every channel.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[string]*subscription)
}

// Publish delivers event to every subscription currently bound to channel,
// in an unspecified order across subscriptions. It invokes each handler
// synchronously and returns once all have been called — it does not wait
// for a handler to do anything beyond returning, which is why handlers
// doing real I/O must hand off to their own worker. A handler's error or
// panic is logged with its subscription id and never stops subsequent
// handlers or future publishes.
func (b *Bus) Publish(channel string, event model.TwitterEvent) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs[channel]))
	for _, s := range b.subs[channel] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(s, event)
	}
}

func (b *Bus) invoke(s *subscription, event model.TwitterEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("eventbus: handler panicked", "subscription_id", s.id, "channel", s.channel, "panic", r)
		}
	}()
	if err := s.handler(event); err != nil {
		slog.Error("eventbus: handler returned error", "subscription_id", s.id, "channel", s.channel, "error", err)
	}
}

// SubscriberCount reports how many subscriptions are bound to channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
