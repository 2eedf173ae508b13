package stream

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"streamengine/internal/model"
)

// RpcError is returned by SetRuntimeSubscription for an invariant
// violation (spec §4.5); the caller must not mutate state on this path.
type RpcError struct{ Message string }

func (e *RpcError) Error() string { return e.Message }

// GetRuntimeSubscription returns a defensive copy of the current state.
func (c *Core) GetRuntimeSubscription() model.RuntimeSubscriptionState {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.runtimeSub.Clone()
}

// SetRuntimeSubscription validates and applies a new channel/user set,
// causing StreamCore to drop its current connection and reconnect against
// the new candidates on the next loop iteration (Effect on StreamCore,
// spec §4.5).
func (c *Core) SetRuntimeSubscription(channels []model.Endpoint, users []string) (model.RuntimeSubscriptionState, error) {
	if len(channels) == 0 {
		return model.RuntimeSubscriptionState{}, &RpcError{Message: "Invalid channel: <empty>"}
	}
	for _, ch := range channels {
		valid := false
		for _, v := range model.ValidEndpoints() {
			if ch == v {
				valid = true
				break
			}
		}
		if !valid {
			return model.RuntimeSubscriptionState{}, &RpcError{Message: fmt.Sprintf("Invalid channel: %s", ch)}
		}
	}
	for _, u := range users {
		if strings.TrimSpace(u) == "" {
			return model.RuntimeSubscriptionState{}, &RpcError{Message: fmt.Sprintf("Invalid user: %q", u)}
		}
	}

	normChannels := normalizeCandidates(channels)
	normUsers := normalizeUsers(users)

	newState := model.RuntimeSubscriptionState{
		Channels:  normChannels,
		Users:     normUsers,
		Mode:      model.ModeActive,
		Source:    model.SourceRuntime,
		UpdatedAt: time.Now(),
	}

	c.subMu.Lock()
	c.runtimeSub = newState
	c.subMu.Unlock()

	c.candMu.Lock()
	c.candidates = normChannels
	c.candMu.Unlock()

	c.pipeline.SetUsers(normUsers)

	c.mu.Lock()
	c.generation++
	connCancel := c.connCancel
	c.mu.Unlock()
	if connCancel != nil {
		connCancel()
	}

	return newState.Clone(), nil
}

// normalizeCandidates enforces "all is mutually exclusive with the
// others": {all, X, ...} collapses to {all}. Order otherwise follows
// ValidEndpoints for determinism.
func normalizeCandidates(channels []model.Endpoint) []model.Endpoint {
	set := make(map[model.Endpoint]bool, len(channels))
	for _, ch := range channels {
		set[ch] = true
	}
	if set[model.EndpointAll] {
		return []model.Endpoint{model.EndpointAll}
	}
	out := make([]model.Endpoint, 0, len(set))
	for _, v := range model.ValidEndpoints() {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func normalizeUsers(users []string) []string {
	seen := make(map[string]bool, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		lower := strings.ToLower(strings.TrimSpace(u))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	sort.Strings(out)
	return out
}
