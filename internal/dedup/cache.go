// Package dedup implements DedupCache: a bounded, TTL-based at-most-once
// filter keyed by event fingerprints (spec §4.2).
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"streamengine/internal/kvstore"
	"streamengine/internal/model"
)

const (
	// MaxEntries is the hard capacity; oldest-by-first-seen entries are
	// evicted once it is exceeded.
	MaxEntries = 10_000
	// EntryTTL is how long a fingerprint is remembered.
	EntryTTL = 24 * time.Hour

	cleanupInterval = time.Minute
)

// Cache provides Seen/Clear. The atomicity guarantee ("concurrent seen
// calls on the same fingerprint: exactly one returns false") is enforced by
// a single mutex around the check-and-record step; an optional kvstore
// backend additionally mirrors entries for cross-instance visibility, but
// is never consulted for the atomic decision itself — only the local map
// is authoritative for that.
type Cache struct {
	mu         sync.Mutex
	firstSeen  map[string]time.Time
	maxEntries int
	ttl        time.Duration

	backend kvstore.Backend // optional; nil disables cross-instance mirroring

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithBackend mirrors fingerprints into a shared kvstore backend so a
// fleet of engine instances behind the same upstream observes a consistent
// (eventually) dedup decision — informational only, see type doc.
func WithBackend(b kvstore.Backend) Option {
	return func(c *Cache) { c.backend = b }
}

// New builds a Cache with MaxEntries/EntryTTL defaults and starts its
// background eviction loop. Callers must call Close.
func New(opts ...Option) *Cache {
	c := &Cache{
		firstSeen:  make(map[string]time.Time),
		maxEntries: MaxEntries,
		ttl:        EntryTTL,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanupLoop()
	return c
}

// Fingerprint derives the dedup key for an event: PrimaryID when non-empty,
// otherwise a content hash of (type, userId, timestamp, data).
func Fingerprint(e *model.TwitterEvent) string {
	if e.PrimaryID != "" {
		return e.PrimaryID
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%v", e.Type, e.User.UserID, e.Timestamp, e.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// Seen records fingerprint if not already present and reports whether it
// was already present. An empty fingerprint always bypasses dedup
// (returns false, never recorded) per spec §3 invariants.
func (c *Cache) Seen(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}

	c.mu.Lock()
	now := time.Now()
	if ts, ok := c.firstSeen[fingerprint]; ok && now.Sub(ts) < c.ttl {
		c.mu.Unlock()
		return true
	}
	c.firstSeen[fingerprint] = now
	if c.maxEntries > 0 && len(c.firstSeen) > c.maxEntries {
		c.evictOldestLocked(1)
	}
	c.mu.Unlock()

	if c.backend != nil {
		_ = c.backend.Set(context.Background(), fingerprint, []byte{1}, c.ttl)
	}
	return false
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.firstSeen = make(map[string]time.Time)
	c.mu.Unlock()
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.firstSeen)
}

func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evict()
		}
	}
}

// evict drops TTL-expired entries, then enforces maxEntries by removing the
// oldest-by-first-seen survivors.
func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, ts := range c.firstSeen {
		if now.Sub(ts) >= c.ttl {
			delete(c.firstSeen, k)
		}
	}

	if c.maxEntries > 0 && len(c.firstSeen) > c.maxEntries {
		c.evictOldestLocked(len(c.firstSeen) - c.maxEntries)
	}
}

// evictOldestLocked removes the n oldest-by-first-seen entries. Callers
// must hold c.mu. Used both by the periodic cleanupLoop and inline from
// Seen, so the map's size never transiently exceeds maxEntries between
// cleanup ticks.
func (c *Cache) evictOldestLocked(n int) {
	type keyed struct {
		key string
		ts  time.Time
	}
	live := make([]keyed, 0, len(c.firstSeen))
	for k, ts := range c.firstSeen {
		live = append(live, keyed{k, ts})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ts.Before(live[j].ts) })
	if n > len(live) {
		n = len(live)
	}
	for i := 0; i < n; i++ {
		delete(c.firstSeen, live[i].key)
	}
}
