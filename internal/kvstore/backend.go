// Package kvstore provides a small byte-oriented TTL key/value abstraction
// with two interchangeable backends (in-process memory, Redis), so a caller
// that needs a bounded, expiring set of entries — DedupCache's fingerprint
// mirror — doesn't have to care which one is wired in a given deployment.
package kvstore

import (
	"context"
	"time"
)

// Backend is the contract both implementations satisfy. Every method takes
// a context so a caller can bound a slow Redis round trip.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	// Len reports the backend's best-effort count of live entries. Memory
	// backends return an exact count; Redis backends with a shared keyspace
	// may approximate via SCAN cost, so callers should treat this as
	// informational, not authoritative, for capacity decisions.
	Len(ctx context.Context) (int, error)
	Close() error
}

// Config selects and tunes a backend, mirroring the env-driven
// memory/Redis switch the rest of the pack uses for its own caches.
type Config struct {
	RedisURL        string // non-empty selects Redis; empty selects memory
	KeyPrefix       string
	MaxEntries      int
	CleanupInterval time.Duration
}

// Open builds the configured backend, falling back to memory if a Redis URL
// is set but the connection fails — an operator typo in REDIS_URL should
// degrade the dedup mirror to in-process, not crash startup.
func Open(cfg Config) (Backend, error) {
	if cfg.RedisURL == "" {
		return NewMemory(cfg.MaxEntries, cfg.CleanupInterval), nil
	}
	rc, err := NewRedis(cfg.RedisURL, cfg.KeyPrefix)
	if err != nil {
		return NewMemory(cfg.MaxEntries, cfg.CleanupInterval), err
	}
	return rc, nil
}
