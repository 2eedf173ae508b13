// Package config loads the engine's startup configuration: environment
// variables with a JSON-file override and a SIGHUP-reloadable global,
// mirroring the teacher's relays_config.go/client.go pattern (sync.Once +
// sync.RWMutex + env-var + Reload*) generalized from Nostr client/relay
// settings to this engine's upstream/dashboard/alert settings.
package config

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"streamengine/internal/model"
)

// Config is the engine's full runtime configuration.
type Config struct {
	// APIfyToken is the bearer token sent to both the upstream SSE feed and
	// the active-users companion endpoint.
	APIfyToken string `json:"apifyToken"`
	// APIfyActorURL is the base URL both endpoints are resolved against.
	APIfyActorURL string `json:"apifyActorUrl"`
	// Endpoint is the first channel candidate StreamCore tries.
	Endpoint model.Endpoint `json:"endpoint"`
	// Users seeds the FilterPipeline user filter at startup.
	Users []string `json:"users"`
	// Keywords seeds the FilterPipeline keyword filter at startup.
	Keywords []string `json:"keywords"`
	// DashboardEnabled toggles the WebSocket hub.
	DashboardEnabled bool `json:"dashboardEnabled"`
	// AlertsEnabled toggles alert sink delivery.
	AlertsEnabled bool `json:"alertsEnabled"`
	// RedisURL, when set, gives DedupCache a Redis kvstore backend as its
	// cross-instance mirror. ActiveUsersFetcher does not use it.
	RedisURL string `json:"redisUrl"`
	// HealthAddr is the listen address for HealthMonitor.
	HealthAddr string `json:"healthAddr"`
}

// Default returns the engine's built-in defaults, used whenever no
// environment variable or config file overrides a field.
func Default() Config {
	return Config{
		APIfyActorURL:    "https://api.example.com",
		Endpoint:         model.EndpointAll,
		DashboardEnabled: true,
		AlertsEnabled:    true,
		HealthAddr:       ":8080",
	}
}

var (
	current     Config
	currentMu   sync.RWMutex
	currentOnce sync.Once
)

// Get returns the current configuration, loading it on first call.
func Get() Config {
	currentOnce.Do(func() {
		currentMu.Lock()
		defer currentMu.Unlock()
		current = load()
	})
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// Reload re-reads the environment and config file, replacing the global
// configuration. Intended to be wired to SIGHUP, matching the teacher's
// reload-on-signal convention.
func Reload() {
	next := load()
	currentMu.Lock()
	current = next
	currentMu.Unlock()
	slog.Info("configuration reloaded", "endpoint", next.Endpoint, "token_fingerprint", TokenFingerprint(next.APIfyToken))
}

func load() Config {
	cfg := Default()

	path := os.Getenv("STREAMENGINE_CONFIG")
	if path == "" {
		path = "config/streamengine.json"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Error("invalid JSON in config file, keeping defaults for affected fields", "path", path, "error", err)
		}
	} else if !os.IsNotExist(err) {
		slog.Warn("could not read config file, using defaults/env", "path", path, "error", err)
	}

	if v := os.Getenv("APIFY_TOKEN"); v != "" {
		cfg.APIfyToken = v
	}
	if v := os.Getenv("APIFY_ACTOR_URL"); v != "" {
		cfg.APIfyActorURL = v
	}
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.Endpoint = model.Endpoint(v)
	}
	if v := os.Getenv("USERS"); v != "" {
		cfg.Users = splitAndTrim(v)
	}
	if v := os.Getenv("KEYWORDS"); v != "" {
		cfg.Keywords = splitAndTrim(v)
	}
	if v := os.Getenv("DASHBOARD_ENABLED"); v != "" {
		cfg.DashboardEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ALERTS_ENABLED"); v != "" {
		cfg.AlertsEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}

	if cfg.APIfyToken == "" {
		slog.Warn("APIFY_TOKEN not configured; upstream requests will be unauthenticated")
	}

	return cfg
}

func splitAndTrim(s string) []string {
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if t := strings.TrimSpace(r); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// TokenFingerprint returns a short blake2b-based fingerprint of a bearer
// token suitable for log correlation across deployments without ever
// logging the token itself. Empty input returns an empty fingerprint.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
