// Package activeusers implements ActiveUsersFetcher: a periodic pull that
// keeps an "interesting users" list fresh against a companion HTTP
// endpoint, falling back to the last good list on any failure.
//
// Grounded on singleflight.go's fetchProfiles coalescing (concurrent fetch
// callers share one HTTP round trip) and the teacher's cache TTL-map shape
// for the stale-cache fallback.
package activeusers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshInterval is how often StartPeriodicRefresh fetches when
	// no interval is supplied.
	DefaultRefreshInterval = 60 * time.Second
	fetchTimeout           = 10 * time.Second
)

// FilterUpdater receives the fresh user list after every successful fetch.
// Backed by *filter.Pipeline in production wiring.
type FilterUpdater interface {
	SetUsers(users []string)
}

// Fetcher polls {baseURL}/active-users and maintains a stale-tolerant cache.
type Fetcher struct {
	baseURL string
	token   string
	client  *http.Client
	filter  FilterUpdater

	group singleflight.Group

	mu    sync.RWMutex
	cache []string

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// New builds a Fetcher. filter may be nil if no FilterPipeline is wired.
func New(baseURL, token string, filter FilterUpdater) *Fetcher {
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: fetchTimeout},
		filter:  filter,
	}
}

// Fetch performs one GET against the active-users endpoint. On success it
// replaces the cache and returns the new list; on any failure it returns
// the last-cached list (an empty slice if there has never been one).
func (f *Fetcher) Fetch(ctx context.Context) []string {
	result, _, shared := f.group.Do("active-users", func() (any, error) {
		return f.fetchDirect(ctx), nil
	})
	if shared {
		slog.Debug("activeusers: shared fetch with a concurrent caller")
	}
	return result.([]string)
}

func (f *Fetcher) fetchDirect(ctx context.Context) []string {
	users, err := f.doFetch(ctx)
	if err != nil {
		slog.Warn("activeusers: fetch failed, serving stale cache", "error", err)
		return f.GetCached()
	}

	f.mu.Lock()
	f.cache = users
	f.mu.Unlock()

	if f.filter != nil {
		f.filter.SetUsers(users)
	}
	return append([]string(nil), users...)
}

func (f *Fetcher) doFetch(ctx context.Context) ([]string, error) {
	url := f.baseURL + "/active-users"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	users, err := parseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return users, nil
}

// GetCached returns a defensive copy of the current cache.
func (f *Fetcher) GetCached() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.cache == nil {
		return []string{}
	}
	return append([]string(nil), f.cache...)
}

// StartPeriodicRefresh runs an immediate fetch, then repeats at interval
// (DefaultRefreshInterval when interval <= 0) regardless of individual
// failures, until StopPeriodicRefresh is called or ctx is done.
func (f *Fetcher) StartPeriodicRefresh(ctx context.Context, interval time.Duration) {
	f.runMu.Lock()
	if f.running {
		f.runMu.Unlock()
		return
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.runMu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.Fetch(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			case <-ticker.C:
				f.Fetch(ctx)
			}
		}
	}()
}

// StopPeriodicRefresh cancels the next wake-up; an in-flight fetch is
// allowed to complete.
func (f *Fetcher) StopPeriodicRefresh() {
	f.runMu.Lock()
	if !f.running {
		f.runMu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	f.runMu.Unlock()
	f.wg.Wait()
}

// parseResponse accepts any of the shapes spec §4.6 permits:
// a bare string array, {users:[]}, {usernames:[], ...}, or an array of
// {username: ...} objects. Any other shape is a parse failure.
func parseResponse(body []byte) ([]string, error) {
	var bareArray []string
	if err := json.Unmarshal(body, &bareArray); err == nil {
		return bareArray, nil
	}

	var objArray []struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &objArray); err == nil && len(objArray) > 0 {
		out := make([]string, 0, len(objArray))
		for _, o := range objArray {
			if o.Username != "" {
				out = append(out, o.Username)
			}
		}
		return out, nil
	}

	var wrapped struct {
		Users     []string `json:"users"`
		Usernames []string `json:"usernames"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Users != nil {
			return wrapped.Users, nil
		}
		if wrapped.Usernames != nil {
			return wrapped.Usernames, nil
		}
	}

	return nil, fmt.Errorf("unrecognised active-users response shape")
}
