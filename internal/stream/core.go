// Package stream implements StreamCore: the SSE client owning the
// upstream connection, dedup/filter gating, and bus publication (spec
// §4.1). Grounded on relay_pool.go's connection-reuse/readLoop shape and
// subscription_aggregator.go's persistent-subscription reconnect loop.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"streamengine/internal/dedup"
	"streamengine/internal/eventbus"
	"streamengine/internal/filter"
	"streamengine/internal/model"
	"streamengine/internal/ring"
	"streamengine/internal/util"
)

const (
	connectTimeout  = 20 * time.Second
	idleReadTimeout = 60 * time.Second
	stopGracePeriod = 1 * time.Second
)

// Config configures a Core instance.
type Config struct {
	BaseURL  string
	Token    string
	Endpoint model.Endpoint // sole initial candidate; SetRuntimeSubscription replaces the list
}

// Core owns the upstream SSE connection end to end.
type Core struct {
	cfg Config

	dedupCache *dedup.Cache
	pipeline   *filter.Pipeline
	bus        *eventbus.Bus
	ring       *ring.Ring
	httpClient *http.Client

	mu         sync.RWMutex
	running    bool
	cancel     context.CancelFunc
	connCancel context.CancelFunc
	generation int

	statsMu sync.RWMutex
	status  model.ConnectionStatus
	current model.Endpoint
	stats   model.Stats

	subMu      sync.RWMutex
	runtimeSub model.RuntimeSubscriptionState

	candMu     sync.RWMutex
	candidates []model.Endpoint

	wg sync.WaitGroup
}

// New builds a Core wired to its collaborators; none of them are started
// here — they're assumed already running (DedupCache's cleanup loop,
// etc.), per the topological construction order in SPEC_FULL.md §9.
func New(cfg Config, dedupCache *dedup.Cache, pipeline *filter.Pipeline, bus *eventbus.Bus, r *ring.Ring) *Core {
	c := &Core{
		cfg:        cfg,
		dedupCache: dedupCache,
		pipeline:   pipeline,
		bus:        bus,
		ring:       r,
		httpClient: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: connectTimeout}},
		status:     model.StatusDisconnected,
		candidates: normalizeCandidates([]model.Endpoint{cfg.Endpoint}),
		runtimeSub: model.RuntimeSubscriptionState{
			Channels:  normalizeCandidates([]model.Endpoint{cfg.Endpoint}),
			Users:     nil,
			Mode:      model.ModeIdle,
			Source:    model.SourceConfig,
			UpdatedAt: time.Now(),
		},
	}
	return c
}

// Start begins streaming. Idempotent when already running. It blocks
// synchronously until the first candidate succeeds or the first three
// candidates have all failed, in which case it returns a wrapped
// ErrConfig (or ErrAuth immediately, which is always fatal).
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	candidates := c.getCandidates()
	tries := len(candidates)
	if tries > 3 {
		tries = 3
	}

	var resp *http.Response
	var workingIdx int
	var lastErr error
	for i := 0; i < tries; i++ {
		r, err := c.dial(ctx, candidates[i])
		if err == nil {
			resp = r
			workingIdx = i
			break
		}
		if IsAuthError(err) {
			return err
		}
		lastErr = err
	}
	if resp == nil {
		return fmt.Errorf("%w: no reachable endpoint among first %d candidates: %v", ErrConfig, tries, lastErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.StartTime = time.Now()
	c.statsMu.Unlock()

	c.wg.Add(1)
	go c.runLoop(runCtx, workingIdx, resp)
	return nil
}

// Stop ceases streaming, cancelling the active read within ~1s and
// waiting for the reconnect loop to exit.
func (c *Core) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !util.RunWithTimeoutCtx(stopGracePeriod, func(context.Context) { c.wg.Wait() }) {
		slog.Warn("stream: reconnect loop did not exit within the stop grace period")
	}
	c.setStatus(model.StatusDisconnected)
}

// runLoop drives the reconnect cycle. warm, when non-nil, is an
// already-established connection for candidates[startIdx] handed down by
// Start's synchronous probe — consumed on the first iteration instead of
// dialing again, so the probed connection isn't wasted.
func (c *Core) runLoop(ctx context.Context, startIdx int, warm *http.Response) {
	defer c.wg.Done()

	idx := startIdx
	retries := 0
	generation := c.getGeneration()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if g := c.getGeneration(); g != generation {
			generation = g
			idx = 0
			retries = 0
			warm = nil
		}

		candidates := c.getCandidates()
		if idx >= len(candidates) {
			idx = 0
		}
		endpoint := candidates[idx]
		c.setCurrentEndpoint(endpoint)

		var resp *http.Response
		var err error
		if warm != nil {
			resp, warm = warm, nil
		} else {
			resp, err = c.dial(ctx, endpoint)
		}
		if err != nil {
			if IsAuthError(err) {
				slog.Error("stream: fatal auth error, stopping", "error", err)
				return
			}
			slog.Warn("stream: connect failed", "endpoint", endpoint, "error", err)
			retries++
			if !c.sleepBackoff(ctx, retries-1) {
				return
			}
			if retries >= maxRetriesPerEndpoint {
				idx = (idx + 1) % len(candidates)
				retries = 0
			}
			continue
		}

		retries = 0
		c.setStatus(model.StatusConnected)
		connCtx, connCancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.connCancel = connCancel
		c.mu.Unlock()

		err = c.consume(connCtx, resp)
		connCancel()
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err != nil {
			if IsAuthError(err) {
				slog.Error("stream: fatal auth error mid-stream, stopping", "error", err)
				return
			}
			slog.Warn("stream: disconnected", "endpoint", endpoint, "error", err)
		}
		c.setStatus(model.StatusReconnecting)

		retries++
		if !c.sleepBackoff(ctx, retries-1) {
			return
		}
		if retries >= maxRetriesPerEndpoint {
			idx = (idx + 1) % len(candidates)
			retries = 0
		}
	}
}

func (c *Core) sleepBackoff(ctx context.Context, attempt int) bool {
	d := backoff(attempt)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Core) dial(ctx context.Context, endpoint model.Endpoint) (*http.Response, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/sse/" + string(endpoint)
	if !isEndpointSafe(url) {
		return nil, fmt.Errorf("%w: endpoint %q rejected by SSRF guard", ErrConfig, url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientTransport, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrTransientTransport, resp.StatusCode)
	}
	return resp, nil
}

// consume reads frames until the connection closes, the idle timeout
// fires, or ctx is cancelled. Returns nil only on a clean ctx cancellation.
func (c *Core) consume(ctx context.Context, resp *http.Response) error {
	reader := newSSEReader(resp.Body)
	frameCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for {
			data, err := reader.next()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case frameCh <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	idle := time.NewTimer(idleReadTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
			return fmt.Errorf("%w: idle read timeout", ErrTransientTransport)
		case err := <-errCh:
			if err == io.EOF {
				return fmt.Errorf("%w: stream closed by peer", ErrTransientTransport)
			}
			return fmt.Errorf("%w: %v", ErrTransientTransport, err)
		case data := <-frameCh:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleReadTimeout)
			c.handleFrame(data)
		}
	}
}

func (c *Core) handleFrame(raw string) {
	c.incTotal()

	event, err := parseFrame(raw)
	if err != nil {
		c.incSkipped()
		slog.Debug("stream: skipping malformed frame", "error", err)
		return
	}

	fp := dedup.Fingerprint(event)
	if c.dedupCache.Seen(fp) {
		c.incDeduped()
		return
	}

	if !c.pipeline.ShouldDisplayEvent(event) {
		return
	}

	c.incDelivered()
	c.ring.Add(*event)
	c.bus.Publish(eventbus.ChannelEvents, *event)
	c.bus.Publish(eventbus.ChannelAlerts, *event)
}

// GetStats returns a snapshot of the running counters.
func (c *Core) GetStats() model.Stats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *Core) setStatus(s model.ConnectionStatus) {
	c.statsMu.Lock()
	c.stats.ConnectionStatus = s
	c.statsMu.Unlock()
}

func (c *Core) setCurrentEndpoint(e model.Endpoint) {
	c.statsMu.Lock()
	c.stats.CurrentEndpoint = e
	c.statsMu.Unlock()
}

func (c *Core) incTotal()     { c.statsMu.Lock(); c.stats.TotalEvents++; c.statsMu.Unlock() }
func (c *Core) incDelivered() { c.statsMu.Lock(); c.stats.DeliveredEvents++; c.statsMu.Unlock() }
func (c *Core) incDeduped()   { c.statsMu.Lock(); c.stats.DedupedEvents++; c.statsMu.Unlock() }
func (c *Core) incSkipped()   { c.statsMu.Lock(); c.stats.SkippedEvents++; c.statsMu.Unlock() }

func (c *Core) getCandidates() []model.Endpoint {
	c.candMu.RLock()
	defer c.candMu.RUnlock()
	return append([]model.Endpoint(nil), c.candidates...)
}

func (c *Core) getGeneration() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}
