// Package alerts implements AlertOutput: formatting a TwitterEvent into a
// human-readable message and delivering it to zero or more sinks with
// per-sink error isolation (spec §4.4/§4.9).
//
// FormatAlertMessage renders through github.com/yuin/goldmark (the
// teacher's Markdown renderer for long-form note content) and sanitizes
// any user-authored text first through github.com/microcosm-cc/bluemonday's
// strict policy, the same defense the teacher applies to untrusted Nostr
// content before it reaches a browser.
package alerts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"streamengine/internal/model"
)

var sanitizer = bluemonday.StrictPolicy()

// Sink delivers one formatted alert message. Implementations must treat
// ctx's deadline as authoritative and return promptly on cancellation.
type Sink interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// FormatAlertMessage renders a Markdown summary of event and returns the
// sanitized HTML. User-authored fields (tweet text, profile bio) are run
// through bluemonday's strict policy before being embedded in the
// Markdown, so no injected markup survives into the rendered message.
func FormatAlertMessage(event *model.TwitterEvent) (string, error) {
	md := buildMarkdown(event)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render alert markdown: %w", err)
	}
	return buf.String(), nil
}

func buildMarkdown(event *model.TwitterEvent) string {
	clean := func(s string) string { return sanitizer.Sanitize(s) }

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** by `%s`\n\n", event.Type, clean(event.User.Username))

	switch d := event.Data.(type) {
	case *model.PostData:
		fmt.Fprintf(&b, "- action: %s\n", clean(d.Action))
		if d.Tweet != nil {
			fmt.Fprintf(&b, "- text: %s\n", clean(d.Tweet.Body.Text))
		}
	case *model.ProfileData:
		fmt.Fprintf(&b, "- action: %s\n", clean(d.Action))
		if d.User != nil {
			fmt.Fprintf(&b, "- bio: %s\n", clean(d.User.Profile.Description.Text))
		}
	case *model.FollowingData:
		fmt.Fprintf(&b, "- action: %s\n", clean(d.Action))
		if d.Following != nil {
			fmt.Fprintf(&b, "- handle: %s\n", clean(d.Following.Handle))
		}
	}
	return b.String()
}

// ChannelStats is a thread-safe sent/failed counter pair for one sink.
type ChannelStats struct {
	sent   atomic.Int64
	failed atomic.Int64
}

// Dispatcher fans a formatted alert out to every registered sink,
// isolating one sink's failure from the others, and tracks per-sink
// counters for HealthMonitor's alerts block.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks map[string]Sink
	stats map[string]*ChannelStats
}

// NewDispatcher builds an empty Dispatcher; sinks are added with AddSink.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{sinks: make(map[string]Sink), stats: make(map[string]*ChannelStats)}
}

// AddSink registers a sink, replacing any prior sink with the same name.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[s.Name()] = s
	if _, ok := d.stats[s.Name()]; !ok {
		d.stats[s.Name()] = &ChannelStats{}
	}
}

// Dispatch formats event once and sends it to every sink concurrently,
// recovering from a panicking sink exactly like EventBus isolates a
// panicking handler, and recording per-sink sent/failed counts.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.TwitterEvent) {
	message, err := FormatAlertMessage(event)
	if err != nil {
		slog.Error("alerts: format failed", "error", err)
		return
	}

	d.mu.RLock()
	sinks := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		sinks = append(sinks, s)
	}
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			d.sendOne(ctx, s, message)
		}(s)
	}
	wg.Wait()
}

func (d *Dispatcher) sendOne(ctx context.Context, s Sink, message string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("alerts: sink panicked", "sink", s.Name(), "panic", r)
			d.recordFailure(s.Name())
		}
	}()

	if err := s.Send(ctx, message); err != nil {
		slog.Warn("alerts: sink delivery failed", "sink", s.Name(), "error", err)
		d.recordFailure(s.Name())
		return
	}
	d.recordSuccess(s.Name())
}

func (d *Dispatcher) recordSuccess(name string) {
	d.mu.RLock()
	st := d.stats[name]
	d.mu.RUnlock()
	if st != nil {
		st.sent.Add(1)
	}
}

func (d *Dispatcher) recordFailure(name string) {
	d.mu.RLock()
	st := d.stats[name]
	d.mu.RUnlock()
	if st != nil {
		st.failed.Add(1)
	}
}

// ChannelCounts is one sink's sent/failed pair, the value type of
// health.AlertCounters. It lives here so this package does not import
// internal/health (which imports this package).
type ChannelCounts struct {
	Sent   int64
	Failed int64
}

// AlertStats implements health.AlertCounters.
func (d *Dispatcher) AlertStats() map[string]ChannelCounts {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ChannelCounts, len(d.stats))
	for name, st := range d.stats {
		out[name] = ChannelCounts{Sent: st.sent.Load(), Failed: st.failed.Load()}
	}
	return out
}
