package alerts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"streamengine/internal/logging"
)

const webhookTimeout = 10 * time.Second

// WebhookSink POSTs the formatted message to a fixed URL. Grounded on
// link_preview.go's tuned http.Client construction (explicit timeout,
// bounded idle-connection pool) — this is an illustrative sink exercising
// Sink and the dispatcher's error isolation, not a Telegram/Discord/Slack
// wire-protocol implementation (those are genuinely out of scope).
type WebhookSink struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookSink builds a WebhookSink named name posting to url.
func NewWebhookSink(name, url string) *WebhookSink {
	return &WebhookSink{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: webhookTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return w.name }

// Send implements Sink.
func (w *WebhookSink) Send(ctx context.Context, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBufferString(message))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes the message through internal/logging's request-scoped
// logger instead of an external service, giving the engine at least one
// sink that exercises Dispatch without any network dependency.
type LogSink struct {
	name string
}

// NewLogSink builds a LogSink named name.
func NewLogSink(name string) *LogSink { return &LogSink{name: name} }

// Name implements Sink.
func (l *LogSink) Name() string { return l.name }

// Send implements Sink.
func (l *LogSink) Send(ctx context.Context, message string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	logging.FromContext(ctx).Info("alert", "sink", l.name, "message", message)
	return nil
}
