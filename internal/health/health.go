// Package health implements HealthMonitor: a read-only HTTP status
// endpoint computed on demand from StreamCore's stats, FilterPipeline's
// config, and (optionally) AlertOutput's per-channel counters.
//
// Grounded on main.go's healthHandler/healthLiveHandler (JSON envelope,
// computed uptime; /status has no degraded or 503 response) and metrics.go's
// counter shape, here fed from model.Stats rather than per-relay state; the
// Prometheus-style /metrics view reuses those same counters alongside the
// HTTP request/error counts internal/logging's Middleware maintains.
package health

import (
	"fmt"
	"net/http"
	"time"

	"streamengine/internal/alerts"
	"streamengine/internal/filter"
	"streamengine/internal/logging"
	"streamengine/internal/model"
	"streamengine/internal/util"
)

// StatsSource is the subset of StreamCore's contract this package needs.
type StatsSource interface {
	GetStats() model.Stats
}

// FilterSource is the subset of FilterPipeline's contract this package needs.
type FilterSource interface {
	GetConfig() filter.Config
}

// AlertCounters is the optional per-channel sent/failed counts, defaulted
// to zero when no AlertOutput is wired (spec §4.7).
type AlertCounters interface {
	AlertStats() map[string]alerts.ChannelCounts
}

// connectionStatus mirrors the fields HealthStatus.connection reports.
type connectionStatus struct {
	Status   model.ConnectionStatus `json:"status"`
	Endpoint model.Endpoint         `json:"endpoint"`
	Uptime   int64                  `json:"uptime"`
}

type eventsStatus struct {
	Total     int64   `json:"total"`
	Delivered int64   `json:"delivered"`
	Deduped   int64   `json:"deduped"`
	Rate      float64 `json:"rate"`
}

type filtersStatus struct {
	Users    []string `json:"users"`
	Keywords []string `json:"keywords"`
}

// Status is the full HealthStatus schema (spec §3).
type Status struct {
	Connection connectionStatus                `json:"connection"`
	Events     eventsStatus                    `json:"events"`
	Alerts     map[string]alerts.ChannelCounts `json:"alerts"`
	Filters    filtersStatus                   `json:"filters"`
}

// Monitor serves /status and / over plain net/http handlers.
type Monitor struct {
	startTime time.Time
	stream    StatsSource
	filter    FilterSource
	alerts    AlertCounters // may be nil
}

// New builds a Monitor whose uptime clock starts now. alerts may be nil.
func New(stream StatsSource, filter FilterSource, alerts AlertCounters) *Monitor {
	return &Monitor{startTime: time.Now(), stream: stream, filter: filter, alerts: alerts}
}

// Snapshot computes the current HealthStatus on demand.
func (m *Monitor) Snapshot() Status {
	stats := m.stream.GetStats()
	uptime := int64(time.Since(m.startTime).Seconds())

	denom := uptime
	if denom < 1 {
		denom = 1
	}
	rate := float64(stats.TotalEvents) / float64(denom)
	rate = float64(int64(rate*100+0.5)) / 100 // round to 2 decimals

	alertCounts := map[string]alerts.ChannelCounts{}
	if m.alerts != nil {
		alertCounts = m.alerts.AlertStats()
	}

	fc := m.filter.GetConfig()

	return Status{
		Connection: connectionStatus{
			Status:   stats.ConnectionStatus,
			Endpoint: stats.CurrentEndpoint,
			Uptime:   uptime,
		},
		Events: eventsStatus{
			Total:     stats.TotalEvents,
			Delivered: stats.DeliveredEvents,
			Deduped:   stats.DedupedEvents,
			Rate:      rate,
		},
		Alerts: alertCounts,
		Filters: filtersStatus{
			Users:    fc.Users,
			Keywords: fc.Keywords,
		},
	}
}

// StatusHandler serves GET /status.
func (m *Monitor) StatusHandler(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.FromContext(r.Context()).Error("health: snapshot panicked", "panic", rec)
			util.RespondInternalError(w, "Failed to get status")
		}
	}()
	util.RespondJSON(w, http.StatusOK, m.Snapshot())
}

// LiveHandler serves GET / as a bare liveness probe.
func (m *Monitor) LiveHandler(w http.ResponseWriter, r *http.Request) {
	util.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "streamengine is running",
	})
}

// MetricsHandler serves GET /metrics: a small Prometheus-style text
// exposition sharing the same stats.Total/Delivered/Deduped counters
// StatusHandler reports, plus the HTTP request/error counters
// internal/logging's Middleware maintains.
func (m *Monitor) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	stats := m.stream.GetStats()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "streamengine_events_total %d\n", stats.TotalEvents)
	fmt.Fprintf(w, "streamengine_events_delivered %d\n", stats.DeliveredEvents)
	fmt.Fprintf(w, "streamengine_events_deduped %d\n", stats.DedupedEvents)
	fmt.Fprintf(w, "streamengine_events_skipped %d\n", stats.SkippedEvents)
	fmt.Fprintf(w, "streamengine_http_requests_total %d\n", logging.HTTPRequestsTotal())
	fmt.Fprintf(w, "streamengine_http_errors_total %d\n", logging.HTTPErrorsTotal())
}
