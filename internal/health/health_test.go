package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamengine/internal/filter"
	"streamengine/internal/model"
)

type fakeStats struct{ stats model.Stats }

func (f fakeStats) GetStats() model.Stats { return f.stats }

type fakeFilterSource struct{ cfg filter.Config }

func (f fakeFilterSource) GetConfig() filter.Config { return f.cfg }

func TestSnapshot_ComputesRateAndDefaultsAlerts(t *testing.T) {
	stats := model.Stats{
		ConnectionStatus: model.StatusConnected,
		CurrentEndpoint:  model.EndpointAll,
		TotalEvents:      100,
		DeliveredEvents:  80,
		DedupedEvents:    20,
	}
	m := New(fakeStats{stats}, fakeFilterSource{filter.Config{Users: []string{"alice"}, Keywords: []string{"go"}}}, nil)
	m.startTime = time.Now().Add(-10 * time.Second)

	snap := m.Snapshot()
	if snap.Connection.Status != model.StatusConnected {
		t.Fatalf("unexpected connection status: %+v", snap.Connection)
	}
	if snap.Events.Total != 100 || snap.Events.Delivered != 80 || snap.Events.Deduped != 20 {
		t.Fatalf("unexpected events: %+v", snap.Events)
	}
	if snap.Events.Rate <= 0 {
		t.Fatalf("expected positive rate, got %v", snap.Events.Rate)
	}
	if snap.Alerts == nil || len(snap.Alerts) != 0 {
		t.Fatalf("expected defaulted empty alerts map, got %v", snap.Alerts)
	}
	if len(snap.Filters.Users) != 1 || snap.Filters.Users[0] != "alice" {
		t.Fatalf("unexpected filters: %+v", snap.Filters)
	}
}

func TestSnapshot_UptimeLessThanOneSecondDoesNotDivideByZero(t *testing.T) {
	stats := model.Stats{TotalEvents: 5}
	m := New(fakeStats{stats}, fakeFilterSource{}, nil)
	snap := m.Snapshot()
	if snap.Events.Rate != 5 {
		t.Fatalf("expected rate to use denom=1 when uptime<1s, got %v", snap.Events.Rate)
	}
}

func TestStatusHandler_ServesJSON(t *testing.T) {
	m := New(fakeStats{model.Stats{ConnectionStatus: model.StatusReconnecting}}, fakeFilterSource{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	m.StatusHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Connection.Status != model.StatusReconnecting {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestLiveHandler_ServesOK(t *testing.T) {
	m := New(fakeStats{}, fakeFilterSource{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	m.LiveHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}
